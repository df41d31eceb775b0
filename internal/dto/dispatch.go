package dto

import (
	"time"

	"github.com/Additional-Code/hvacops/internal/entity"
)

// AssignRequest names the assignee for a dispatch or repair.
type AssignRequest struct {
	AssigneeID int64 `json:"assignee_id" validate:"required,gt=0"`
}

// RespondRequest carries an assignee's decision.
type RespondRequest struct {
	AssigneeID int64  `json:"assignee_id" validate:"required,gt=0"`
	Decision   string `json:"decision" validate:"required,oneof=accept decline"`
}

// ActorRequest identifies the staff member performing a step.
type ActorRequest struct {
	ActorID int64 `json:"actor_id" validate:"required,gt=0"`
}

// DispatchResponse represents a dispatch.
type DispatchResponse struct {
	ID           int64      `json:"dispatch_id"`
	OrderID      int64      `json:"order_id"`
	UserID       int64      `json:"user_id"`
	DriverID     *int64     `json:"driver_id"`
	Status       string     `json:"status"`
	DriverStatus string     `json:"driver_status"`
	DispatchDate time.Time  `json:"dispatch_date"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

// NewDispatchResponse maps a dispatch entity.
func NewDispatchResponse(d *entity.Dispatch) DispatchResponse {
	if d == nil {
		return DispatchResponse{}
	}
	return DispatchResponse{
		ID:           d.ID,
		OrderID:      d.OrderID,
		UserID:       d.UserID,
		DriverID:     d.DriverID,
		Status:       string(d.Status),
		DriverStatus: string(d.DriverStatus),
		DispatchDate: d.DispatchDate,
		CompletedAt:  d.CompletedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// NewDispatchList maps a slice of dispatches.
func NewDispatchList(rows []entity.Dispatch) []DispatchResponse {
	out := make([]DispatchResponse, 0, len(rows))
	for i := range rows {
		out = append(out, NewDispatchResponse(&rows[i]))
	}
	return out
}

// NewUserList maps a slice of users.
func NewUserList(users []entity.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, UserResponse{ID: u.ID, FullName: u.FullName, Email: u.Email, Phone: u.Phone, Role: string(u.Role)})
	}
	return out
}

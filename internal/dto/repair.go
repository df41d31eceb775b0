package dto

import (
	"time"

	"github.com/Additional-Code/hvacops/internal/entity"
)

// RequestRepairRequest opens a repair ticket.
type RequestRepairRequest struct {
	CustomerID  int64  `json:"customer_id" validate:"required,gt=0"`
	ProductID   *int64 `json:"product_id" validate:"omitempty,gt=0"`
	ServiceID   *int64 `json:"service_id" validate:"omitempty,gt=0"`
	Description string `json:"description" validate:"max=2000"`
}

// MaterialRequest names the material issued to a repair.
type MaterialRequest struct {
	MaterialID int64 `json:"material_id" validate:"required,gt=0"`
}

// RepairResponse represents a repair ticket.
type RepairResponse struct {
	ID                int64     `json:"id"`
	CustomerID        int64     `json:"customer_id"`
	ProductID         *int64    `json:"product_id,omitempty"`
	ServiceID         *int64    `json:"service_id,omitempty"`
	Description       string    `json:"description"`
	TechnicianID      *int64    `json:"technician_id"`
	SupervisorID      *int64    `json:"supervisor_id"`
	Status            string    `json:"status"`
	TechnicianStatus  string    `json:"technician_status"`
	FinanceStatus     string    `json:"finance_status"`
	MaterialsAssigned *int64    `json:"materials_assigned"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewRepairResponse maps a repair entity.
func NewRepairResponse(r *entity.Repair) RepairResponse {
	return RepairResponse{
		ID:                r.ID,
		CustomerID:        r.CustomerID,
		ProductID:         r.ProductID,
		ServiceID:         r.ServiceID,
		Description:       r.Description,
		TechnicianID:      r.TechnicianID,
		SupervisorID:      r.SupervisorID,
		Status:            string(r.Status),
		TechnicianStatus:  string(r.TechnicianStatus),
		FinanceStatus:     string(r.FinanceStatus),
		MaterialsAssigned: r.MaterialsAssigned,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// NewRepairList maps a slice of repairs.
func NewRepairList(rows []entity.Repair) []RepairResponse {
	out := make([]RepairResponse, 0, len(rows))
	for i := range rows {
		out = append(out, NewRepairResponse(&rows[i]))
	}
	return out
}

package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// DispatchStatus is the delivery progress of a dispatch.
type DispatchStatus string

const (
	DispatchPending    DispatchStatus = "pending"
	DispatchAssigned   DispatchStatus = "assigned"
	DispatchDispatched DispatchStatus = "dispatched"
	DispatchComplete   DispatchStatus = "complete"
)

// AssigneeStatus is the response of an assigned driver or technician.
type AssigneeStatus string

const (
	AssigneePending  AssigneeStatus = "pending"
	AssigneeAccepted AssigneeStatus = "accepted"
	AssigneeDeclined AssigneeStatus = "declined"
)

// Decision is an assignee's answer to an assignment.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionAccept || d == DecisionDecline
}

// Outcome maps a decision onto the assignee status it produces.
func (d Decision) Outcome() AssigneeStatus {
	if d == DecisionAccept {
		return AssigneeAccepted
	}
	return AssigneeDeclined
}

// Dispatch is the delivery assignment created once an order is approved.
type Dispatch struct {
	bun.BaseModel `bun:"table:dispatches"`

	ID           int64          `bun:"id,pk,autoincrement" json:"dispatch_id"`
	OrderID      int64          `bun:"order_id,notnull,unique" json:"order_id"`
	UserID       int64          `bun:"user_id,notnull" json:"user_id"`
	DriverID     *int64         `bun:"driver_id" json:"driver_id"`
	Status       DispatchStatus `bun:"status,notnull" json:"status"`
	DriverStatus AssigneeStatus `bun:"driver_status,notnull" json:"driver_status"`
	DispatchDate time.Time      `bun:"dispatch_date,nullzero" json:"dispatch_date"`
	CompletedAt  *time.Time     `bun:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time      `bun:"updated_at,nullzero" json:"updated_at"`
}

// Open reports whether the dispatch still occupies its driver.
func (d *Dispatch) Open() bool {
	return d.DriverID != nil && d.Status != DispatchComplete && d.DriverStatus != AssigneeDeclined
}

// AssignedTo reports whether the dispatch is assigned to driverID.
func (d *Dispatch) AssignedTo(driverID int64) bool {
	return d.DriverID != nil && *d.DriverID == driverID
}

package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// RepairStatus is the work progress of a repair ticket.
type RepairStatus string

const (
	RepairPending    RepairStatus = "pending"
	RepairAssigned   RepairStatus = "assigned"
	RepairInProgress RepairStatus = "inprogress"
	RepairCompleted  RepairStatus = "completed"
)

// RepairFinanceStatus is the finance review track of a repair.
type RepairFinanceStatus string

const (
	RepairFinancePending  RepairFinanceStatus = "pending"
	RepairFinanceApproved RepairFinanceStatus = "approved"
)

// Repair is a service ticket requested by a customer.
type Repair struct {
	bun.BaseModel `bun:"table:repairs"`

	ID                int64               `bun:"id,pk,autoincrement" json:"id"`
	CustomerID        int64               `bun:"customer_id,notnull" json:"customer_id"`
	ProductID         *int64              `bun:"product_id" json:"product_id,omitempty"`
	ServiceID         *int64              `bun:"service_id" json:"service_id,omitempty"`
	Description       string              `bun:"description" json:"description"`
	TechnicianID      *int64              `bun:"technician_id" json:"technician_id"`
	SupervisorID      *int64              `bun:"supervisor_id" json:"supervisor_id"`
	Status            RepairStatus        `bun:"status,notnull" json:"status"`
	TechnicianStatus  AssigneeStatus      `bun:"technician_status,notnull" json:"technician_status"`
	FinanceStatus     RepairFinanceStatus `bun:"finance_status,notnull" json:"finance_status"`
	MaterialsAssigned *int64              `bun:"materials_assigned" json:"materials_assigned"`
	CreatedAt         time.Time           `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time           `bun:"updated_at,nullzero" json:"updated_at"`
}

// AssignedTo reports whether the repair is assigned to technicianID.
func (r *Repair) AssignedTo(technicianID int64) bool {
	return r.TechnicianID != nil && *r.TechnicianID == technicianID
}

package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// PaymentStatus records whether the customer paid at checkout.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// FinanceApproval is the finance review outcome gating dispatch creation.
type FinanceApproval string

const (
	FinancePending  FinanceApproval = "pending"
	FinanceApproved FinanceApproval = "approved"
	FinanceDeclined FinanceApproval = "declined"
)

// ApprovalStage marks how far the approval saga progressed for an order.
type ApprovalStage string

const (
	StageNone            ApprovalStage = "none"
	StageFinanceApproved ApprovalStage = "finance_approved"
	StageDispatchCreated ApprovalStage = "dispatch_created"
	StageLedgerPosted    ApprovalStage = "ledger_posted"
)

var stageRank = map[ApprovalStage]int{
	StageNone:            0,
	StageFinanceApproved: 1,
	StageDispatchCreated: 2,
	StageLedgerPosted:    3,
}

// Reached reports whether s is at or past other.
func (s ApprovalStage) Reached(other ApprovalStage) bool {
	return stageRank[s] >= stageRank[other]
}

// Order is a single product-line purchase made by a customer.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID              int64           `bun:"id,pk,autoincrement" json:"id"`
	CustomerID      int64           `bun:"customer_id,notnull" json:"customer_id"`
	ProductID       int64           `bun:"product_id,notnull" json:"product_id"`
	Quantity        int             `bun:"quantity,notnull" json:"quantity"`
	UnitPrice       decimal.Decimal `bun:"unit_price,type:numeric(14,2)" json:"unit_price"`
	TotalAmount     decimal.Decimal `bun:"total_amount,type:numeric(14,2)" json:"total_amount"`
	DeliveryAddress string          `bun:"delivery_address" json:"delivery_address"`
	PaymentMethod   string          `bun:"payment_method" json:"payment_method"`
	PaymentStatus   PaymentStatus   `bun:"payment_status,notnull" json:"payment_status"`
	FinanceApproval FinanceApproval `bun:"finance_approval,notnull" json:"finance_approval"`
	ApprovalStage   ApprovalStage   `bun:"approval_stage,notnull" json:"approval_stage"`
	CreatedAt       time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time       `bun:"updated_at,nullzero" json:"updated_at"`
}

// LineTotal is unit price times quantity.
func (o *Order) LineTotal() decimal.Decimal {
	return o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

// ApprovalComplete reports whether every approval side effect was recorded.
func (o *Order) ApprovalComplete() bool {
	return o.FinanceApproval == FinanceApproved && o.ApprovalStage.Reached(StageLedgerPosted)
}

package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// PaymentType is the direction of a ledger entry.
type PaymentType string

const (
	PaymentIncoming PaymentType = "incoming"
	PaymentOutgoing PaymentType = "outgoing"
)

// Valid reports whether p is a known payment type.
func (p PaymentType) Valid() bool {
	return p == PaymentIncoming || p == PaymentOutgoing
}

// Signed returns amount with the sign implied by the payment type.
func (p PaymentType) Signed(amount decimal.Decimal) decimal.Decimal {
	if p == PaymentOutgoing {
		return amount.Neg()
	}
	return amount
}

// FinancialRecord is one append-only ledger entry.
type FinancialRecord struct {
	bun.BaseModel `bun:"table:financial_records"`

	ID          int64           `bun:"id,pk,autoincrement" json:"id"`
	Seq         int64           `bun:"seq,notnull,unique" json:"seq"`
	OrderID     *int64          `bun:"order_id" json:"order_id"`
	PaymentType PaymentType     `bun:"payment_type,notnull" json:"payment_type"`
	Amount      decimal.Decimal `bun:"amount,type:numeric(14,2)" json:"amount"`
	Balance     decimal.Decimal `bun:"balance,type:numeric(14,2)" json:"balance"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

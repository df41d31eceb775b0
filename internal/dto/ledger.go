package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/hvacops/internal/entity"
)

// LedgerEntry represents one financial record.
type LedgerEntry struct {
	ID          int64           `json:"id"`
	Seq         int64           `json:"seq"`
	OrderID     *int64          `json:"order_id"`
	PaymentType string          `json:"payment_type"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
	CreatedAt   time.Time       `json:"created_at"`
}

// BalanceResponse carries the authoritative ledger balance.
type BalanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

// NewLedgerEntry maps a financial record.
func NewLedgerEntry(r *entity.FinancialRecord) LedgerEntry {
	if r == nil {
		return LedgerEntry{}
	}
	return LedgerEntry{
		ID:          r.ID,
		Seq:         r.Seq,
		OrderID:     r.OrderID,
		PaymentType: string(r.PaymentType),
		Amount:      r.Amount,
		Balance:     r.Balance,
		CreatedAt:   r.CreatedAt,
	}
}

// NewLedgerEntries maps a slice of financial records.
func NewLedgerEntries(rows []entity.FinancialRecord) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(rows))
	for i := range rows {
		out = append(out, NewLedgerEntry(&rows[i]))
	}
	return out
}

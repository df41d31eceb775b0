package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/hvacops/internal/entity"
)

// Mismatch is an entry whose balance does not follow from its predecessor.
type Mismatch struct {
	Seq      int64           `json:"seq"`
	Recorded decimal.Decimal `json:"recorded"`
	Expected decimal.Decimal `json:"expected"`
}

// Report is the outcome of an audit over the whole log.
type Report struct {
	Entries    int             `json:"entries"`
	Balance    decimal.Decimal `json:"balance"`
	Computed   decimal.Decimal `json:"computed"`
	Gaps       []int64         `json:"gaps,omitempty"`
	Mismatches []Mismatch      `json:"mismatches,omitempty"`
}

// OK reports whether the log is consistent.
func (r *Report) OK() bool {
	return len(r.Gaps) == 0 && len(r.Mismatches) == 0 && r.Balance.Equal(r.Computed)
}

// Verify recomputes running balances over the log.
func (s *Service) Verify(ctx context.Context) (*Report, error) {
	rows, err := s.Entries(ctx, 0)
	if err != nil {
		return nil, err
	}
	return audit(rows), nil
}

func audit(rows []entity.FinancialRecord) *Report {
	report := &Report{Entries: len(rows), Balance: decimal.Zero, Computed: decimal.Zero}
	prevBalance := decimal.Zero
	var prevSeq int64
	for _, row := range rows {
		for missing := prevSeq + 1; missing < row.Seq; missing++ {
			report.Gaps = append(report.Gaps, missing)
		}
		signed := row.PaymentType.Signed(row.Amount)
		expected := prevBalance.Add(signed)
		if !row.Balance.Equal(expected) {
			report.Mismatches = append(report.Mismatches, Mismatch{Seq: row.Seq, Recorded: row.Balance, Expected: expected})
		}
		report.Computed = report.Computed.Add(signed)
		prevBalance = row.Balance
		prevSeq = row.Seq
	}
	if n := len(rows); n > 0 {
		report.Balance = rows[n-1].Balance
	}
	return report
}

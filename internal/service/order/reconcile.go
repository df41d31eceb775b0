package order

import (
	"context"

	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/store"
	"github.com/Additional-Code/hvacops/internal/workflow"
	"github.com/Additional-Code/hvacops/pkg/errorbank"
)

// ReconcileReport lists the interrupted approvals a reconcile pass touched.
type ReconcileReport struct {
	Resumed []int64          `json:"resumed"`
	Failed  map[int64]string `json:"failed,omitempty"`
}

// ReconcileApprovals resumes every approved order whose approval did not finish.
func (s *Service) ReconcileApprovals(ctx context.Context) (*ReconcileReport, error) {
	stuck, err := store.List[entity.Order](ctx, s.store, store.Orders,
		store.Where("finance_approval", entity.FinanceApproved).Ne("approval_stage", entity.StageLedgerPosted))
	if err != nil {
		return nil, workflow.Transient("list_incomplete_approvals", err, nil)
	}

	report := &ReconcileReport{Resumed: []int64{}}
	for _, o := range stuck {
		if _, err := s.ApproveOrder(ctx, o.ID); err != nil {
			if report.Failed == nil {
				report.Failed = make(map[int64]string)
			}
			report.Failed[o.ID] = errorbank.From(err).Message()
			continue
		}
		report.Resumed = append(report.Resumed, o.ID)
	}
	if len(stuck) > 0 {
		s.logger.Info("approval reconcile finished",
			zap.Int("resumed", len(report.Resumed)),
			zap.Int("failed", len(report.Failed)),
		)
	}
	return report, nil
}

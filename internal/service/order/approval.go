package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/Additional-Code/hvacops/internal/entity"
	"github.com/Additional-Code/hvacops/internal/events"
	"github.com/Additional-Code/hvacops/internal/store"
	"github.com/Additional-Code/hvacops/internal/workflow"
)

// Approval steps named in partial failure details.
const (
	StepApprove        = "approve_order"
	StepCreateDispatch = "create_dispatch"
	StepPostLedger     = "post_ledger_entry"
)

// ApprovalResult carries the records an approval produced.
type ApprovalResult struct {
	Order    *entity.Order           `json:"order"`
	Dispatch *entity.Dispatch        `json:"dispatch"`
	Entry    *entity.FinancialRecord `json:"ledger_entry"`
	Resumed  bool                    `json:"resumed"`
}

// ApproveOrder approves a pending order, creates its dispatch and posts the
// incoming payment. The steps are separate writes; progress is kept in
// approval_stage and an interrupted approval is resumed by calling ApproveOrder
// again.
func (s *Service) ApproveOrder(ctx context.Context, id int64) (*ApprovalResult, error) {
	var result *ApprovalResult
	err := s.exec.Run(ctx, s.orderOp("approve_order", id), func(ctx context.Context) (string, error) {
		var err error
		result, err = s.approve(ctx, id)
		if err != nil {
			return "", err
		}
		if result.Resumed {
			return fmt.Sprintf("order %d approval resumed and completed, dispatch %d", id, result.Dispatch.ID), nil
		}
		return fmt.Sprintf("order %d approved, dispatch %d created", id, result.Dispatch.ID), nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) approve(ctx context.Context, id int64) (*ApprovalResult, error) {
	order, err := store.Get[entity.Order](ctx, s.store, store.Orders, id)
	if err != nil {
		return nil, workflow.Load("order", id, err)
	}
	details := map[string]any{"order_id": id}

	result := &ApprovalResult{Order: order}
	switch {
	case order.FinanceApproval == entity.FinancePending:
		if !order.TotalAmount.IsPositive() {
			return nil, workflow.Rejected("order %d has no payable amount", id)
		}
		if err := s.store.Update(ctx, store.Orders, id, store.Patch{
			"finance_approval": entity.FinanceApproved,
			"approval_stage":   entity.StageFinanceApproved,
			"updated_at":       s.now(),
		}); err != nil {
			return nil, workflow.Transient(StepApprove, err, details)
		}
		order.FinanceApproval = entity.FinanceApproved
		order.ApprovalStage = entity.StageFinanceApproved
	case order.FinanceApproval == entity.FinanceApproved && !order.ApprovalComplete():
		result.Resumed = true
		if !order.ApprovalStage.Reached(entity.StageFinanceApproved) {
			order.ApprovalStage = entity.StageFinanceApproved
		}
	default:
		return nil, workflow.Rejected("order %d is already %s", id, order.FinanceApproval)
	}
	s.invalidate(ctx, id)

	dispatch, err := s.ensureDispatch(ctx, order)
	if err != nil {
		return nil, workflow.Partial(StepCreateDispatch, string(order.ApprovalStage), err, details)
	}
	result.Dispatch = dispatch
	details["dispatch_id"] = dispatch.ID
	if !order.ApprovalStage.Reached(entity.StageDispatchCreated) {
		if err := s.setStage(ctx, order, entity.StageDispatchCreated); err != nil {
			return nil, workflow.Partial(StepCreateDispatch, string(order.ApprovalStage), err, details)
		}
	}

	entry, err := s.ensureLedgerEntry(ctx, order)
	if err != nil {
		return nil, workflow.Partial(StepPostLedger, string(order.ApprovalStage), err, details)
	}
	result.Entry = entry
	if err := s.setStage(ctx, order, entity.StageLedgerPosted); err != nil {
		return nil, workflow.Partial(StepPostLedger, string(order.ApprovalStage), err, details)
	}
	s.invalidate(ctx, id)

	s.publisher.Publish(ctx, workflowName, events.OrderApproved, id, map[string]any{
		"dispatch_id": dispatch.ID,
		"ledger_seq":  entry.Seq,
		"amount":      order.TotalAmount,
		"resumed":     result.Resumed,
	})
	return result, nil
}

// ensureDispatch returns the order's dispatch, creating it when absent. A unique
// key conflict means another writer created it first.
func (s *Service) ensureDispatch(ctx context.Context, order *entity.Order) (*entity.Dispatch, error) {
	existing, err := store.First[entity.Dispatch](ctx, s.store, store.Dispatches, store.Where("order_id", order.ID))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	d := &entity.Dispatch{
		OrderID:      order.ID,
		UserID:       order.CustomerID,
		Status:       entity.DispatchPending,
		DriverStatus: entity.AssigneePending,
		DispatchDate: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.store.Insert(ctx, store.Dispatches, d)
	if errors.Is(err, store.ErrConflict) {
		return store.First[entity.Dispatch](ctx, s.store, store.Dispatches, store.Where("order_id", order.ID))
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) ensureLedgerEntry(ctx context.Context, order *entity.Order) (*entity.FinancialRecord, error) {
	return s.ledger.AppendOnce(ctx, order.ID, entity.PaymentIncoming, order.TotalAmount)
}

func (s *Service) setStage(ctx context.Context, order *entity.Order, stage entity.ApprovalStage) error {
	now := s.now()
	if err := s.store.Update(ctx, store.Orders, order.ID, store.Patch{
		"approval_stage": stage,
		"updated_at":     now,
	}); err != nil {
		return err
	}
	order.ApprovalStage = stage
	order.UpdatedAt = now
	return nil
}

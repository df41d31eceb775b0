package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/config"
	ordersvc "github.com/Additional-Code/hvacops/internal/service/order"
)

// Reconciler periodically resumes interrupted order approvals.
type Reconciler struct {
	orders   *ordersvc.Service
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler constructs a Reconciler. A non-positive interval disables it.
func NewReconciler(cfg config.Config, orders *ordersvc.Service, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{orders: orders, interval: cfg.Workflow.ReconcileInterval, logger: logger}
}

// Start launches the reconcile loop.
func (r *Reconciler) Start(context.Context) error {
	if r.interval <= 0 {
		r.logger.Info("approval reconciler disabled")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx)
	}()
	r.logger.Info("approval reconciler started", zap.Duration("interval", r.interval))
	return nil
}

// Stop ends the loop and waits for an in-flight pass.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Reconciler) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconcile pass.
func (r *Reconciler) RunOnce(ctx context.Context) *ordersvc.ReconcileReport {
	report, err := r.orders.ReconcileApprovals(ctx)
	if err != nil {
		r.logger.Warn("approval reconcile failed", zap.Error(err))
		return nil
	}
	for id, msg := range report.Failed {
		r.logger.Warn("approval still incomplete", zap.Int64("order_id", id), zap.String("reason", msg))
	}
	return report
}

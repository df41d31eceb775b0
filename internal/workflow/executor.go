// Package workflow runs order, repair and ledger operations with their shared
// side effects: row locks, tracing, metrics and outcome notifications.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/lock"
	"github.com/Additional-Code/hvacops/internal/notify"
	"github.com/Additional-Code/hvacops/internal/observability"
	"github.com/Additional-Code/hvacops/pkg/errorbank"
)

var tracer = otel.Tracer("github.com/Additional-Code/hvacops/workflow")

// Module provides the Executor to Fx.
var Module = fx.Provide(NewExecutor)

// Operation describes one workflow transition.
type Operation struct {
	Workflow string
	Name     string
	// Locks are obtained in sorted order before the operation runs.
	Locks []string
	Attrs []attribute.KeyValue
}

// Func performs an operation and returns the success notification message.
type Func func(ctx context.Context) (string, error)

// Params collects Executor dependencies.
type Params struct {
	fx.In

	Locker  lock.Locker
	Sink    notify.Sink
	Metrics *observability.WorkflowMetrics `optional:"true"`
	Logger  *zap.Logger
}

// Executor runs operations.
type Executor struct {
	locker  lock.Locker
	sink    notify.Sink
	metrics *observability.WorkflowMetrics
	logger  *zap.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(p Params) *Executor {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := p.Sink
	if sink == nil {
		sink = notify.Fanout{}
	}
	return &Executor{locker: p.Locker, sink: sink, metrics: p.Metrics, logger: logger}
}

// Run executes fn under op's locks and reports the outcome.
func (e *Executor) Run(ctx context.Context, op Operation, fn Func) error {
	start := time.Now()
	attrs := append([]attribute.KeyValue{
		attribute.String("workflow", op.Workflow),
		attribute.String("operation", op.Name),
	}, op.Attrs...)
	ctx, span := tracer.Start(ctx, fmt.Sprintf("workflow.%s.%s", op.Workflow, op.Name), trace.WithAttributes(attrs...))
	defer span.End()

	release, err := e.acquire(ctx, op.Locks)
	if err != nil {
		return e.fail(ctx, span, op, start, err)
	}
	defer release()

	message, err := fn(ctx)
	if err != nil {
		return e.fail(ctx, span, op, start, err)
	}

	e.metrics.RecordOperation(ctx, op.Workflow, op.Name, "success", time.Since(start))
	if message != "" {
		e.sink.Notify(ctx, message, notify.Success)
	}
	return nil
}

func (e *Executor) acquire(ctx context.Context, keys []string) (func(), error) {
	if e.locker == nil || len(keys) == 0 {
		return func() {}, nil
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	leases := make([]lock.Lease, 0, len(sorted))
	release := func() {
		releaseCtx := context.WithoutCancel(ctx)
		for i := len(leases) - 1; i >= 0; i-- {
			if err := leases[i].Release(releaseCtx); err != nil {
				e.logger.Warn("release workflow lock", zap.String("key", sorted[i]), zap.Error(err))
			}
		}
	}
	for _, key := range sorted {
		lease, err := e.locker.Obtain(ctx, key)
		if err != nil {
			release()
			return nil, errorbank.Unavailable(fmt.Sprintf("%s is busy, retry shortly", key),
				errorbank.WithCause(err),
				errorbank.WithDetail(errorbank.DetailStep, "lock"),
			)
		}
		leases = append(leases, lease)
	}
	return release, nil
}

func (e *Executor) fail(ctx context.Context, span trace.Span, op Operation, start time.Time, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = errorbank.Unavailable("operation cancelled", errorbank.WithCause(err))
	}
	appErr := errorbank.From(err)
	severity := Severity(appErr)

	span.RecordError(err)
	span.SetStatus(codes.Error, string(appErr.Kind()))
	e.metrics.RecordOperation(ctx, op.Workflow, op.Name, string(appErr.Kind()), time.Since(start))

	message := fmt.Sprintf("%s failed: %s", op.Name, appErr.Message())
	fields := []zap.Field{
		zap.String("workflow", op.Workflow),
		zap.String("operation", op.Name),
		zap.String("kind", string(appErr.Kind())),
		zap.Error(err),
	}
	if step, ok := appErr.Detail(errorbank.DetailStep); ok {
		message = fmt.Sprintf("%s failed at %v: %s", op.Name, step, appErr.Message())
		fields = append(fields, zap.Any("step", step))
		if appErr.Kind() == errorbank.KindPartialFailure {
			e.metrics.RecordPartialFailure(ctx, op.Workflow, fmt.Sprint(step))
		}
	}
	if severity == notify.Danger {
		e.logger.Error("workflow operation failed", fields...)
	} else {
		e.logger.Info("workflow operation rejected", fields...)
	}

	e.sink.Notify(ctx, message, severity)
	return err
}

// Severity maps an error onto the notification severity it is reported with.
func Severity(appErr *errorbank.AppError) notify.Severity {
	switch appErr.Kind() {
	case errorbank.KindBadRequest, errorbank.KindUnprocessableEntity, errorbank.KindNotFound, errorbank.KindConflict:
		return notify.Warning
	default:
		return notify.Danger
	}
}

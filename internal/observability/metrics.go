package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/Additional-Code/hvacops/workflow"

// WorkflowMetrics records workflow outcomes. A nil receiver records nothing.
type WorkflowMetrics struct {
	operations    metric.Int64Counter
	partials      metric.Int64Counter
	ledgerAppends metric.Int64Counter
	duration      metric.Float64Histogram
}

// NewWorkflowMetrics registers instruments on the global meter provider.
func NewWorkflowMetrics() (*WorkflowMetrics, error) {
	return NewWorkflowMetricsWithMeter(otel.Meter(meterName))
}

// NewWorkflowMetricsWithMeter registers instruments on meter.
func NewWorkflowMetricsWithMeter(meter metric.Meter) (*WorkflowMetrics, error) {
	operations, err := meter.Int64Counter("workflow_operations_total",
		metric.WithDescription("Workflow operations by outcome"))
	if err != nil {
		return nil, err
	}
	partials, err := meter.Int64Counter("workflow_partial_failures_total",
		metric.WithDescription("Multi-step operations that stopped after committing a step"))
	if err != nil {
		return nil, err
	}
	appends, err := meter.Int64Counter("ledger_appends_total",
		metric.WithDescription("Ledger entries appended"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("workflow_operation_duration_seconds",
		metric.WithDescription("Workflow operation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &WorkflowMetrics{
		operations:    operations,
		partials:      partials,
		ledgerAppends: appends,
		duration:      duration,
	}, nil
}

// RecordOperation counts one finished operation.
func (m *WorkflowMetrics) RecordOperation(ctx context.Context, workflow, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	m.operations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordPartialFailure counts an operation that stopped after step.
func (m *WorkflowMetrics) RecordPartialFailure(ctx context.Context, workflow, step string) {
	if m == nil {
		return
	}
	m.partials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("step", step),
	))
}

// RecordLedgerAppend counts an appended ledger entry.
func (m *WorkflowMetrics) RecordLedgerAppend(ctx context.Context, paymentType string, attempts int) {
	if m == nil {
		return
	}
	m.ledgerAppends.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_type", paymentType),
		attribute.Int("attempts", attempts),
	))
}

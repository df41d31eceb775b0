package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestWorkflowMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewWorkflowMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordOperation(ctx, "order", "approve_order", "success", 10*time.Millisecond)
	m.RecordOperation(ctx, "order", "approve_order", "partial_failure", time.Millisecond)
	m.RecordPartialFailure(ctx, "order", "create_dispatch")
	m.RecordLedgerAppend(ctx, "incoming", 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[md.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), totals["workflow_operations_total"])
	assert.Equal(t, int64(1), totals["workflow_partial_failures_total"])
	assert.Equal(t, int64(1), totals["ledger_appends_total"])
}

func TestNilWorkflowMetricsIsSafe(t *testing.T) {
	var m *WorkflowMetrics
	assert.NotPanics(t, func() {
		m.RecordOperation(context.Background(), "repair", "assign_technician", "success", 0)
		m.RecordPartialFailure(context.Background(), "repair", "x")
		m.RecordLedgerAppend(context.Background(), "outgoing", 2)
	})
}

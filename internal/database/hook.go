package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// queryLogger reports failed and slow statements. Successful fast queries are
// logged at debug.
type queryLogger struct {
	logger *zap.Logger
	slow   time.Duration
}

var _ bun.QueryHook = (*queryLogger)(nil)

func newQueryLogger(logger *zap.Logger, role string, slow time.Duration) *queryLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &queryLogger{logger: logger.Named("db").With(zap.String("pool", role)), slow: slow}
}

func (h *queryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	took := time.Since(event.StartTime)
	fields := []zap.Field{
		zap.String("operation", event.Operation()),
		zap.Duration("duration", took),
	}

	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		h.logger.Warn("query failed", append(fields, zap.String("query", event.Query), zap.Error(event.Err))...)
	case h.slow > 0 && took >= h.slow:
		h.logger.Warn("slow query", append(fields, zap.String("query", event.Query))...)
	default:
		h.logger.Debug("query", fields...)
	}
}

package workflow

import (
	"context"
	"encoding/json"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/config"
	"github.com/Additional-Code/hvacops/internal/events"
	"github.com/Additional-Code/hvacops/internal/messaging"
	"github.com/Additional-Code/hvacops/internal/notify"
	"github.com/Additional-Code/hvacops/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/hvacops/worker/workflow")

// Module registers workflow event consumers and the approval reconciler.
var Module = fx.Module("worker_workflow",
	fx.Provide(
		NewEventLog,
		fx.Annotate(
			NewEventHandler,
			fx.ResultTags(`group:"worker.handlers,flatten"`),
		),
		NewReconciler,
	),
	fx.Invoke(func(lc fx.Lifecycle, r *Reconciler) {
		lc.Append(fx.Hook{OnStart: r.Start, OnStop: r.Stop})
	}),
)

// EventLog tallies consumed workflow events by type.
type EventLog struct {
	mu     sync.Mutex
	counts map[events.Type]int
}

// NewEventLog returns an empty EventLog.
func NewEventLog() *EventLog {
	return &EventLog{counts: make(map[events.Type]int)}
}

func (l *EventLog) add(t events.Type) {
	l.mu.Lock()
	l.counts[t]++
	l.mu.Unlock()
}

// Count returns how many events of type t were consumed.
func (l *EventLog) Count(t events.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[t]
}

type notificationData struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// NewEventHandler sets up a worker handler that records workflow events in the
// service log, registered on the base topic and every routed workflow topic.
func NewEventHandler(logger *zap.Logger, cfg config.Config, log *EventLog) []worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		_, span := workerTracer.Start(ctx, "worker.workflow.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
		defer span.End()

		evt, err := events.Decode(msg)
		if err != nil {
			logger.Error("failed to decode workflow event", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}
		span.SetAttributes(attribute.String("event.type", string(evt.Type)))
		log.add(evt.Type)

		if evt.Type == events.Notification {
			var n notificationData
			if err := json.Unmarshal(evt.Data, &n); err != nil {
				logger.Warn("malformed notification event", zap.Error(err))
				return nil
			}
			if n.Severity == string(notify.Danger) {
				logger.Warn("workflow failure notified", zap.String("message", n.Message))
			}
			return nil
		}

		logger.Info("workflow event processed",
			zap.String("type", string(evt.Type)),
			zap.String("workflow", evt.Workflow),
			zap.Int64("entity_id", evt.EntityID),
			zap.Time("occurred_at", evt.OccurredAt),
		)
		return nil
	}

	router := messaging.NewRouter(cfg.Messaging.Kafka.Topic, cfg.Messaging.Kafka.Routes)
	topics := router.Topics()
	regs := make([]worker.HandlerRegistration, 0, len(topics))
	for _, topic := range topics {
		regs = append(regs, worker.HandlerRegistration{Topic: topic, Handler: handler})
	}
	return regs
}

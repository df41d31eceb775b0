// Package notify delivers one-way workflow outcome notifications.
package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/config"
	"github.com/Additional-Code/hvacops/internal/events"
)

// Severity grades a notification.
type Severity string

const (
	Success Severity = "success"
	Warning Severity = "warning"
	Danger  Severity = "danger"
)

// Sink receives notifications. Delivery is fire-and-forget.
type Sink interface {
	Notify(ctx context.Context, message string, severity Severity)
}

// Module provides the configured Sink to Fx.
var Module = fx.Provide(New)

// New selects sinks from NOTIFY_DRIVER.
func New(cfg config.Config, logger *zap.Logger, publisher *events.Publisher) (Sink, error) {
	switch cfg.Workflow.NotifyDriver {
	case "", "log":
		return NewLogSink(logger), nil
	case "bus":
		return NewBusSink(publisher), nil
	case "both":
		return Fanout{NewLogSink(logger), NewBusSink(publisher)}, nil
	default:
		return nil, fmt.Errorf("unsupported notify driver: %s", cfg.Workflow.NotifyDriver)
	}
}

// LogSink writes notifications to the application log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("notify")}
}

func (s *LogSink) Notify(_ context.Context, message string, severity Severity) {
	field := zap.String("severity", string(severity))
	switch severity {
	case Danger:
		s.logger.Error(message, field)
	case Warning:
		s.logger.Warn(message, field)
	default:
		s.logger.Info(message, field)
	}
}

// BusSink publishes notifications as bus events.
type BusSink struct {
	publisher *events.Publisher
}

// NewBusSink constructs a BusSink.
func NewBusSink(publisher *events.Publisher) *BusSink {
	return &BusSink{publisher: publisher}
}

type payload struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (s *BusSink) Notify(ctx context.Context, message string, severity Severity) {
	s.publisher.Publish(ctx, "notify", events.Notification, 0, payload{Message: message, Severity: severity})
}

// Fanout forwards to every sink in order.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, message string, severity Severity) {
	for _, s := range f {
		if s != nil {
			s.Notify(ctx, message, severity)
		}
	}
}

// Notification is a recorded delivery.
type Notification struct {
	Message  string
	Severity Severity
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu  sync.Mutex
	all []Notification
}

func (r *Recorder) Notify(_ context.Context, message string, severity Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, Notification{Message: message, Severity: severity})
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.all...)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.all) == 0 {
		return Notification{}, false
	}
	return r.all[len(r.all)-1], true
}

// Count returns how many notifications carried severity.
func (r *Recorder) Count(severity Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.all {
		if item.Severity == severity {
			n++
		}
	}
	return n
}

// Reset drops recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.all = nil
	r.mu.Unlock()
}

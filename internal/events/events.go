// Package events publishes workflow domain events on the message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/messaging"
)

// Type names a domain event.
type Type string

const (
	OrderPlaced   Type = "order.placed"
	OrderApproved Type = "order.approved"
	OrderDeclined Type = "order.declined"

	DispatchAssigned  Type = "dispatch.assigned"
	DispatchAccepted  Type = "dispatch.accepted"
	DispatchDeclined  Type = "dispatch.declined"
	DispatchCompleted Type = "dispatch.completed"

	RepairRequested          Type = "repair.requested"
	RepairAssigned           Type = "repair.assigned"
	RepairAccepted           Type = "repair.accepted"
	RepairDeclined           Type = "repair.declined"
	RepairStarted            Type = "repair.started"
	RepairMaterialsAssigned  Type = "repair.materials_assigned"
	RepairCompleted          Type = "repair.completed"
	RepairSupervisorApproved Type = "repair.supervisor_approved"
	RepairFinanceApproved    Type = "repair.finance_approved"

	LedgerEntryAppended Type = "ledger.entry_appended"

	Notification Type = "notification"
)

// HeaderType carries the event type on bus messages.
const HeaderType = "event-type"

// Event is the bus envelope.
type Event struct {
	Type       Type            `json:"type"`
	Workflow   string          `json:"workflow"`
	EntityID   int64           `json:"entity_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Decode parses a bus message into an Event.
func Decode(msg messaging.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if evt.Type == "" {
		if t, ok := msg.Headers[HeaderType]; ok {
			evt.Type = Type(t)
		}
	}
	return evt, nil
}

// Module provides the event Publisher to Fx.
var Module = fx.Provide(NewPublisher)

// Publisher writes events to the bus. Publish failures are logged and never
// fail the calling operation. A nil Publisher drops events.
type Publisher struct {
	client messaging.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher constructs a Publisher.
func NewPublisher(client messaging.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Publish emits an event for entityID carrying data.
func (p *Publisher) Publish(ctx context.Context, workflow string, typ Type, entityID int64, data any) {
	if p == nil || p.client == nil {
		return
	}
	evt := Event{Type: typ, Workflow: workflow, EntityID: entityID, OccurredAt: p.now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			p.logger.Error("marshal event data", zap.String("type", string(typ)), zap.Error(err))
			return
		}
		evt.Data = raw
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("marshal event", zap.String("type", string(typ)), zap.Error(err))
		return
	}
	key := []byte(fmt.Sprintf("%s-%d", workflow, entityID))
	headers := map[string]string{HeaderType: string(typ), messaging.HeaderRoute: workflow}
	if err := p.client.Publish(ctx, key, payload, headers); err != nil {
		p.logger.Warn("publish event failed",
			zap.String("type", string(typ)),
			zap.Int64("entity_id", entityID),
			zap.Error(err),
		)
	}
}

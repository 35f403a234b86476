package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ApexLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const eventsStream = "APEX_LEDGER_EVENTS"

// OutboundPublisher publishes ledger events for downstream consumers
// (notifications, reporting). Subjects follow
// apex.ledger.events.{event_type}.{user_id}. Publishing is best-effort:
// the ledger mutation is already committed, and downstream consumers can
// rebuild from the store.
type OutboundPublisher struct {
	js      jetstream.JetStream
	log     zerolog.Logger
	metrics *observability.Metrics
}

// LedgerEvent is the outbound envelope.
type LedgerEvent struct {
	EventType string      `json:"event_type"`
	UserID    uuid.UUID   `json:"user_id"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, log zerolog.Logger, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{js: js, log: log, metrics: metrics}
}

// PublishLedgerEvent implements engine.Publisher.
func (p *OutboundPublisher) PublishLedgerEvent(ctx context.Context, eventType string, userID uuid.UUID, payload interface{}) {
	evt := LedgerEvent{
		EventType: eventType,
		UserID:    userID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(evt)
	if err != nil {
		p.metrics.PublishDrops.Inc()
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("marshal outbound event")
		return
	}

	subject := fmt.Sprintf("apex.ledger.events.%s.%s", eventType, userID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.metrics.PublishDrops.Inc()
		p.log.Warn().Err(err).Str("subject", subject).Msg("outbound publish failed")
	}
}

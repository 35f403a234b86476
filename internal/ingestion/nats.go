package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ApexLedger/internal/engine"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	depositStream  = "APEX_DEPOSITS"
	depositSubject = "apex.deposits.approved"
	depositDurable = "ledger-deposits"
)

// DepositNotice is the JSON shape the payment back office publishes when a
// deposit is approved.
type DepositNotice struct {
	Reference string          `json:"reference"`
	UserID    uuid.UUID       `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// DepositConsumer feeds approved deposit notices into the engine. Crediting
// is idempotent on the deposit reference, so at-least-once delivery is safe.
type DepositConsumer struct {
	js       jetstream.JetStream
	eng      *engine.Engine
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewDepositConsumer(js jetstream.JetStream, eng *engine.Engine, log zerolog.Logger) *DepositConsumer {
	return &DepositConsumer{js: js, eng: eng, log: log}
}

// Start creates the durable consumer and begins processing.
func (c *DepositConsumer) Start(ctx context.Context) error {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, depositStream, jetstream.ConsumerConfig{
		Durable:       depositDurable,
		FilterSubject: depositSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", depositDurable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", depositDurable, err)
	}

	c.consumer = cc
	c.log.Info().Str("subject", depositSubject).Msg("deposit consumer started")
	return nil
}

func (c *DepositConsumer) handle(ctx context.Context, msg jetstream.Msg) {
	var notice DepositNotice
	if err := json.Unmarshal(msg.Data(), &notice); err != nil {
		// Malformed notice will never parse on redelivery either.
		c.log.Error().Err(err).Msg("dropping malformed deposit notice")
		msg.Term()
		return
	}

	result, err := c.eng.CreditDeposit(ctx, notice.UserID, notice.Reference, notice.Amount)
	if err != nil {
		c.log.Warn().Err(err).Str("reference", notice.Reference).Msg("deposit credit failed, will redeliver")
		msg.Nak()
		return
	}

	if !result.Credited {
		c.log.Debug().Str("reference", notice.Reference).Msg("deposit already credited")
	}
	msg.Ack()
}

// Stop gracefully stops the consumer.
func (c *DepositConsumer) Stop() {
	if c.consumer != nil {
		c.consumer.Stop()
	}
}

// EnsureStreams creates the JetStream streams the service depends on.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      depositStream,
			Subjects:  []string{"apex.deposits.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      eventsStream,
			Subjects:  []string{"apex.ledger.events.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

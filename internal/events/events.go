// Package events publishes program lifecycle changes to Kafka so downstream
// consumers can react without polling the programs table.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c00lpeace/project-template-final/internal/config"
	"github.com/segmentio/kafka-go"
)

// ProgramEvent is the JSON value written for every status change.
type ProgramEvent struct {
	ProgramID    string    `json:"program_id"`
	UserID       string    `json:"user_id"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher emits program lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev ProgramEvent) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes ProgramEvents keyed by program id, so every event of
// one program lands on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaPublisher creates a synchronous publisher for cfg.Topic.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaPublisher(w, cfg.Topic)
}

func newKafkaPublisher(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		logger: slog.Default().With("component", "event_publisher", "topic", topic),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev ProgramEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal program event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.ProgramID),
		Value: value,
		Time:  ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish program event",
			"program_id", ev.ProgramID,
			"status", ev.Status,
			"error", err,
		)
		return fmt.Errorf("publish program event: %w", err)
	}
	p.logger.Debug("program event published", "program_id", ev.ProgramID, "status", ev.Status)
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop drops every event. It is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, ProgramEvent) error { return nil }
func (Noop) Close() error                                { return nil }

// New returns a KafkaPublisher when brokers are configured and Noop otherwise.
func New(cfg config.KafkaConfig) Publisher {
	if len(cfg.Brokers) == 0 {
		return Noop{}
	}
	return NewKafkaPublisher(cfg)
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = Noop{}
)

// Package amqplog publishes call logs to a RabbitMQ queue.
package amqplog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/core/ports"
)

// DefaultQueue is the queue used when none is configured.
const DefaultQueue = "orchestrator.call_logs"

// Config describes the broker connection.
type Config struct {
	URL     string
	Queue   string
	Durable bool
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Sink publishes each record as a persistent JSON message on the default
// exchange, routed by queue name.
type Sink struct {
	conn  *amqp.Connection
	ch    publisher
	queue string
}

var _ ports.CallLogSink = (*Sink)(nil)

// New dials the broker and declares the queue.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &Sink{conn: conn, ch: ch, queue: queue}, nil
}

func (s *Sink) WriteCallLog(ctx context.Context, rec *domain.CallLog) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal call log: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.ID,
		Timestamp:    rec.CreatedAt,
		Type:         string(rec.Kind),
		Body:         body,
	}
	if err := s.ch.PublishWithContext(ctx, "", s.queue, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq publish failed: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Package events publishes run-completed notifications to a message bus.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/opentalon/idpportal/internal/actor"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/orchestrator"
)

const (
	TypeRunCompleted = "run.completed"

	publishTimeout = 5 * time.Second
)

// RunEvent summarizes one finished supervisor run.
type RunEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Actor          string    `json:"actor,omitempty"`
	Agents         []string  `json:"agents"`
	Iterations     int       `json:"iterations"`
	Truncated      bool      `json:"truncated"`
	FinalMessage   string    `json:"final_message"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher sends run events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev RunEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, RunEvent) error { return nil }
func (Nop) Close() error                            { return nil }

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a topic exchange. The routing key is
// the event type.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// NewAMQPPublisher dials the broker and declares a durable topic exchange.
func NewAMQPPublisher(cfg config.EventsConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("events: url is required")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = config.DefaultExchange
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("events: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev RunEvent) error {
	if p == nil || p.ch == nil {
		return errors.New("events: publisher not initialized")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.Timestamp,
		Type:         ev.Type,
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Observer turns completed runs into published events.
type Observer struct {
	pub    Publisher
	logger *zap.Logger
}

func NewObserver(pub Publisher, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{pub: pub, logger: logger}
}

// RunCompleted implements orchestrator.RunObserver. Publish failures are
// logged and never affect the run.
func (o *Observer) RunCompleted(ctx context.Context, res *orchestrator.RunResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	ev := FromRun(ctx, res)
	if err := o.pub.Publish(ctx, ev); err != nil {
		o.logger.Warn("failed to publish run event",
			zap.String("conversation_id", res.ConversationID), zap.Error(err))
	}
}

// FromRun builds the run-completed event for res.
func FromRun(ctx context.Context, res *orchestrator.RunResult) RunEvent {
	agents := []string{}
	if res.Outputs != nil {
		agents = res.Outputs.Names()
	}
	return RunEvent{
		Type:           TypeRunCompleted,
		ConversationID: res.ConversationID,
		Actor:          actor.Actor(ctx),
		Agents:         agents,
		Iterations:     res.Iterations,
		Truncated:      res.Truncated,
		FinalMessage:   res.FinalMessage(),
		Timestamp:      time.Now().UTC(),
	}
}

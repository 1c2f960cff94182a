// Package events announces finalized looks to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"lookbook/internal/domain"
	"lookbook/internal/infra"
)

const DefaultQueue = "look.finalized"

// LookFinalized is published once per persisted look.
type LookFinalized struct {
	LookID          string    `json:"lookId"`
	JobID           string    `json:"jobId"`
	SuggestionIndex int       `json:"suggestionIndex"`
	UserID          string    `json:"userId"`
	FinalImageURL   string    `json:"finalImageUrl"`
	StorageKey      string    `json:"storageKey,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

func NewLookFinalized(look *domain.Look, now time.Time) LookFinalized {
	return LookFinalized{
		LookID:          look.ID,
		JobID:           look.JobID,
		SuggestionIndex: look.SuggestionIndex,
		UserID:          look.UserID,
		FinalImageURL:   look.FinalImageURL,
		StorageKey:      look.StorageKey,
		OccurredAt:      now.UTC(),
	}
}

type Publisher interface {
	PublishLookFinalized(ctx context.Context, evt LookFinalized) error
	Close() error
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type connection interface {
	IsClosed() bool
	Close() error
}

type dialFunc func(url, queue string) (connection, channel, error)

// AMQPPublisher writes events to a durable queue on the default exchange. A
// connection dropped by the broker is redialed on the next publish.
type AMQPPublisher struct {
	mu     sync.Mutex
	url    string
	dial   dialFunc
	conn   connection
	ch     channel
	queue  string
	logger *infra.Logger
}

// DialAMQP connects to the broker and declares the queue.
func DialAMQP(url, queue string, logger *infra.Logger) (*AMQPPublisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	p := &AMQPPublisher{url: url, dial: dialAMQP, queue: queue, logger: infra.LoggerOrDiscard(logger)}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialAMQP(url, queue string) (connection, channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("events: connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("events: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("events: declare queue %s: %w", queue, err)
	}
	return conn, ch, nil
}

// connect replaces a missing or closed channel. Callers hold p.mu.
func (p *AMQPPublisher) connect() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.drop()
	if p.dial == nil {
		return fmt.Errorf("events: %w", amqp.ErrClosed)
	}
	conn, ch, err := p.dial(p.url, p.queue)
	if err != nil {
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) drop() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

func (p *AMQPPublisher) PublishLookFinalized(ctx context.Context, evt LookFinalized) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.LookID,
		Timestamp:    evt.OccurredAt,
		Type:         DefaultQueue,
		Body:         body,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.publish(ctx, msg)
	if errors.Is(err, amqp.ErrClosed) {
		p.logger.Warn().Str("queue", p.queue).Msg("events: broker connection closed, redialing")
		p.drop()
		err = p.publish(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", evt.LookID, err)
	}
	p.logger.Debug().Str("look_id", evt.LookID).Str("queue", p.queue).Msg("events: published")
	return nil
}

func (p *AMQPPublisher) publish(ctx context.Context, msg amqp.Publishing) error {
	if err := p.connect(); err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	p.conn, p.ch = nil, nil
	// stop later publishes from redialing
	p.dial = nil
	return errors.Join(errs...)
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishLookFinalized(context.Context, LookFinalized) error { return nil }
func (NopPublisher) Close() error                                              { return nil }

var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = NopPublisher{}
)

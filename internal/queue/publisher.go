package queue

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const changedQueueName = "waitlist.changed"

// Publisher emits EntryChangedEvents to RabbitMQ.  It keeps one
// connection open and re-dials lazily when a publish finds it closed.
// Publishing is best-effort: a notification is a hint to
// re-fetch, never the state itself, so errors are logged and returned
// for the caller to ignore.
type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a Publisher for the given broker URL.  The URL
// may be empty, in which case every publish is a silent no-op: the
// service runs without change notifications and clients rely on their
// fallback poll.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

// channel returns an open channel, dialing the broker if needed.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	// Durable so notifications survive broker restarts.
	if _, err := ch.QueueDeclare(changedQueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

// PublishEntryChanged publishes one transition event.  Errors are
// logged and returned; callers treat them as non-fatal.
func (p *Publisher) PublishEntryChanged(ctx context.Context, event EntryChangedEvent) error {
	if p == nil || p.url == "" {
		return nil
	}
	ch, err := p.channel()
	if err != nil {
		log.Printf("rabbitmq: dial failed: %v", err)
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", changedQueueName, false, false, pub); err != nil {
		log.Printf("rabbitmq: publish failed: %v", err)
		// Drop the channel so the next publish re-dials.
		p.mu.Lock()
		p.ch = nil
		p.mu.Unlock()
		return err
	}
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

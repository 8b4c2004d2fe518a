package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is consumed by the push worker.
const DefaultQueue = "push.notifications"

// AMQP publishes notifications as persistent JSON messages to a durable
// queue. The connection is opened lazily and reopened after a failure.
type AMQP struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ Notifier = (*AMQP)(nil)

func NewAMQP(url, queue string) *AMQP {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQP{url: url, queue: queue}
}

func (a *AMQP) Notify(ctx context.Context, n Notification) error {
	if len(n.UserIDs) == 0 {
		return nil
	}
	pub, err := publishing(n, time.Now().UTC())
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	ch, err := a.channel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, "", a.queue, false, false, pub); err != nil {
		a.reset()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

// Close releases the broker connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn, a.ch = nil, nil
	return err
}

// channel returns an open channel, dialing when needed. Callers hold mu.
func (a *AMQP) channel() (*amqp.Channel, error) {
	if a.ch != nil && !a.ch.IsClosed() && a.conn != nil && !a.conn.IsClosed() {
		return a.ch, nil
	}
	a.reset()
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(a.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: declare %s: %w", a.queue, err)
	}
	a.conn, a.ch = conn, ch
	return ch, nil
}

func (a *AMQP) reset() {
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.conn, a.ch = nil, nil
}

func publishing(n Notification, at time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("rabbitmq: marshal notification: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    at,
		Type:         n.Kind,
		Body:         body,
	}, nil
}

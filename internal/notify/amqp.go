package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// DefaultQueue is the queue events are published to when none is configured.
const DefaultQueue = "taskpoll.notifications"

// amqpChannel is the subset of *amqp.Channel the sink uses.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events as JSON messages to a durable queue on the
// default exchange.
type AMQPSink struct {
	queue string

	mu   sync.Mutex // amqp channels are not safe for concurrent publishing
	conn *amqp.Connection
	ch   amqpChannel
}

// DialAMQP connects to the broker at url and declares queue.
func DialAMQP(url, queue string) (*AMQPSink, error) {
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	if queue == "" {
		queue = DefaultQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}

	return &AMQPSink{queue: queue, conn: conn, ch: ch}, nil
}

// Emit publishes e. The context is only checked before publishing; the
// underlying client has no cancellable publish.
func (s *AMQPSink) Emit(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return errors.New("amqp sink is closed")
	}
	return s.ch.Publish("", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.HandleID,
		Type:         e.Kind,
		Timestamp:    e.At,
		Body:         body,
	})
}

// Close closes the channel and the connection. Safe to call multiple times.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
		s.ch = nil
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	return errors.Join(errs...)
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes JSON messages to named queues through the default exchange
type Publisher struct {
	conn *Connection
	mu   sync.Mutex
}

// NewPublisher creates a new publisher instance
func NewPublisher(conn *Connection) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}

	return &Publisher{conn: conn}, nil
}

// Publish marshals v to JSON and publishes it as a persistent message
func (p *Publisher) Publish(ctx context.Context, queueName string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", queueName, err)
	}

	return p.PublishRaw(ctx, queueName, body, nil)
}

// PublishRaw publishes an already encoded body
func (p *Publisher) PublishRaw(ctx context.Context, queueName string, body []byte, headers amqp.Table) error {
	if queueName == "" {
		return errors.New("queue name cannot be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		"",        // exchange (default)
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Headers:      headers,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queueName, err)
	}

	return nil
}

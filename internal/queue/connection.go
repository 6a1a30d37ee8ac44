package queue

import (
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeadLetterSuffix is appended to a queue name to form its dead-letter queue
const DeadLetterSuffix = ".dead"

// Connection represents a RabbitMQ connection with automatic reconnection support.
// The shared channel is used for publishing; consumers open their own.
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	url     string
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewConnection creates a new RabbitMQ connection
func NewConnection(url string, logger *zap.Logger) (*Connection, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Connection{
		url:    url,
		logger: logger.Named("amqp"),
	}
	if err := c.reconnect(); err != nil {
		return nil, err
	}

	c.logger.Info("connected to rabbitmq")
	return c, nil
}

// Channel returns the shared channel, reconnecting if necessary
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil || c.channel.IsClosed() || c.conn == nil || c.conn.IsClosed() {
		c.logger.Warn("channel is closed, attempting to reconnect")
		if err := c.reconnect(); err != nil {
			return nil, fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	return c.channel, nil
}

// OpenChannel opens a dedicated channel, reconnecting if necessary. The
// caller owns the returned channel.
func (c *Connection) OpenChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		if err := c.reconnect(); err != nil {
			return nil, fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// DeclareQueues declares each queue and its dead-letter companion as durable
func (c *Connection) DeclareQueues(names ...string) error {
	ch, err := c.Channel()
	if err != nil {
		return err
	}

	for _, name := range names {
		for _, q := range []string{name, name + DeadLetterSuffix} {
			_, err := ch.QueueDeclare(
				q,
				true,  // durable
				false, // auto-delete
				false, // exclusive
				false, // no-wait
				nil,   // arguments
			)
			if err != nil {
				return fmt.Errorf("failed to declare queue %s: %w", q, err)
			}
		}
	}

	return nil
}

// reconnect is an internal method to reconnect to RabbitMQ. c.mu must be held
// by callers other than NewConnection.
func (c *Connection) reconnect() error {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

// Close closes the connection gracefully
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
		c.channel = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		c.conn = nil
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.logger.Info("rabbitmq connection closed")
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil
}

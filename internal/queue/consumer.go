package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes a single delivery. Returning nil acknowledges it,
// returning an error wrapped with Permanent rejects it according to the
// consumer's RejectPolicy, and any other error requeues it.
type Handler func(ctx context.Context, d amqp.Delivery) error

// RejectPolicy decides what happens to permanently failed messages
type RejectPolicy string

const (
	RejectDrop       RejectPolicy = "drop"
	RejectRequeue    RejectPolicy = "requeue"
	RejectDeadLetter RejectPolicy = "dead_letter"
)

// Outcome is how a delivery was settled
type Outcome string

const (
	OutcomeAck        Outcome = "ack"
	OutcomeRequeue    Outcome = "requeue"
	OutcomeDrop       Outcome = "drop"
	OutcomeDeadLetter Outcome = "dead_letter"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Decode unmarshals a JSON delivery body. Malformed bodies are permanent
// failures.
func Decode(d amqp.Delivery, v interface{}) error {
	if err := json.Unmarshal(d.Body, v); err != nil {
		return Permanent(fmt.Errorf("malformed message: %w", err))
	}
	return nil
}

// ConsumerOptions configures a Consumer
type ConsumerOptions struct {
	Policy     RejectPolicy
	Prefetch   int
	RetryDelay time.Duration
	Logger     *zap.Logger
	// Observe is called once per settled delivery
	Observe func(queue string, outcome Outcome, elapsed time.Duration)
}

// Consumer consumes messages from a RabbitMQ queue with manual acknowledgement
type Consumer struct {
	conn       *Connection
	queueName  string
	handler    Handler
	opts       ConsumerOptions
	logger     *zap.Logger
	deadLetter func(ctx context.Context, queue string, body []byte, headers amqp.Table) error
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// NewConsumer creates a new consumer instance
func NewConsumer(conn *Connection, queueName string, handler Handler, opts ConsumerOptions) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	c := newConsumer(queueName, handler, opts)
	c.conn = conn

	publisher := &Publisher{conn: conn}
	c.deadLetter = publisher.PublishRaw

	return c, nil
}

func newConsumer(queueName string, handler Handler, opts ConsumerOptions) *Consumer {
	if opts.Policy == "" {
		opts.Policy = RejectDrop
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Consumer{
		queueName: queueName,
		handler:   handler,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("queue", queueName)),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Start starts consuming messages from the queue. Deliveries are handled one
// at a time; if the channel drops the consumer resubscribes until stopped.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, ch, err := c.subscribe()
	if err != nil {
		close(c.doneChan)
		return err
	}

	go func() {
		defer close(c.doneChan)

		for {
			c.drain(ctx, msgs)
			if ch != nil {
				ch.Close()
			}

			select {
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			default:
			}

			msgs, ch = c.resubscribe(ctx)
			if msgs == nil {
				return
			}
		}
	}()

	c.logger.Info("consumer started")
	return nil
}

// drain handles deliveries until the channel closes or the consumer stops
func (c *Consumer) drain(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) resubscribe(ctx context.Context) (<-chan amqp.Delivery, *amqp.Channel) {
	for {
		select {
		case <-c.stopChan:
			return nil, nil
		case <-ctx.Done():
			return nil, nil
		case <-time.After(c.opts.RetryDelay):
		}

		msgs, ch, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to resubscribe", zap.Error(err))
			continue
		}
		c.logger.Info("consumer resubscribed")
		return msgs, ch
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, *amqp.Channel, error) {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.Qos(
		c.opts.Prefetch, // prefetch count
		0,               // prefetch size
		false,           // global
	)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual acknowledgement)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return msgs, ch, nil
}

// Stop stops consuming messages gracefully. The in-flight delivery, if any,
// is settled before Stop returns.
func (c *Consumer) Stop() error {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}

	<-c.doneChan

	c.logger.Info("consumer stopped")
	return nil
}

// handle runs the handler and settles the delivery
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) Outcome {
	start := time.Now()
	err := c.run(ctx, d)
	outcome := c.settle(ctx, d, err)

	if c.opts.Observe != nil {
		c.opts.Observe(c.queueName, outcome, time.Since(start))
	}
	return outcome
}

func (c *Consumer) run(ctx context.Context, d amqp.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler(ctx, d)
}

func (c *Consumer) settle(ctx context.Context, d amqp.Delivery, err error) Outcome {
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack", zap.Error(ackErr))
		}
		return OutcomeAck
	}

	if !IsPermanent(err) {
		c.logger.Warn("transient failure, requeueing", zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack", zap.Error(nackErr))
		}
		return OutcomeRequeue
	}

	switch c.opts.Policy {
	case RejectRequeue:
		c.logger.Warn("permanent failure, requeueing by policy", zap.Error(err))
		if rejErr := d.Reject(true); rejErr != nil {
			c.logger.Error("failed to reject", zap.Error(rejErr))
		}
		return OutcomeRequeue

	case RejectDeadLetter:
		headers := amqp.Table{"x-error": err.Error(), "x-original-queue": c.queueName}
		if pubErr := c.deadLetter(ctx, c.queueName+DeadLetterSuffix, d.Body, headers); pubErr != nil {
			// not parked, so keep it on the source queue
			c.logger.Error("failed to dead-letter, requeueing", zap.Error(pubErr))
			if nackErr := d.Nack(false, true); nackErr != nil {
				c.logger.Error("failed to nack", zap.Error(nackErr))
			}
			return OutcomeRequeue
		}
		c.logger.Warn("permanent failure, dead-lettered", zap.Error(err))
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack", zap.Error(ackErr))
		}
		return OutcomeDeadLetter

	default:
		c.logger.Warn("permanent failure, dropping", zap.Error(err), zap.ByteString("body", d.Body))
		if rejErr := d.Reject(false); rejErr != nil {
			c.logger.Error("failed to reject", zap.Error(rejErr))
		}
		return OutcomeDrop
	}
}

package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rabbitmq/amqp091-go"
)

// Verdict tells the consumer what to do with a delivery after handling.
type Verdict int

const (
	// Ack acknowledges the delivery; the message is done.
	Ack Verdict = iota
	// Retry returns the delivery to the queue for redelivery. Used for
	// transient failures of externals (broker peers, stores, APIs).
	Retry
	// Reject discards the delivery, dead-lettering it when the queue has a
	// dead-letter exchange. Used for messages that can never succeed.
	Reject
)

// HandlerFunc processes one delivery and reports its verdict. Handlers must
// be idempotent: redelivery after a crash between side effect and ack is
// part of the delivery contract.
type HandlerFunc func(ctx context.Context, d amqp091.Delivery) Verdict

// Consumer runs a single-queue delivery loop with manual acknowledgment.
type Consumer struct {
	queue    string
	tag      string
	channel  *amqp091.Channel
	handler  HandlerFunc
	prefetch int

	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewConsumer opens a channel for the queue with the bus prefetch applied.
func NewConsumer(b *Bus, queue string, handler HandlerFunc) (*Consumer, error) {
	ch, err := b.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, err
	}

	return &Consumer{
		queue:    queue,
		tag:      "kubeminder." + queue,
		channel:  ch,
		handler:  handler,
		prefetch: b.cfg.Prefetch,
	}, nil
}

// Start begins consuming. It is safe to call multiple times; subsequent
// calls are no-ops.
func (c *Consumer) Start(ctx context.Context) error {
	if c.started {
		slog.Warn("Consumer already started, ignoring duplicate Start call", "queue", c.queue)
		return nil
	}
	c.started = true

	deliveries, err := c.channel.Consume(
		c.queue, // queue
		c.tag,   // consumer tag
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return err
	}

	slog.Info("Consumer started", "queue", c.queue, "prefetch", c.prefetch)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, deliveries)
	}()

	return nil
}

// run drains deliveries until the broker closes the stream. Cancel (from
// Stop) stops new deliveries; anything already buffered is still handled.
func (c *Consumer) run(ctx context.Context, deliveries <-chan amqp091.Delivery) {
	for d := range deliveries {
		c.dispatch(ctx, d)
	}
	slog.Info("Consumer delivery loop ended", "queue", c.queue)
}

// dispatch runs the handler with panic isolation and applies its verdict.
func (c *Consumer) dispatch(ctx context.Context, d amqp091.Delivery) {
	verdict := c.safeHandle(ctx, d)

	var err error
	switch verdict {
	case Ack:
		err = d.Ack(false)
	case Retry:
		err = d.Nack(false, true)
	case Reject:
		err = d.Nack(false, false)
	}
	if err != nil {
		slog.Error("Failed to settle delivery",
			"queue", c.queue,
			"message_id", d.MessageId,
			"verdict", verdict,
			"error", err)
	}
}

func (c *Consumer) safeHandle(ctx context.Context, d amqp091.Delivery) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Handler panicked, rejecting delivery",
				"queue", c.queue,
				"message_id", d.MessageId,
				"panic", r)
			verdict = Reject
		}
	}()
	return c.handler(ctx, d)
}

// Stop cancels the subscription, waits for in-flight handling to finish and
// closes the channel. Unacked deliveries return to the queue.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if err := c.channel.Cancel(c.tag, false); err != nil {
			slog.Warn("Failed to cancel consumer", "queue", c.queue, "error", err)
		}
	})
	c.wg.Wait()
	if err := c.channel.Close(); err != nil && err != amqp091.ErrClosed {
		slog.Warn("Failed to close consumer channel", "queue", c.queue, "error", err)
	}
	slog.Info("Consumer stopped", "queue", c.queue)
}

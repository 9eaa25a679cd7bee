package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	zlog "github.com/rs/zerolog/log"

	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/metrics"
)

const (
	dlxName       = "messaging.outbound.dlx"
	deadQueueName = "courier.outbound.dead"
)

// ItemHandler processes one pulled queue item. A nil return acks the
// delivery; an error leaves it unacked so the broker redelivers.
type ItemHandler interface {
	Handle(ctx context.Context, item domain.QueueItem) error
}

type ConsumerConfig struct {
	URL           string
	Exchange      string
	SubjectPrefix string
	// PullBatch is the prefetch window per platform channel: at most this
	// many unacked deliveries are in flight at once.
	PullBatch  int
	AckWait    time.Duration
	MaxDeliver int
	// Workers is the number of dispatch workers per platform.
	Workers int
}

// Consumer drives the per-platform dispatch workers. One durable queue per
// platform is bound to the outbound exchange; deliveries above the
// redelivery ceiling are dead-lettered to a fanout DLX.
type Consumer struct {
	cfg     ConsumerConfig
	conn    *amqp.Connection
	handler ItemHandler

	mu       sync.Mutex
	channels []*amqp.Channel
	wg       sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig, handler ItemHandler) (*Consumer, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.PullBatch <= 0 {
		cfg.PullBatch = 32
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 10
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	c := &Consumer{cfg: cfg, conn: conn, handler: handler}
	if err := c.declareTopology(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declareTopology() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(dlxName, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx: %w", err)
	}
	if _, err := ch.QueueDeclare(deadQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead queue: %w", err)
	}
	if err := ch.QueueBind(deadQueueName, "", dlxName, false, nil); err != nil {
		return fmt.Errorf("bind dead queue: %w", err)
	}

	for _, platform := range domain.Platforms() {
		args := amqp.Table{
			"x-queue-type":           "quorum",
			"x-dead-letter-exchange": dlxName,
			"x-delivery-limit":       int32(c.cfg.MaxDeliver),
		}
		if c.cfg.AckWait > 0 {
			args["x-consumer-timeout"] = int32(c.cfg.AckWait / time.Millisecond)
		}
		name := queueName(platform)
		if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
		key := c.cfg.SubjectPrefix + "." + string(platform)
		if err := ch.QueueBind(name, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", name, err)
		}
	}
	return nil
}

func queueName(p domain.Platform) string {
	return "courier.outbound." + string(p)
}

// Start launches the worker pools, one per platform, and blocks until ctx is
// cancelled. Shutdown is draining: workers stop taking deliveries, finish
// the ones they own, and unacked handles are redelivered on next start.
func (c *Consumer) Start(ctx context.Context) error {
	for _, platform := range domain.Platforms() {
		if err := c.startPlatform(ctx, platform); err != nil {
			return err
		}
	}

	zlog.Info().
		Int("workers_per_platform", c.cfg.Workers).
		Int("pull_batch", c.cfg.PullBatch).
		Msg("dispatch consumers started")

	<-ctx.Done()
	zlog.Info().Msg("draining dispatch workers")
	c.wg.Wait()
	return nil
}

func (c *Consumer) startPlatform(ctx context.Context, platform domain.Platform) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(c.cfg.PullBatch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queueName(platform),
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume %s: %w", platform, err)
	}

	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, platform, deliveries)
	}
	return nil
}

func (c *Consumer) worker(ctx context.Context, platform domain.Platform, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				zlog.Warn().Str("platform", string(platform)).Msg("delivery channel closed")
				return
			}
			c.handleDelivery(ctx, platform, msg)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, platform domain.Platform, msg amqp.Delivery) {
	metrics.RecordConsumed(string(platform))

	var item domain.QueueItem
	if err := json.Unmarshal(msg.Body, &item); err != nil {
		zlog.Error().Err(err).Str("message_id", msg.MessageId).Msg("poison queue item")
		metrics.RecordDeadLettered(string(platform), "poison")
		_ = msg.Nack(false, false) // straight to DLX
		return
	}

	if count, ok := deliveryCount(msg); ok && count >= int64(c.cfg.MaxDeliver) {
		zlog.Error().
			Str("destination_id", item.DestinationID.String()).
			Int64("delivery_count", count).
			Msg("delivery ceiling reached, dead-lettering")
		metrics.RecordDeadLettered(string(platform), "max_deliver")
		_ = msg.Nack(false, false)
		return
	}

	if err := c.handler.Handle(ctx, item); err != nil {
		// Store-side trouble: leave the item in the queue. The broker's
		// delivery limit caps how often this can loop.
		zlog.Error().Err(err).
			Str("destination_id", item.DestinationID.String()).
			Msg("dispatch failed, requeueing")
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// deliveryCount reads the broker-maintained redelivery counter set by quorum
// queues.
func deliveryCount(msg amqp.Delivery) (int64, bool) {
	v, ok := msg.Headers["x-delivery-count"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		_ = ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

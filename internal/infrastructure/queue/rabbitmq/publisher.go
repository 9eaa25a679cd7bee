// Package rabbitmq is the durable work queue: one topic exchange with a
// durable per-platform queue, explicit acks and a fanout dead-letter
// exchange for deliveries that exceed the redelivery ceiling.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/metrics"
)

const (
	DefaultExchange      = "messaging.outbound"
	DefaultSubjectPrefix = "messaging.outbound"

	// Wait window for Return / Confirm
	publishWait = 150 * time.Millisecond
)

type Publisher struct {
	url           string
	exchange      string
	subjectPrefix string

	mu sync.Mutex

	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

func NewPublisher(url, exchange, subjectPrefix string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}

	p := &Publisher{
		url:           url,
		exchange:      exchange,
		subjectPrefix: subjectPrefix,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	// enable publisher confirms
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch

	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))

	return nil
}

func (p *Publisher) Close() error {
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
	return nil
}

// Subject builds the routing key for a platform: <prefix>.<platform>.
func (p *Publisher) Subject(platform domain.Platform) string {
	return p.subjectPrefix + "." + string(platform)
}

// Publish appends one queue item to the platform's queue, persistent and
// confirmed. The message id is the destination id, stable across retries.
func (p *Publisher) Publish(ctx context.Context, item domain.QueueItem) error {
	if !item.Platform.Valid() {
		return errors.New("missing platform")
	}

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return errors.New("publisher channel not ready")
	}

	err = p.ch.PublishWithContext(
		ctx,
		p.exchange,
		p.Subject(item.Platform),
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:    item.DestinationID.String(),
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return err
	}

	// Wait for either Return (NO_ROUTE) or Confirm
	select {
	case ret := <-p.returnCh:
		return errors.New("NO_ROUTE: " + ret.RoutingKey)
	case conf := <-p.confirmCh:
		if !conf.Ack {
			return errors.New("publish nack")
		}
		metrics.RecordPublished(string(item.Platform), false)
		return nil
	case <-time.After(publishWait):
		// Neither Return nor Confirm arrived: the broker may not have the
		// message. Failing here keeps the destination pending so the stale
		// sweep republishes it.
		return errors.New("publish confirm timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

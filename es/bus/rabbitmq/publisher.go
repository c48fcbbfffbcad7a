// Package rabbitmq publishes entries to RabbitMQ with publisher confirms.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/bus"
	"github.com/getpup/pupstream/es/confirm"
)

// Channel is the part of *amqp091.Channel the publisher uses.
type Channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp091.Confirmation) chan amqp091.Confirmation
	GetNextPublishSeqNo() uint64
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

var _ Channel = (*amqp091.Channel)(nil)

// Config contains configuration for the publisher.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// RoutingKey derives the routing key of an entry.
	// Defaults to the entry's event type.
	RoutingKey func(es.Entry) string

	// Exchange receives every published entry
	Exchange string

	// ConfirmationTimeout bounds the wait for a broker confirmation
	ConfirmationTimeout time.Duration

	// SweepInterval controls how often expired waits are dropped
	SweepInterval time.Duration

	// ConfirmBuffer is the capacity of the confirmation notification channel
	ConfirmBuffer int

	// Mandatory requests that unroutable messages are returned by the broker
	Mandatory bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Exchange:            "pupstream.entries",
		RoutingKey:          EventTypeRoutingKey,
		ConfirmationTimeout: confirm.DefaultConfig().Timeout,
		SweepInterval:       confirm.DefaultConfig().SweepInterval,
		ConfirmBuffer:       256,
	}
}

// EventTypeRoutingKey routes an entry by its event type.
//
//nolint:gocritic // hugeParam: matches bus.Publisher
func EventTypeRoutingKey(entry es.Entry) string {
	return entry.Descriptor.EventType
}

// Publisher implements bus.Publisher on a confirm-mode AMQP channel.
type Publisher struct {
	cfg     Config
	ch      Channel
	tracker *confirm.Tracker

	// mu makes "next tag, register, send" atomic so tags match sends.
	mu       sync.Mutex
	pumpDone chan struct{}
}

var _ bus.Publisher = (*Publisher)(nil)

// NewPublisher puts ch into confirm mode and starts forwarding broker
// confirmations to a confirm.Tracker.
func NewPublisher(ch Channel, cfg Config) (*Publisher, error) {
	if ch == nil {
		return nil, errors.New("rabbitmq: channel is required")
	}
	defaults := DefaultConfig()
	if cfg.RoutingKey == nil {
		cfg.RoutingKey = defaults.RoutingKey
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = defaults.ConfirmationTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.ConfirmBuffer <= 0 {
		cfg.ConfirmBuffer = defaults.ConfirmBuffer
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp091.Confirmation, cfg.ConfirmBuffer))

	p := &Publisher{
		cfg: cfg,
		ch:  ch,
		tracker: confirm.NewTracker(confirm.Config{
			Logger:        cfg.Logger,
			Timeout:       cfg.ConfirmationTimeout,
			SweepInterval: cfg.SweepInterval,
		}),
		pumpDone: make(chan struct{}),
	}
	go p.pump(confirms)
	return p, nil
}

// pump moves broker confirmations off the client's goroutine into the tracker.
func (p *Publisher) pump(confirms <-chan amqp091.Confirmation) {
	defer close(p.pumpDone)
	for c := range confirms {
		p.tracker.Notify(confirm.Notification{Tag: c.DeliveryTag, Ack: c.Ack})
	}
	// The channel closed: nothing outstanding can be confirmed any more.
	if p.cfg.Logger != nil {
		p.cfg.Logger.Info(context.Background(), "rabbitmq confirmation stream closed")
	}
	p.tracker.Close()
}

// Publish sends entry and waits for the broker to confirm it.
//
//nolint:gocritic // hugeParam: matches bus.Publisher
func (p *Publisher) Publish(ctx context.Context, entry es.Entry) error {
	msg := Message(entry)
	key := p.cfg.RoutingKey(entry)

	p.mu.Lock()
	tag := p.ch.GetNextPublishSeqNo()
	wait, err := p.tracker.Register(tag, p.cfg.ConfirmationTimeout)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("publish entry %s: %w", entry.EntryID, err)
	}
	err = p.ch.PublishWithContext(ctx, p.cfg.Exchange, key, p.cfg.Mandatory, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish entry %s: %w", entry.EntryID, err)
	}

	if p.cfg.Logger != nil {
		p.cfg.Logger.Debug(ctx, "entry sent, awaiting confirmation",
			"stream_id", entry.StreamID,
			"sequence", entry.Sequence,
			"delivery_tag", tag)
	}

	if err := wait.Wait(ctx); err != nil {
		return fmt.Errorf("publish entry %s (stream %s, sequence %d): %w",
			entry.EntryID, entry.StreamID, entry.Sequence, err)
	}
	return nil
}

// Close cancels outstanding confirmation waits. It does not close the channel.
func (p *Publisher) Close() {
	p.tracker.Close()
}

// Message maps an entry to an AMQP publishing.
//
//nolint:gocritic // hugeParam: entries are passed by value throughout the library
func Message(entry es.Entry) amqp091.Publishing {
	headers := amqp091.Table{}
	for k, v := range bus.Headers(entry) {
		headers[k] = v
	}
	return amqp091.Publishing{
		Headers:       headers,
		ContentType:   entry.Descriptor.ContentFormat,
		DeliveryMode:  amqp091.Persistent,
		MessageId:     entry.EntryID.String(),
		CorrelationId: entry.Metadata.CorrelationID.String(),
		Timestamp:     entry.Metadata.CreatedAt,
		Type:          entry.Descriptor.EventType,
		Body:          entry.Descriptor.Payload,
	}
}

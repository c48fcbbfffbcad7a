// Package kafka publishes entries to Kafka.
//
// Every record is keyed by its stream id, so all entries of a stream land in
// the same partition and keep their order. A publish returns once the
// partition leader and its in-sync replicas acknowledged the record.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/bus"
	"github.com/getpup/pupstream/es/confirm"
)

// Producer is the part of *kgo.Client the publisher uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

var _ Producer = (*kgo.Client)(nil)

// Config contains configuration for the publisher.
type Config struct {
	// Logger is optional. If nil, logging is disabled.
	Logger es.Logger

	// Topic receives every entry
	Topic string

	// ConfirmationTimeout bounds the wait for broker acknowledgment
	ConfirmationTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Topic:               "pupstream.entries",
		ConfirmationTimeout: confirm.DefaultConfig().Timeout,
	}
}

// Publisher implements bus.Publisher on a Kafka producer.
type Publisher struct {
	cfg      Config
	producer Producer
}

var _ bus.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher writing to cfg.Topic.
func NewPublisher(producer Producer, cfg Config) (*Publisher, error) {
	if producer == nil {
		return nil, errors.New("kafka: producer is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = DefaultConfig().ConfirmationTimeout
	}
	return &Publisher{cfg: cfg, producer: producer}, nil
}

// NewClient creates a franz-go client that waits for all in-sync replicas.
func NewClient(brokers []string, clientID string) (*kgo.Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if clientID != "" {
		opts = append(opts, kgo.ClientID(clientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// Publish produces entry and waits for the broker acknowledgment.
// A wait exceeding ConfirmationTimeout fails with confirm.ErrConfirmationTimeout.
//
//nolint:gocritic // hugeParam: matches bus.Publisher
func (p *Publisher) Publish(ctx context.Context, entry es.Entry) error {
	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmationTimeout)
	defer cancel()

	err := p.producer.ProduceSync(sendCtx, Record(p.cfg.Topic, entry)).FirstErr()
	if err == nil {
		if p.cfg.Logger != nil {
			p.cfg.Logger.Debug(ctx, "entry acknowledged",
				"stream_id", entry.StreamID,
				"sequence", entry.Sequence,
				"topic", p.cfg.Topic)
		}
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("publish entry %s: %w", entry.EntryID, confirm.ErrConfirmationTimeout)
	}
	return fmt.Errorf("publish entry %s: %w: %w", entry.EntryID, confirm.ErrConfirmationRejected, err)
}

// Record maps an entry to a Kafka record.
//
//nolint:gocritic // hugeParam: entries are passed by value throughout the library
func Record(topic string, entry es.Entry) *kgo.Record {
	headers := bus.Headers(entry)
	recordHeaders := make([]kgo.RecordHeader, 0, len(headers)+1)
	for k, v := range headers {
		recordHeaders = append(recordHeaders, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	recordHeaders = append(recordHeaders, kgo.RecordHeader{
		Key:   "content_type",
		Value: []byte(entry.Descriptor.ContentFormat),
	})

	return &kgo.Record{
		Topic:     topic,
		Key:       []byte(entry.StreamID.String()),
		Value:     entry.Descriptor.Payload,
		Headers:   recordHeaders,
		Timestamp: entry.Metadata.CreatedAt,
	}
}

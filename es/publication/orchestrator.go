// Package publication implements the live path that turns a new batch into a
// durable, ordered, published fact.
package publication

import (
	"context"
	"errors"
	"fmt"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/bus"
	"github.com/getpup/pupstream/es/store"
)

// Config configures an Orchestrator.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Config)

// WithLogger sets a logger for the orchestrator.
func WithLogger(logger es.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Orchestrator drives staging, append, publish and resolve for one batch.
// It is safe for concurrent use; each Publish call is strictly sequential.
type Orchestrator struct {
	config  Config
	staging store.StagingStore
	streams store.StreamStore
	bus     bus.Publisher
}

// New creates an Orchestrator.
func New(staging store.StagingStore, streams store.StreamStore, publisher bus.Publisher, opts ...Option) *Orchestrator {
	var config Config
	for _, opt := range opts {
		opt(&config)
	}
	return &Orchestrator{
		config:  config,
		staging: staging,
		streams: streams,
		bus:     publisher,
	}
}

// Publish stages, appends and publishes entries.
//
// On success the staging record is gone. On es.ErrOptimisticConcurrency the
// record is gone and nothing was published; reload the stream and retry. On
// es.ErrAppendingFailed, a publish failure or cancellation the record is kept
// and reconciliation settles the batch later.
//
//nolint:gocyclo // one branch per write result
func (o *Orchestrator) Publish(ctx context.Context, entries es.Entries) error {
	if entries.IsEmpty() {
		return store.ErrNoEntries
	}
	streamID := entries.StreamID()

	stagingID, err := o.staging.Write(ctx, entries)
	if err != nil {
		return fmt.Errorf("failed to stage entries: %w", err)
	}

	if o.config.Logger != nil {
		o.config.Logger.Debug(ctx, "entries staged",
			"staging_id", stagingID,
			"stream_id", streamID,
			"entry_count", entries.Len())
	}

	result, appendErr := o.streams.Append(ctx, entries)

	switch result {
	case es.WriteSuccess:
		return o.publishAndMark(ctx, stagingID, entries)

	case es.WriteSequenceAlreadyTaken:
		if err := o.staging.MarkFailed(ctx, stagingID); err != nil {
			// The record stays behind; reconciliation finds nothing appended
			// under these exact entries and marks it failed again.
			if o.config.Logger != nil {
				o.config.Logger.Error(ctx, "failed to mark staging record failed",
					"staging_id", stagingID,
					"error", err)
			}
		}
		if o.config.Logger != nil {
			o.config.Logger.Info(ctx, "optimistic concurrency conflict",
				"stream_id", streamID,
				"min_sequence", entries.MinSequence(),
				"entry_count", entries.Len())
		}
		return fmt.Errorf("%w: %d entries for stream %s", es.ErrOptimisticConcurrency, entries.Len(), streamID)

	case es.WriteUnknownFailure:
		if o.config.Logger != nil {
			o.config.Logger.Error(ctx, "append failed, staging record kept for reconciliation",
				"staging_id", stagingID,
				"stream_id", streamID,
				"error", appendErr)
		}
		if appendErr != nil {
			return fmt.Errorf("%w: stream %s: %w", es.ErrAppendingFailed, streamID, appendErr)
		}
		return fmt.Errorf("%w: stream %s", es.ErrAppendingFailed, streamID)

	default:
		return fmt.Errorf("%w: stream store returned %s", es.ErrContractViolation, result)
	}
}

func (o *Orchestrator) publishAndMark(ctx context.Context, stagingID es.StagingID, entries es.Entries) error {
	for i := 0; i < entries.Len(); i++ {
		if err := ctx.Err(); err != nil {
			if o.config.Logger != nil {
				o.config.Logger.Info(ctx, "publish cancelled, staging record kept for reconciliation",
					"staging_id", stagingID,
					"published", i,
					"entry_count", entries.Len())
			}
			return err
		}

		entry := entries.At(i)
		if err := o.bus.Publish(ctx, entry); err != nil {
			if o.config.Logger != nil && !errors.Is(err, context.Canceled) {
				o.config.Logger.Error(ctx, "failed to publish entry, staging record kept for reconciliation",
					"staging_id", stagingID,
					"stream_id", entry.StreamID,
					"sequence", entry.Sequence,
					"error", err)
			}
			return fmt.Errorf("failed to publish entry %d of %d: %w", i+1, entries.Len(), err)
		}
	}

	if err := o.staging.MarkPublished(ctx, stagingID); err != nil {
		return fmt.Errorf("failed to mark staging record published: %w", err)
	}

	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "entries published",
			"staging_id", stagingID,
			"stream_id", entries.StreamID(),
			"sequence_range", fmt.Sprintf("%d-%d", entries.MinSequence(), entries.MaxSequence()))
	}
	return nil
}

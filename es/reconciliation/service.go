// Package reconciliation resolves staging records left behind by publish
// attempts whose outcome is unknown.
//
// A record stays in the staging store when the process died, the append
// reported an unknown failure, or publishing failed. The Service decides
// the fate of one record by comparing it with what the stream store holds.
// The Job runs the Service over every record, and the Scheduler runs the Job
// periodically.
//
// Reconciliation competes with live publish calls on the same record without
// any lock. A record is only published after a fresh read shows it still
// exists unchanged; a record already removed by the live path is left alone.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/bus"
	"github.com/getpup/pupstream/es/store"
)

// Result names the branch TryReconcile took.
type Result int

const (
	// ResultUndefined is returned alongside an error.
	ResultUndefined Result = iota

	// ResultTooRecent means the record is younger than the grace period.
	ResultTooRecent

	// ResultNotStored means no entry of the batch was found; the append may
	// still be in flight or never reached storage.
	ResultNotStored

	// ResultMarkedFailed means the stream holds something other than the
	// batch, so the record was abandoned.
	ResultMarkedFailed

	// ResultPublished means the batch was stored, published and the record removed.
	ResultPublished

	// ResultAlreadyResolved means the batch was stored but the record
	// disappeared before publishing, so another path resolved it.
	ResultAlreadyResolved
)

// String returns the name of the result.
func (r Result) String() string {
	switch r {
	case ResultUndefined:
		return "undefined"
	case ResultTooRecent:
		return "too_recent"
	case ResultNotStored:
		return "not_stored"
	case ResultMarkedFailed:
		return "marked_failed"
	case ResultPublished:
		return "published"
	case ResultAlreadyResolved:
		return "already_resolved"
	default:
		return "unknown"
	}
}

// Config configures reconciliation.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Interval is the pause between two Job runs of the Scheduler.
	Interval time.Duration

	// GracePeriod is the minimum age of a record before it is reconciled.
	GracePeriod time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Now:         time.Now,
		Interval:    30 * time.Second,
		GracePeriod: 15 * time.Second,
	}
}

// Option is a functional option for configuring reconciliation.
type Option func(*Config)

// WithLogger sets the logger.
func WithLogger(logger es.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

// WithInterval sets the pause between Job runs.
func WithInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Interval = d
	}
}

// WithGracePeriod sets the minimum record age.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Config) {
		c.GracePeriod = d
	}
}

// NewConfig builds a Config from defaults and options.
func NewConfig(opts ...Option) Config {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return config
}

// Service resolves single staging records.
type Service struct {
	config  Config
	staging store.StagingStore
	streams store.StreamStore
	bus     bus.Publisher
}

// NewService creates a Service.
func NewService(staging store.StagingStore, streams store.StreamStore, publisher bus.Publisher, opts ...Option) *Service {
	return &Service{
		config:  NewConfig(opts...),
		staging: staging,
		streams: streams,
		bus:     publisher,
	}
}

// TryReconcile decides the fate of one staging record.
//
// Records younger than the grace period, batches with no stored entry and
// records already resolved elsewhere are left alone. A batch whose stored
// entries differ from the record is abandoned. A batch stored exactly as
// staged is published and its record removed. A store returning more entries
// than were staged yields es.ErrContractViolation, as does a record that
// changed while being reconciled.
//
//nolint:gocritic // hugeParam: records are passed by value like the stores return them
func (s *Service) TryReconcile(ctx context.Context, staged es.StagedEntries) (Result, error) {
	if staged.Age(s.config.Now()) < s.config.GracePeriod {
		return ResultTooRecent, nil
	}

	entries := staged.Entries
	stored, err := s.streams.ReadRange(ctx, entries.StreamID(), entries.MinSequence(), entries.MaxSequence())
	if err != nil {
		return ResultUndefined, fmt.Errorf("failed to read stream %s: %w", entries.StreamID(), err)
	}

	switch {
	case len(stored) == 0:
		return ResultNotStored, nil
	case len(stored) > entries.Len():
		return ResultUndefined, fmt.Errorf("%w: stream %s holds %d entries in range %d-%d, staged %d",
			es.ErrContractViolation, entries.StreamID(), len(stored), entries.MinSequence(), entries.MaxSequence(), entries.Len())
	case len(stored) < entries.Len():
		return s.markFailed(ctx, staged, "partially stored")
	}

	for i := range stored {
		if !stored[i].Equal(entries.At(i)) {
			return s.markFailed(ctx, staged, "stored entries differ")
		}
	}

	current, found, err := s.staging.ReadUnmarked(ctx, staged.StagingID)
	if err != nil {
		return ResultUndefined, fmt.Errorf("failed to re-read staging record %s: %w", staged.StagingID, err)
	}
	if !found {
		if s.config.Logger != nil {
			s.config.Logger.Debug(ctx, "staging record resolved concurrently",
				"staging_id", staged.StagingID)
		}
		return ResultAlreadyResolved, nil
	}
	if !current.Equal(staged) {
		return ResultUndefined, fmt.Errorf("%w: staging record %s changed while reconciling",
			es.ErrContractViolation, staged.StagingID)
	}

	for i := range stored {
		if err := s.bus.Publish(ctx, stored[i]); err != nil {
			return ResultUndefined, fmt.Errorf("failed to publish entry %d of %d for staging record %s: %w",
				i+1, len(stored), staged.StagingID, err)
		}
	}

	if err := s.staging.MarkPublished(ctx, staged.StagingID); err != nil {
		return ResultUndefined, fmt.Errorf("failed to mark staging record %s published: %w", staged.StagingID, err)
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "reconciled staging record",
			"staging_id", staged.StagingID,
			"stream_id", entries.StreamID(),
			"entry_count", len(stored))
	}
	return ResultPublished, nil
}

//nolint:gocritic // hugeParam
func (s *Service) markFailed(ctx context.Context, staged es.StagedEntries, reason string) (Result, error) {
	if err := s.staging.MarkFailed(ctx, staged.StagingID); err != nil {
		return ResultUndefined, fmt.Errorf("failed to mark staging record %s failed: %w", staged.StagingID, err)
	}
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "abandoned staging record",
			"staging_id", staged.StagingID,
			"stream_id", staged.Entries.StreamID(),
			"reason", reason)
	}
	return ResultMarkedFailed, nil
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

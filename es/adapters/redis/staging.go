// Package redis provides a staging store on Redis.
//
// Each record is a string key holding the encoded batch. A sorted set scored
// by staging time in microseconds indexes the records, so a sweep reads them
// oldest first. Both keys change in one MULTI/EXEC transaction. Every key
// carries the hash tag {KeyPrefix}, which keeps the store usable on Redis
// Cluster.
//
// Writes are only as durable as the server's persistence settings. Run Redis
// with appendonly yes and appendfsync always when it backs a staging store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/adapters/internal/stagingcodec"
	"github.com/getpup/pupstream/es/store"
)

// Config configures a StagingStore.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// KeyPrefix namespaces every key the store touches.
	KeyPrefix string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "pupstream:staging",
	}
}

// Option is a functional option for configuring a StagingStore.
type Option func(*StagingStore)

// WithClock replaces the clock used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(s *StagingStore) {
		s.now = now
	}
}

// StagingStore is a store.StagingStore on Redis.
type StagingStore struct {
	client goredis.UniversalClient
	config Config
	now    func() time.Time
}

var _ store.StagingStore = (*StagingStore)(nil)

// NewStagingStore creates a staging store on client.
//
//nolint:gocritic // hugeParam: Config is passed by value for immutability
func NewStagingStore(client goredis.UniversalClient, config Config, opts ...Option) *StagingStore {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}
	s := &StagingStore{
		client: client,
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keys of one store share a cluster slot.
func (s *StagingStore) indexKey() string {
	return "{" + s.config.KeyPrefix + "}:index"
}

func (s *StagingStore) recordKey(id string) string {
	return "{" + s.config.KeyPrefix + "}:record:" + id
}

// Write implements store.StagingStore.
func (s *StagingStore) Write(ctx context.Context, entries es.Entries) (es.StagingID, error) {
	if entries.IsEmpty() {
		return es.StagingID{}, store.ErrNoEntries
	}
	at, err := es.StagingTimeFrom(s.now())
	if err != nil {
		return es.StagingID{}, err
	}
	staged, err := es.NewStagedEntries(es.NewStagingID(), at, entries)
	if err != nil {
		return es.StagingID{}, err
	}
	data, err := stagingcodec.EncodeRecord(staged)
	if err != nil {
		return es.StagingID{}, err
	}

	id := staged.StagingID.String()
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(id), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), goredis.Z{
			Score:  float64(at.Time().UnixMicro()),
			Member: id,
		})
		return nil
	})
	if err != nil {
		return es.StagingID{}, fmt.Errorf("failed to write staging record: %w", err)
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "staging record written",
			"staging_id", staged.StagingID,
			"stream_id", entries.StreamID(),
			"entry_count", entries.Len())
	}
	return staged.StagingID, nil
}

// MarkPublished implements store.StagingStore.
func (s *StagingStore) MarkPublished(ctx context.Context, id es.StagingID) error {
	return s.delete(ctx, id)
}

// MarkFailed implements store.StagingStore.
func (s *StagingStore) MarkFailed(ctx context.Context, id es.StagingID) error {
	return s.delete(ctx, id)
}

func (s *StagingStore) delete(ctx context.Context, id es.StagingID) error {
	key := id.String()
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(key))
		pipe.ZRem(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete staging record %s: %w", id, err)
	}
	return nil
}

// ReadAllUnmarked implements store.StagingStore.
// A record deleted between reading the index and reading the record is
// skipped.
func (s *StagingStore) ReadAllUnmarked(ctx context.Context) ([]es.StagedEntries, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read staging index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read staging records: %w", err)
	}

	records := make([]es.StagedEntries, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		data, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("staging record %s: unexpected value type %T", ids[i], v)
		}
		staged, err := stagingcodec.DecodeRecord([]byte(data))
		if err != nil {
			err = fmt.Errorf("staging record %s: %w", ids[i], err)
			if stagingcodec.SkipCorrupt(ctx, s.config.Logger, err) {
				continue
			}
			return nil, err
		}
		records = append(records, staged)
	}
	return records, nil
}

// ReadUnmarked implements store.StagingStore.
func (s *StagingStore) ReadUnmarked(ctx context.Context, id es.StagingID) (es.StagedEntries, bool, error) {
	data, err := s.client.Get(ctx, s.recordKey(id.String())).Bytes()
	if errors.Is(err, goredis.Nil) {
		return es.StagedEntries{}, false, nil
	}
	if err != nil {
		return es.StagedEntries{}, false, fmt.Errorf("failed to read staging record %s: %w", id, err)
	}

	staged, err := stagingcodec.DecodeRecord(data)
	if err != nil {
		return es.StagedEntries{}, false, fmt.Errorf("staging record %s: %w", id, err)
	}
	return staged, true, nil
}

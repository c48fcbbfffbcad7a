// Package pebble provides a staging store on an embedded Pebble database.
//
// It suits a publishing process that keeps its write-ahead records on local
// disk while the stream store lives elsewhere. Every write is synced to the
// WAL before it returns.
package pebble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/adapters/internal/stagingcodec"
	"github.com/getpup/pupstream/es/store"
)

var (
	recordPrefix = []byte("staging/rec/")
	timePrefix   = []byte("staging/time/")
)

// Config configures a StagingStore.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// Options are passed to pebble.Open. If nil, defaults are used.
	Options *pebble.Options
}

// StagingStore is a store.StagingStore on Pebble. A record is stored under
// its id, and an empty index key ordered by staging time points at it.
type StagingStore struct {
	db     *pebble.DB
	config Config
	now    func() time.Time
}

var _ store.StagingStore = (*StagingStore)(nil)

// Option is a functional option for configuring a StagingStore.
type Option func(*StagingStore)

// WithClock replaces the clock used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(s *StagingStore) {
		s.now = now
	}
}

// Open opens or creates the database in dir.
func Open(dir string, config Config, opts ...Option) (*StagingStore, error) {
	if dir == "" {
		return nil, errors.New("pebble: data directory is required")
	}
	pebbleOpts := config.Options
	if pebbleOpts == nil {
		pebbleOpts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
	}
	s := &StagingStore{db: db, config: config, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *StagingStore) Close() error {
	return s.db.Close()
}

func recordKey(id es.StagingID) []byte {
	u := id.UUID()
	return append(append([]byte{}, recordPrefix...), u[:]...)
}

// timeKey sorts by staging time, then by id.
func timeKey(at es.StagingTime, id es.StagingID) []byte {
	key := make([]byte, 0, len(timePrefix)+8+16)
	key = append(key, timePrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(at.Time().UnixMicro()))
	u := id.UUID()
	return append(key, u[:]...)
}

// prefixEnd returns the first key after every key starting with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	end[len(end)-1]++
	return end
}

// Write implements store.StagingStore.
func (s *StagingStore) Write(ctx context.Context, entries es.Entries) (es.StagingID, error) {
	if entries.IsEmpty() {
		return es.StagingID{}, store.ErrNoEntries
	}
	if err := ctx.Err(); err != nil {
		return es.StagingID{}, err
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

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(recordKey(staged.StagingID), data, nil); err != nil {
		return es.StagingID{}, err
	}
	if err := b.Set(timeKey(at, staged.StagingID), nil, nil); err != nil {
		return es.StagingID{}, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return es.StagingID{}, fmt.Errorf("failed to commit staging record: %w", err)
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
	staged, found, err := s.ReadUnmarked(ctx, id)
	if err != nil || !found {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(recordKey(id), nil); err != nil {
		return err
	}
	if err := b.Delete(timeKey(staged.StagingTime, id), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete staging record %s: %w", id, err)
	}
	return nil
}

// ReadAllUnmarked implements store.StagingStore.
func (s *StagingStore) ReadAllUnmarked(ctx context.Context) ([]es.StagedEntries, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	iter, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: timePrefix,
		UpperBound: prefixEnd(timePrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var records []es.StagedEntries
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := iter.Key()
		var id es.StagingID
		copy(id[:], key[len(key)-16:])

		val, closer, err := snap.Get(recordKey(id))
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read staging record %s: %w", id, err)
		}
		staged, err := stagingcodec.DecodeRecord(val)
		closer.Close()
		if err != nil {
			err = fmt.Errorf("staging record %s: %w", id, err)
			if stagingcodec.SkipCorrupt(ctx, s.config.Logger, err) {
				continue
			}
			return nil, err
		}
		records = append(records, staged)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return records, nil
}

// ReadUnmarked implements store.StagingStore.
func (s *StagingStore) ReadUnmarked(ctx context.Context, id es.StagingID) (es.StagedEntries, bool, error) {
	if err := ctx.Err(); err != nil {
		return es.StagedEntries{}, false, err
	}
	val, closer, err := s.db.Get(recordKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return es.StagedEntries{}, false, nil
	}
	if err != nil {
		return es.StagedEntries{}, false, fmt.Errorf("failed to read staging record %s: %w", id, err)
	}
	defer closer.Close()

	staged, err := stagingcodec.DecodeRecord(val)
	if err != nil {
		return es.StagedEntries{}, false, fmt.Errorf("staging record %s: %w", id, err)
	}
	return staged, true, nil
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/store"
)

// StagingOption is a functional option for configuring a StagingStore.
type StagingOption func(*StagingStore)

// WithClock replaces the clock used to stamp new records.
func WithClock(now func() time.Time) StagingOption {
	return func(s *StagingStore) {
		s.now = now
	}
}

// StagingStore is an in-memory store.StagingStore.
type StagingStore struct {
	mu      sync.Mutex
	records map[es.StagingID]es.StagedEntries
	now     func() time.Time
}

var _ store.StagingStore = (*StagingStore)(nil)

// NewStagingStore creates an empty store.
func NewStagingStore(opts ...StagingOption) *StagingStore {
	s := &StagingStore{
		records: make(map[es.StagingID]es.StagedEntries),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write implements store.StagingStore.
func (s *StagingStore) Write(_ context.Context, entries es.Entries) (es.StagingID, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[staged.StagingID] = staged
	return staged.StagingID, nil
}

// Put stores a fully formed record, replacing any record with the same id.
func (s *StagingStore) Put(staged es.StagedEntries) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[staged.StagingID] = staged
}

// MarkPublished implements store.StagingStore.
func (s *StagingStore) MarkPublished(_ context.Context, id es.StagingID) error {
	s.delete(id)
	return nil
}

// MarkFailed implements store.StagingStore.
func (s *StagingStore) MarkFailed(_ context.Context, id es.StagingID) error {
	s.delete(id)
	return nil
}

func (s *StagingStore) delete(id es.StagingID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// ReadAllUnmarked implements store.StagingStore.
func (s *StagingStore) ReadAllUnmarked(_ context.Context) ([]es.StagedEntries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]es.StagedEntries, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StagingTime.Time().Before(out[j].StagingTime.Time())
	})
	return out, nil
}

// ReadUnmarked implements store.StagingStore.
func (s *StagingStore) ReadUnmarked(_ context.Context, id es.StagingID) (es.StagedEntries, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok, nil
}

// Len returns the number of unmarked records.
func (s *StagingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

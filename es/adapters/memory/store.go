// Package memory provides in-process stream and staging stores.
//
// They honor the full store contracts, which makes them suitable for tests,
// single-process tools and examples. Nothing survives a process restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/store"
)

// AppendFault overrides the outcome of one Append call.
type AppendFault struct {
	// Err is returned alongside Result
	Err error

	// Result is reported to the caller
	Result es.WriteResult

	// Apply stores the batch before reporting Result, which simulates a
	// store that committed but failed to say so.
	Apply bool
}

// StreamStore is an in-memory store.StreamStore.
type StreamStore struct {
	mu      sync.Mutex
	streams map[es.StreamID][]es.Entry
	ids     map[es.EntryID]struct{}
	faults  []AppendFault
}

var _ store.StreamStore = (*StreamStore)(nil)

// NewStreamStore creates an empty store.
func NewStreamStore() *StreamStore {
	return &StreamStore{
		streams: make(map[es.StreamID][]es.Entry),
		ids:     make(map[es.EntryID]struct{}),
	}
}

// InjectAppendFault queues a fault consumed by the next Append call.
func (s *StreamStore) InjectAppendFault(f AppendFault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

// Append implements store.StreamStore.
func (s *StreamStore) Append(_ context.Context, entries es.Entries) (es.WriteResult, error) {
	if entries.IsEmpty() {
		return es.WriteUnknownFailure, store.ErrNoEntries
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.faults) > 0 {
		fault := s.faults[0]
		s.faults = s.faults[1:]
		if fault.Apply {
			if result, err := s.appendLocked(entries); result != es.WriteSuccess {
				return result, err
			}
		}
		return fault.Result, fault.Err
	}

	return s.appendLocked(entries)
}

func (s *StreamStore) appendLocked(entries es.Entries) (es.WriteResult, error) {
	stream := s.streams[entries.StreamID()]

	taken := make(map[es.Sequence]struct{}, len(stream))
	for i := range stream {
		taken[stream[i].Sequence] = struct{}{}
	}

	for i := 0; i < entries.Len(); i++ {
		e := entries.At(i)
		if _, ok := taken[e.Sequence]; ok {
			return es.WriteSequenceAlreadyTaken, nil
		}
		if _, ok := s.ids[e.EntryID]; ok {
			return es.WriteUnknownFailure, fmt.Errorf("entry id %s already stored", e.EntryID)
		}
	}

	stream = append(stream, entries.All()...)
	sort.Slice(stream, func(i, j int) bool { return stream[i].Sequence < stream[j].Sequence })
	s.streams[entries.StreamID()] = stream
	for i := 0; i < entries.Len(); i++ {
		s.ids[entries.At(i).EntryID] = struct{}{}
	}
	return es.WriteSuccess, nil
}

// Read implements store.StreamStore.
func (s *StreamStore) Read(_ context.Context, streamID es.StreamID) ([]es.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[streamID]
	out := make([]es.Entry, len(stream))
	copy(out, stream)
	return out, nil
}

// ReadRange implements store.StreamStore.
func (s *StreamStore) ReadRange(_ context.Context, streamID es.StreamID, minSeq, maxSeq es.Sequence) ([]es.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []es.Entry
	for _, e := range s.streams[streamID] {
		if e.Sequence >= minSeq && e.Sequence <= maxSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Package storetest holds contract tests shared by every store adapter.
//
//	func TestStagingContract(t *testing.T) {
//	    storetest.RunStagingStoreTests(t, func(t *testing.T) store.StagingStore {
//	        return newStore(t)
//	    })
//	}
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/store"
)

// NewBatch returns a valid batch of n entries for stream starting at first.
func NewBatch(stream es.StreamID, first es.Sequence, n int) es.Entries {
	entries := make([]es.Entry, n)
	for i := range entries {
		entries[i] = es.Entry{
			StreamID: stream,
			Sequence: first + es.Sequence(i),
			EntryID:  es.NewEntryID(),
			Descriptor: es.EventDescriptor{
				Payload:         []byte(`{"i":` + string(rune('0'+i%10)) + `}`),
				ContentFormat:   "application/json",
				EventType:       "TestEvent",
				EventTypeFormat: "name",
			},
			Metadata: es.NewEntryMetadata(uuid.New(), uuid.New(), time.Now()),
		}
	}
	return es.MustEntries(entries...)
}

// NewRawBatch is NewBatch with creation times carrying sub-microsecond
// digits, as time.Now() produces them before any normalization.
func NewRawBatch(stream es.StreamID, first es.Sequence, n int) es.Entries {
	entries := NewBatch(stream, first, n).All()
	base := time.Date(2024, 5, 1, 10, 0, 0, 999_999_700, time.FixedZone("CEST", 2*3600))
	for i := range entries {
		entries[i].Metadata = es.EntryMetadata{
			CausationID:   entries[i].Metadata.CausationID,
			CorrelationID: entries[i].Metadata.CorrelationID,
			CreatedAt:     base.Add(time.Duration(i) * time.Nanosecond),
		}
	}
	return es.MustEntries(entries...)
}

// RunStreamStoreTests exercises the store.StreamStore contract.
// newStore must return an empty store for every call.
//
//nolint:gocyclo // one subtest per contract clause
func RunStreamStoreTests(t *testing.T, newStore func(t *testing.T) store.StreamStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("append then read returns equal entries", func(t *testing.T) {
		s := newStore(t)
		stream := es.NewStreamID()
		batch := NewBatch(stream, 0, 3)

		result, err := s.Append(ctx, batch)
		if err != nil || result != es.WriteSuccess {
			t.Fatalf("Append = %s, %v", result, err)
		}

		got, err := s.Read(ctx, stream)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(got))
		}
		if !es.MustEntries(got...).Equal(batch) {
			t.Fatalf("read entries differ from appended entries:\n got %+v\nwant %+v", got, batch.All())
		}
	})

	t.Run("raw creation times read back equal", func(t *testing.T) {
		s := newStore(t)
		stream := es.NewStreamID()
		batch := NewRawBatch(stream, 0, 2)

		if result, err := s.Append(ctx, batch); err != nil || result != es.WriteSuccess {
			t.Fatalf("Append = %s, %v", result, err)
		}
		got, err := s.ReadRange(ctx, stream, 0, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || !es.MustEntries(got...).Equal(batch) {
			t.Fatalf("read entries differ from appended entries:\n got %+v\nwant %+v", got, batch.All())
		}
	})

	t.Run("second batch continues the stream", func(t *testing.T) {
		s := newStore(t)
		stream := es.NewStreamID()
		if r, err := s.Append(ctx, NewBatch(stream, 0, 2)); r != es.WriteSuccess {
			t.Fatalf("first append = %s, %v", r, err)
		}
		if r, err := s.Append(ctx, NewBatch(stream, 2, 2)); r != es.WriteSuccess {
			t.Fatalf("second append = %s, %v", r, err)
		}
		got, err := s.Read(ctx, stream)
		if err != nil {
			t.Fatal(err)
		}
		for i, e := range got {
			if e.Sequence != es.Sequence(i) {
				t.Fatalf("entry %d has sequence %d", i, e.Sequence)
			}
		}
	})

	t.Run("taken sequence is reported and nothing is stored", func(t *testing.T) {
		s := newStore(t)
		stream := es.NewStreamID()
		if r, err := s.Append(ctx, NewBatch(stream, 0, 1)); r != es.WriteSuccess {
			t.Fatalf("first append = %s, %v", r, err)
		}

		result, err := s.Append(ctx, NewBatch(stream, 0, 3))
		if result != es.WriteSequenceAlreadyTaken {
			t.Fatalf("expected SequenceAlreadyTaken, got %s (%v)", result, err)
		}

		got, err := s.Read(ctx, stream)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("conflicting batch must not be partially stored, found %d entries", len(got))
		}
	})

	t.Run("conflict on a later entry rolls back the whole batch", func(t *testing.T) {
		s := newStore(t)
		stream := es.NewStreamID()
		if r, err := s.Append(ctx, NewBatch(stream, 2, 1)); r != es.WriteSuccess {
			t.Fatalf("first append = %s, %v", r, err)
		}

		result, _ := s.Append(ctx, NewBatch(stream, 0, 3))
		if result != es.WriteSequenceAlreadyTaken {
			t.Fatalf("expected SequenceAlreadyTaken, got %s", result)
		}

		got, err := s.ReadRange(ctx, stream, 0, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatalf("expected no entries at 0-1, found %d", len(got))
		}
	})

	t.Run("racing appends have exactly one winner", func(t *testing.T) {
		s := newStore(t)
		stream := es.NewStreamID()

		const writers = 8
		results := make([]es.WriteResult, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _ = s.Append(ctx, NewBatch(stream, 0, 2))
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, r := range results {
			switch r {
			case es.WriteSuccess:
				wins++
			case es.WriteSequenceAlreadyTaken:
			default:
				t.Errorf("unexpected result %s", r)
			}
		}
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	})

	t.Run("read range is inclusive and ordered", func(t *testing.T) {
		s := newStore(t)
		stream := es.NewStreamID()
		if r, err := s.Append(ctx, NewBatch(stream, 0, 6)); r != es.WriteSuccess {
			t.Fatalf("append = %s, %v", r, err)
		}

		got, err := s.ReadRange(ctx, stream, 2, 4)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 || got[0].Sequence != 2 || got[2].Sequence != 4 {
			t.Fatalf("unexpected range result: %+v", got)
		}
	})

	t.Run("unknown stream reads empty", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Read(ctx, es.NewStreamID())
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatalf("expected no entries, got %d", len(got))
		}
	})

	t.Run("streams are independent", func(t *testing.T) {
		s := newStore(t)
		a, b := es.NewStreamID(), es.NewStreamID()
		if r, err := s.Append(ctx, NewBatch(a, 0, 1)); r != es.WriteSuccess {
			t.Fatalf("append a = %s, %v", r, err)
		}
		if r, err := s.Append(ctx, NewBatch(b, 0, 1)); r != es.WriteSuccess {
			t.Fatalf("append b = %s, %v", r, err)
		}
	})
}

// RunStagingStoreTests exercises the store.StagingStore contract.
// newStore must return an empty store for every call.
func RunStagingStoreTests(t *testing.T, newStore func(t *testing.T) store.StagingStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("write then read back", func(t *testing.T) {
		s := newStore(t)
		batch := NewBatch(es.NewStreamID(), 4, 3)

		before := time.Now().Add(-time.Second)
		id, err := s.Write(ctx, batch)
		if err != nil {
			t.Fatal(err)
		}
		if id.IsZero() {
			t.Fatal("expected a staging id")
		}

		staged, ok, err := s.ReadUnmarked(ctx, id)
		if err != nil || !ok {
			t.Fatalf("ReadUnmarked = %v, %v", ok, err)
		}
		if staged.StagingID != id {
			t.Fatalf("unexpected id %s", staged.StagingID)
		}
		if !staged.Entries.Equal(batch) {
			t.Fatal("staged entries differ from written entries")
		}
		at := staged.StagingTime.Time()
		if at.Location() != time.UTC || at.Before(before) || at.After(time.Now().Add(time.Second)) {
			t.Fatalf("unexpected staging time %s", at)
		}
	})

	t.Run("read all returns every record and reads are stable", func(t *testing.T) {
		s := newStore(t)
		ids := map[es.StagingID]bool{}
		for i := 0; i < 3; i++ {
			id, err := s.Write(ctx, NewBatch(es.NewStreamID(), 0, i+1))
			if err != nil {
				t.Fatal(err)
			}
			ids[id] = true
		}

		all, err := s.ReadAllUnmarked(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 records, got %d", len(all))
		}
		for i, r := range all {
			if !ids[r.StagingID] {
				t.Fatalf("unexpected record %s", r.StagingID)
			}
			if i > 0 && r.StagingTime.Time().Before(all[i-1].StagingTime.Time()) {
				t.Fatal("records must be ordered oldest first")
			}
			single, ok, err := s.ReadUnmarked(ctx, r.StagingID)
			if err != nil || !ok {
				t.Fatalf("ReadUnmarked = %v, %v", ok, err)
			}
			if !single.Equal(r) {
				t.Fatal("ReadUnmarked and ReadAllUnmarked disagree")
			}
		}
	})

	t.Run("marks delete and are idempotent", func(t *testing.T) {
		s := newStore(t)
		published, err := s.Write(ctx, NewBatch(es.NewStreamID(), 0, 1))
		if err != nil {
			t.Fatal(err)
		}
		failed, err := s.Write(ctx, NewBatch(es.NewStreamID(), 0, 1))
		if err != nil {
			t.Fatal(err)
		}

		for i := 0; i < 2; i++ {
			if err := s.MarkPublished(ctx, published); err != nil {
				t.Fatalf("MarkPublished #%d: %v", i, err)
			}
			if err := s.MarkFailed(ctx, failed); err != nil {
				t.Fatalf("MarkFailed #%d: %v", i, err)
			}
		}

		for _, id := range []es.StagingID{published, failed} {
			if _, ok, err := s.ReadUnmarked(ctx, id); err != nil || ok {
				t.Fatalf("record %s should be gone (found=%v, err=%v)", id, ok, err)
			}
		}
		all, err := s.ReadAllUnmarked(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 0 {
			t.Fatalf("expected no records, got %d", len(all))
		}
	})

	t.Run("raw creation times are staged unchanged", func(t *testing.T) {
		s := newStore(t)
		batch := NewRawBatch(es.NewStreamID(), 0, 2)

		id, err := s.Write(ctx, batch)
		if err != nil {
			t.Fatal(err)
		}
		staged, ok, err := s.ReadUnmarked(ctx, id)
		if err != nil || !ok {
			t.Fatalf("ReadUnmarked = %v, %v", ok, err)
		}
		if !staged.Entries.Equal(batch) {
			t.Fatalf("staged entries differ:\n got %+v\nwant %+v", staged.Entries.All(), batch.All())
		}
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		s := newStore(t)
		if _, ok, err := s.ReadUnmarked(ctx, es.NewStagingID()); err != nil || ok {
			t.Fatalf("expected not found, got found=%v err=%v", ok, err)
		}
	})
}

package pebble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/store"
	"github.com/getpup/pupstream/es/store/storetest"
)

func openTestStore(t *testing.T, dir string, opts ...Option) *StagingStore {
	t.Helper()
	s, err := Open(dir, Config{}, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestStagingContract(t *testing.T) {
	storetest.RunStagingStoreTests(t, func(t *testing.T) store.StagingStore {
		s := openTestStore(t, t.TempDir())
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpenRequiresDirectory(t *testing.T) {
	if _, err := Open("", Config{}); err == nil {
		t.Fatal("expected an error for an empty directory")
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openTestStore(t, dir)
	batch := storetest.NewBatch(es.NewStreamID(), 0, 2)
	id, err := s.Write(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = openTestStore(t, dir)
	defer s.Close()

	staged, ok, err := s.ReadUnmarked(ctx, id)
	if err != nil || !ok {
		t.Fatalf("ReadUnmarked after reopen = %v, %v", ok, err)
	}
	if !staged.Entries.Equal(batch) {
		t.Fatal("entries changed across reopen")
	}
}

func TestReadAllOrdersByStagingTime(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	offsets := []time.Duration{3 * time.Minute, time.Minute, 2 * time.Minute}

	var next int
	s := openTestStore(t, t.TempDir(), WithClock(func() time.Time {
		return base.Add(offsets[next])
	}))
	defer s.Close()

	ids := make([]es.StagingID, len(offsets))
	for i := range offsets {
		next = i
		id, err := s.Write(ctx, storetest.NewBatch(es.NewStreamID(), 0, 1))
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = id
	}

	all, err := s.ReadAllUnmarked(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []es.StagingID{ids[1], ids[2], ids[0]}
	if len(all) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(all))
	}
	for i, r := range all {
		if r.StagingID != want[i] {
			t.Fatalf("record %d: got %s, want %s", i, r.StagingID, want[i])
		}
	}
}

func TestCancelledContext(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Write(ctx, storetest.NewBatch(es.NewStreamID(), 0, 1)); err == nil {
		t.Fatal("expected Write to fail on a cancelled context")
	}
	if _, _, err := s.ReadUnmarked(ctx, es.NewStagingID()); err == nil {
		t.Fatal("expected ReadUnmarked to fail on a cancelled context")
	}
}

func TestReadAllSkipsUndecodableRecord(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	id, err := s.Write(ctx, storetest.NewBatch(es.NewStreamID(), 0, 1))
	if err != nil {
		t.Fatal(err)
	}

	badID := es.NewStagingID()
	at, err := es.StagingTimeFrom(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	b := s.db.NewBatch()
	_ = b.Set(recordKey(badID), []byte(`{"entries":"garbage"`), nil)
	_ = b.Set(timeKey(at, badID), nil, nil)
	if err := b.Commit(pebble.Sync); err != nil {
		t.Fatal(err)
	}

	all, err := s.ReadAllUnmarked(ctx)
	if err != nil {
		t.Fatalf("ReadAllUnmarked: %v", err)
	}
	if len(all) != 1 || all[0].StagingID != id {
		t.Fatalf("expected only the valid record, got %d records", len(all))
	}

	if _, _, err := s.ReadUnmarked(ctx, badID); !errors.Is(err, es.ErrCorruptStagingRecord) {
		t.Fatalf("expected ErrCorruptStagingRecord, got %v", err)
	}
}

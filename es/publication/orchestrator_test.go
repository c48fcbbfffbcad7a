package publication

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/adapters/memory"
	"github.com/getpup/pupstream/es/store/storetest"
)

// recordingBus stores every published entry. failAt makes the n-th publish
// (1-based) return err.
type recordingBus struct {
	mu     sync.Mutex
	sent   []es.Entry
	failAt int
	err    error
	onSend func(n int)
}

func (b *recordingBus) Publish(_ context.Context, entry es.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.sent) + 1
	if b.failAt == n {
		return b.err
	}
	b.sent = append(b.sent, entry)
	if b.onSend != nil {
		b.onSend(n)
	}
	return nil
}

func (b *recordingBus) published() []es.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]es.Entry, len(b.sent))
	copy(out, b.sent)
	return out
}

type fixture struct {
	staging *memory.StagingStore
	streams *memory.StreamStore
	bus     *recordingBus
	orch    *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		staging: memory.NewStagingStore(),
		streams: memory.NewStreamStore(),
		bus:     &recordingBus{},
	}
	f.orch = New(f.staging, f.streams, f.bus, WithLogger(es.NoOpLogger{}))
	return f
}

func TestPublish_Success(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	stream := es.NewStreamID()
	batch := storetest.NewBatch(stream, 0, 3)

	if err := f.orch.Publish(ctx, batch); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	stored, _ := f.streams.Read(ctx, stream)
	if !es.MustEntries(stored...).Equal(batch) {
		t.Fatal("stream does not contain the batch")
	}

	sent := f.bus.published()
	if len(sent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(sent))
	}
	for i, e := range sent {
		if !e.Equal(batch.At(i)) {
			t.Fatalf("message %d out of order: sequence %d", i, e.Sequence)
		}
	}

	if f.staging.Len() != 0 {
		t.Fatal("staging record should be gone after publishing")
	}
}

func TestPublish_OptimisticConcurrencyConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	stream := es.NewStreamID()

	if err := f.orch.Publish(ctx, storetest.NewBatch(stream, 0, 1)); err != nil {
		t.Fatal(err)
	}
	before := len(f.bus.published())

	err := f.orch.Publish(ctx, storetest.NewBatch(stream, 0, 2))
	if !errors.Is(err, es.ErrOptimisticConcurrency) {
		t.Fatalf("expected ErrOptimisticConcurrency, got %v", err)
	}

	if f.staging.Len() != 0 {
		t.Fatal("staging record should be deleted on conflict")
	}
	if n := len(f.bus.published()) - before; n != 0 {
		t.Fatalf("conflicting batch must not be published, got %d messages", n)
	}
	stored, _ := f.streams.Read(ctx, stream)
	if len(stored) != 1 {
		t.Fatalf("expected only the first batch in the stream, got %d entries", len(stored))
	}
}

func TestPublish_UnknownFailureKeepsRecord(t *testing.T) {
	boom := errors.New("connection reset by peer")

	tests := []struct {
		name  string
		fault memory.AppendFault
	}{
		{"nothing appended", memory.AppendFault{Result: es.WriteUnknownFailure, Err: boom}},
		{"appended but unacknowledged", memory.AppendFault{Result: es.WriteUnknownFailure, Err: boom, Apply: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.streams.InjectAppendFault(tt.fault)

			err := f.orch.Publish(context.Background(), storetest.NewBatch(es.NewStreamID(), 0, 2))
			if !errors.Is(err, es.ErrAppendingFailed) {
				t.Fatalf("expected ErrAppendingFailed, got %v", err)
			}
			if !errors.Is(err, boom) {
				t.Fatalf("expected cause to be wrapped, got %v", err)
			}
			if f.staging.Len() != 1 {
				t.Fatal("staging record must be kept for reconciliation")
			}
			if len(f.bus.published()) != 0 {
				t.Fatal("nothing may be published after an unknown failure")
			}
		})
	}
}

func TestPublish_UndefinedResultIsContractViolation(t *testing.T) {
	f := newFixture()
	f.streams.InjectAppendFault(memory.AppendFault{Result: es.WriteUndefined})

	err := f.orch.Publish(context.Background(), storetest.NewBatch(es.NewStreamID(), 0, 1))
	if !errors.Is(err, es.ErrContractViolation) {
		t.Fatalf("expected ErrContractViolation, got %v", err)
	}
}

func TestPublish_BusFailureKeepsRecord(t *testing.T) {
	f := newFixture()
	boom := errors.New("nack")
	f.bus.failAt = 2
	f.bus.err = boom

	err := f.orch.Publish(context.Background(), storetest.NewBatch(es.NewStreamID(), 0, 3))
	if !errors.Is(err, boom) {
		t.Fatalf("expected bus error, got %v", err)
	}
	if len(f.bus.published()) != 1 {
		t.Fatalf("publishing must stop at the first failure, got %d messages", len(f.bus.published()))
	}
	if f.staging.Len() != 1 {
		t.Fatal("staging record must be kept for reconciliation")
	}
}

func TestPublish_CancelledMidBatchKeepsRecord(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.bus.onSend = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	err := f.orch.Publish(ctx, storetest.NewBatch(es.NewStreamID(), 0, 3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.bus.published()) != 1 {
		t.Fatalf("expected 1 message before cancellation, got %d", len(f.bus.published()))
	}
	if f.staging.Len() != 1 {
		t.Fatal("staging record must be kept for reconciliation")
	}
}

func TestPublish_EmptyBatch(t *testing.T) {
	f := newFixture()
	if err := f.orch.Publish(context.Background(), es.Entries{}); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestPublish_SendsStoredCreationTime(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	stream := es.NewStreamID()
	batch := storetest.NewRawBatch(stream, 0, 2)

	if err := f.orch.Publish(ctx, batch); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	stored, _ := f.streams.Read(ctx, stream)
	sent := f.bus.published()
	if len(sent) != 2 || len(stored) != 2 {
		t.Fatalf("expected 2 sent and 2 stored, got %d and %d", len(sent), len(stored))
	}
	for i := range sent {
		created := sent[i].Metadata.CreatedAt
		if created.Nanosecond()%1000 != 0 || !created.Equal(stored[i].Metadata.CreatedAt) {
			t.Fatalf("message %d created_at %s, stored %s", i, created, stored[i].Metadata.CreatedAt)
		}
	}
}

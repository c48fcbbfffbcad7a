package stagingcodec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/store/storetest"
)

func TestEntriesRoundTrip(t *testing.T) {
	batch := storetest.NewBatch(es.NewStreamID(), 11, 4)

	data, err := EncodeEntries(batch)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeEntries(data)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(batch) {
		t.Fatal("decoded batch differs")
	}
	if loc := got.At(0).Metadata.CreatedAt.Location(); loc != time.UTC {
		t.Fatalf("expected UTC, got %s", loc)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	at, err := es.StagingTimeFrom(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	staged, err := es.NewStagedEntries(es.NewStagingID(), at, storetest.NewBatch(es.NewStreamID(), 0, 2))
	if err != nil {
		t.Fatal(err)
	}

	data, err := EncodeRecord(staged)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeRecord(data)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(staged) {
		t.Fatal("decoded record differs")
	}
}

func TestDecodeRejectsInvalidBatches(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{`},
		{"empty", `[]`},
		{"zero ids", `[{"stream_id":"00000000-0000-0000-0000-000000000000","sequence":0}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEntries([]byte(tt.data))
			if !errors.Is(err, es.ErrCorruptStagingRecord) {
				t.Fatalf("expected ErrCorruptStagingRecord, got %v", err)
			}
			if _, err := DecodeRecord([]byte(tt.data)); !errors.Is(err, es.ErrCorruptStagingRecord) {
				t.Fatalf("expected ErrCorruptStagingRecord from DecodeRecord, got %v", err)
			}
		})
	}

	if _, err := DecodeEntries([]byte(`[]`)); !errors.Is(err, es.ErrInvalidEntries) {
		t.Fatalf("expected ErrInvalidEntries, got %v", err)
	}
}

type countingLogger struct {
	es.NoOpLogger
	errors int
}

func (l *countingLogger) Error(context.Context, string, ...interface{}) { l.errors++ }

func TestSkipCorrupt(t *testing.T) {
	ctx := context.Background()
	logger := &countingLogger{}

	_, decodeErr := DecodeEntries([]byte(`{`))
	if !SkipCorrupt(ctx, logger, decodeErr) {
		t.Fatal("decode failure should be skipped")
	}
	if logger.errors != 1 {
		t.Fatalf("expected one logged error, got %d", logger.errors)
	}
	if SkipCorrupt(ctx, logger, errors.New("connection reset")) {
		t.Fatal("storage failure must not be skipped")
	}
	if !SkipCorrupt(ctx, nil, Corrupt(Corrupt(errors.New("bad")))) {
		t.Fatal("wrapped corrupt error should be skipped without a logger")
	}
}

// Package stagingcodec serializes staged batches for the staging adapters.
//
// Every adapter stores the batch as one opaque JSON document so that a
// record is written and deleted atomically as a single row or key.
package stagingcodec

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/getpup/pupstream/es"
)

type entryDoc struct {
	StreamID        uuid.UUID `json:"stream_id"`
	Sequence        int64     `json:"sequence"`
	EntryID         uuid.UUID `json:"entry_id"`
	Payload         []byte    `json:"payload"`
	ContentFormat   string    `json:"content_format"`
	EventType       string    `json:"event_type"`
	EventTypeFormat string    `json:"event_type_format"`
	CausationID     uuid.UUID `json:"causation_id"`
	CorrelationID   uuid.UUID `json:"correlation_id"`
	CreatedAt       time.Time `json:"created_at"`
}

type recordDoc struct {
	StagingID   uuid.UUID  `json:"staging_id"`
	StagingTime time.Time  `json:"staging_time"`
	Entries     []entryDoc `json:"entries"`
}

// EncodeEntries serializes a batch.
func EncodeEntries(entries es.Entries) ([]byte, error) {
	data, err := json.Marshal(toDocs(entries))
	if err != nil {
		return nil, fmt.Errorf("failed to encode entries: %w", err)
	}
	return data, nil
}

// DecodeEntries parses a batch produced by EncodeEntries and revalidates it.
func DecodeEntries(data []byte) (es.Entries, error) {
	var docs []entryDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return es.Entries{}, Corrupt(fmt.Errorf("failed to decode entries: %w", err))
	}
	entries, err := fromDocs(docs)
	if err != nil {
		return es.Entries{}, Corrupt(err)
	}
	return entries, nil
}

// EncodeRecord serializes a whole staging record.
//
//nolint:gocritic // hugeParam
func EncodeRecord(staged es.StagedEntries) ([]byte, error) {
	data, err := json.Marshal(recordDoc{
		StagingID:   staged.StagingID.UUID(),
		StagingTime: staged.StagingTime.Time(),
		Entries:     toDocs(staged.Entries),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode staging record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a record produced by EncodeRecord.
func DecodeRecord(data []byte) (es.StagedEntries, error) {
	var doc recordDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return es.StagedEntries{}, Corrupt(fmt.Errorf("failed to decode staging record: %w", err))
	}
	entries, err := fromDocs(doc.Entries)
	if err != nil {
		return es.StagedEntries{}, Corrupt(err)
	}
	at, err := es.StagingTimeFrom(doc.StagingTime)
	if err != nil {
		return es.StagedEntries{}, Corrupt(err)
	}
	staged, err := es.NewStagedEntries(es.StagingID(doc.StagingID), at, entries)
	if err != nil {
		return es.StagedEntries{}, Corrupt(err)
	}
	return staged, nil
}

// Corrupt marks err as a decoding failure of a stored record.
func Corrupt(err error) error {
	if errors.Is(err, es.ErrCorruptStagingRecord) {
		return err
	}
	return fmt.Errorf("%w: %w", es.ErrCorruptStagingRecord, err)
}

// SkipCorrupt reports whether err marks an undecodable record, logging it if so.
// ReadAllUnmarked leaves such records out and returns the rest.
func SkipCorrupt(ctx context.Context, logger es.Logger, err error) bool {
	if !errors.Is(err, es.ErrCorruptStagingRecord) {
		return false
	}
	if logger != nil {
		logger.Error(ctx, "skipping undecodable staging record", "error", err)
	}
	return true
}

func toDocs(entries es.Entries) []entryDoc {
	docs := make([]entryDoc, entries.Len())
	for i := range docs {
		e := entries.At(i)
		docs[i] = entryDoc{
			StreamID:        e.StreamID.UUID(),
			Sequence:        int64(e.Sequence),
			EntryID:         e.EntryID.UUID(),
			Payload:         e.Descriptor.Payload,
			ContentFormat:   e.Descriptor.ContentFormat,
			EventType:       e.Descriptor.EventType,
			EventTypeFormat: e.Descriptor.EventTypeFormat,
			CausationID:     e.Metadata.CausationID,
			CorrelationID:   e.Metadata.CorrelationID,
			CreatedAt:       e.Metadata.CreatedAt,
		}
	}
	return docs
}

func fromDocs(docs []entryDoc) (es.Entries, error) {
	entries := make([]es.Entry, len(docs))
	for i := range docs {
		d := &docs[i]
		entries[i] = es.Entry{
			StreamID: es.StreamID(d.StreamID),
			Sequence: es.Sequence(d.Sequence),
			EntryID:  es.EntryID(d.EntryID),
			Descriptor: es.EventDescriptor{
				Payload:         d.Payload,
				ContentFormat:   d.ContentFormat,
				EventType:       d.EventType,
				EventTypeFormat: d.EventTypeFormat,
			},
			Metadata: es.NewEntryMetadata(d.CausationID, d.CorrelationID, d.CreatedAt),
		}
	}
	return es.NewEntries(entries...)
}

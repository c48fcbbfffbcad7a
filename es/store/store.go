// Package store defines the persistence contracts of the publication pipeline.
package store

import (
	"context"
	"errors"

	"github.com/getpup/pupstream/es"
)

var (
	// ErrNoEntries indicates an attempt to append or stage an empty batch.
	ErrNoEntries = errors.New("no entries")
)

// StreamStore persists streams.
type StreamStore interface {
	// Append atomically appends the batch: every entry is stored or none is.
	// Conflicts on (stream, sequence) must be detected deterministically, so
	// that of two racing appends claiming the same sequence exactly one
	// reports es.WriteSuccess.
	//
	// The returned error is non-nil only together with es.WriteUnknownFailure
	// and describes the failure.
	Append(ctx context.Context, entries es.Entries) (es.WriteResult, error)

	// Read returns every entry of the stream ordered by sequence.
	Read(ctx context.Context, streamID es.StreamID) ([]es.Entry, error)

	// ReadRange returns the entries of the stream whose sequence lies within
	// [minSeq, maxSeq], ordered by sequence.
	ReadRange(ctx context.Context, streamID es.StreamID, minSeq, maxSeq es.Sequence) ([]es.Entry, error)
}

// StagingStore persists staging records.
type StagingStore interface {
	// Write durably records the batch under a fresh staging id and the current
	// UTC time. The record is durable when Write returns.
	Write(ctx context.Context, entries es.Entries) (es.StagingID, error)

	// MarkPublished deletes the record after its entries reached the bus.
	// Deleting an absent record is not an error.
	MarkPublished(ctx context.Context, id es.StagingID) error

	// MarkFailed deletes the record of a batch that was not appended.
	// Deleting an absent record is not an error.
	MarkFailed(ctx context.Context, id es.StagingID) error

	// ReadAllUnmarked returns every record that has not been deleted,
	// oldest first. Records that cannot be decoded are logged and left out.
	ReadAllUnmarked(ctx context.Context) ([]es.StagedEntries, error)

	// ReadUnmarked returns the record with the given id. The boolean is false
	// when no such record exists. An undecodable record fails with
	// es.ErrCorruptStagingRecord.
	ReadUnmarked(ctx context.Context, id es.StagingID) (es.StagedEntries, bool, error)
}

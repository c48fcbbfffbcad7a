package es

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sequence is the zero-based position of an entry within its stream.
// Entry N+1 of a stream always has sequence N+1.
type Sequence int64

// EventDescriptor carries a serialized event. The payload is opaque at this layer.
type EventDescriptor struct {
	// Payload is the serialized event body
	Payload []byte

	// ContentFormat tags the payload encoding, e.g. "application/json"
	ContentFormat string

	// EventType identifies the event type
	EventType string

	// EventTypeFormat tags how EventType is to be interpreted
	EventTypeFormat string
}

// Equal reports whether d and other describe the same serialized event.
func (d EventDescriptor) Equal(other EventDescriptor) bool {
	return bytes.Equal(d.Payload, other.Payload) &&
		d.ContentFormat == other.ContentFormat &&
		d.EventType == other.EventType &&
		d.EventTypeFormat == other.EventTypeFormat
}

// EntryMetadata holds tracing information for an entry.
type EntryMetadata struct {
	// CausationID identifies the message that caused this entry
	CausationID uuid.UUID

	// CorrelationID links related entries across streams
	CorrelationID uuid.UUID

	// CreatedAt is the UTC creation time, truncated to microseconds so that it
	// survives a round trip through any of the supported databases unchanged.
	CreatedAt time.Time
}

// NewEntryMetadata returns metadata with createdAt normalized to UTC microseconds.
func NewEntryMetadata(causationID, correlationID uuid.UUID, createdAt time.Time) EntryMetadata {
	return EntryMetadata{
		CausationID:   causationID,
		CorrelationID: correlationID,
		CreatedAt:     createdAt.UTC().Truncate(time.Microsecond),
	}
}

// Equal reports whether m and other are the same metadata.
func (m EntryMetadata) Equal(other EntryMetadata) bool {
	return m.CausationID == other.CausationID &&
		m.CorrelationID == other.CorrelationID &&
		m.CreatedAt.Equal(other.CreatedAt)
}

// Entry is one immutable element of a stream.
type Entry struct {
	StreamID   StreamID
	Sequence   Sequence
	EntryID    EntryID
	Descriptor EventDescriptor
	Metadata   EntryMetadata
}

// Equal reports whether e and other agree on every field.
//
//nolint:gocritic // hugeParam: entries are compared by value
func (e Entry) Equal(other Entry) bool {
	return e.StreamID == other.StreamID &&
		e.Sequence == other.Sequence &&
		e.EntryID == other.EntryID &&
		e.Descriptor.Equal(other.Descriptor) &&
		e.Metadata.Equal(other.Metadata)
}

// Entries is a non-empty, ordered batch of entries of one stream with strictly
// contiguous sequences. It is the unit of atomic append.
type Entries struct {
	items []Entry
}

// NewEntries validates and copies the given entries into a batch.
// It fails with ErrInvalidEntries when the batch is empty, mixes streams,
// has a gap or reversal in sequences, or contains a zero identifier.
// Creation times are normalized to UTC microseconds, the precision every
// store keeps, so a batch reads back equal to what was appended.
func NewEntries(entries ...Entry) (Entries, error) {
	if len(entries) == 0 {
		return Entries{}, fmt.Errorf("%w: batch is empty", ErrInvalidEntries)
	}

	first := entries[0]
	if first.StreamID.IsZero() {
		return Entries{}, fmt.Errorf("%w: entry 0: zero stream id", ErrInvalidEntries)
	}
	if first.Sequence < 0 {
		return Entries{}, fmt.Errorf("%w: entry 0: negative sequence %d", ErrInvalidEntries, first.Sequence)
	}

	for i := range entries {
		e := &entries[i]
		if e.EntryID.IsZero() {
			return Entries{}, fmt.Errorf("%w: entry %d: zero entry id", ErrInvalidEntries, i)
		}
		if e.StreamID != first.StreamID {
			return Entries{}, fmt.Errorf("%w: entry %d: stream id %s differs from %s",
				ErrInvalidEntries, i, e.StreamID, first.StreamID)
		}
		if want := first.Sequence + Sequence(i); e.Sequence != want {
			return Entries{}, fmt.Errorf("%w: entry %d: sequence %d, expected %d",
				ErrInvalidEntries, i, e.Sequence, want)
		}
	}

	items := make([]Entry, len(entries))
	copy(items, entries)
	for i := range items {
		items[i].Metadata.CreatedAt = items[i].Metadata.CreatedAt.UTC().Truncate(time.Microsecond)
	}
	return Entries{items: items}, nil
}

// MustEntries is like NewEntries but panics on invalid input.
// It is intended for tests and static fixtures.
func MustEntries(entries ...Entry) Entries {
	batch, err := NewEntries(entries...)
	if err != nil {
		panic(err)
	}
	return batch
}

// Len returns the number of entries in the batch.
func (b Entries) Len() int { return len(b.items) }

// IsEmpty reports whether b is the zero Entries value.
func (b Entries) IsEmpty() bool { return len(b.items) == 0 }

// At returns the i-th entry.
func (b Entries) At(i int) Entry { return b.items[i] }

// All returns a copy of the entries in order.
func (b Entries) All() []Entry {
	out := make([]Entry, len(b.items))
	copy(out, b.items)
	return out
}

// StreamID returns the stream shared by every entry.
func (b Entries) StreamID() StreamID {
	if len(b.items) == 0 {
		return StreamID{}
	}
	return b.items[0].StreamID
}

// MinSequence returns the sequence of the first entry.
func (b Entries) MinSequence() Sequence {
	if len(b.items) == 0 {
		return 0
	}
	return b.items[0].Sequence
}

// MaxSequence returns the sequence of the last entry.
func (b Entries) MaxSequence() Sequence {
	if len(b.items) == 0 {
		return 0
	}
	return b.items[len(b.items)-1].Sequence
}

// Equal reports whether both batches hold equal entries in the same order.
func (b Entries) Equal(other Entries) bool {
	if len(b.items) != len(other.items) {
		return false
	}
	for i := range b.items {
		if !b.items[i].Equal(other.items[i]) {
			return false
		}
	}
	return true
}

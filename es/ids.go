package es

import (
	"fmt"

	"github.com/google/uuid"
)

// StreamID identifies the stream of a single aggregate instance.
type StreamID uuid.UUID

// EntryID identifies a single entry. It is unique and never the zero value.
type EntryID uuid.UUID

// StagingID identifies one staging record, that is one publish attempt.
type StagingID uuid.UUID

// NewStreamID returns a random StreamID.
func NewStreamID() StreamID { return StreamID(uuid.New()) }

// NewEntryID returns a random EntryID.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

// NewStagingID returns a random StagingID.
func NewStagingID() StagingID { return StagingID(uuid.New()) }

// ParseStreamID parses the canonical textual form of a StreamID.
func ParseStreamID(s string) (StreamID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return StreamID{}, fmt.Errorf("parse stream id: %w", err)
	}
	return StreamID(id), nil
}

// ParseEntryID parses the canonical textual form of an EntryID.
func ParseEntryID(s string) (EntryID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return EntryID{}, fmt.Errorf("parse entry id: %w", err)
	}
	return EntryID(id), nil
}

// ParseStagingID parses the canonical textual form of a StagingID.
func ParseStagingID(s string) (StagingID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return StagingID{}, fmt.Errorf("parse staging id: %w", err)
	}
	return StagingID(id), nil
}

func (id StreamID) String() string  { return uuid.UUID(id).String() }
func (id EntryID) String() string   { return uuid.UUID(id).String() }
func (id StagingID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether id is the zero value.
func (id StreamID) IsZero() bool { return id == StreamID{} }

// IsZero reports whether id is the zero value.
func (id EntryID) IsZero() bool { return id == EntryID{} }

// IsZero reports whether id is the zero value.
func (id StagingID) IsZero() bool { return id == StagingID{} }

// UUID returns the underlying UUID, for drivers that bind uuid.UUID natively.
func (id StreamID) UUID() uuid.UUID { return uuid.UUID(id) }

// UUID returns the underlying UUID.
func (id EntryID) UUID() uuid.UUID { return uuid.UUID(id) }

// UUID returns the underlying UUID.
func (id StagingID) UUID() uuid.UUID { return uuid.UUID(id) }

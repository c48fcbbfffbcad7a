package es

import (
	"fmt"
	"time"
)

// maxStagingTime is the upper sentinel. It is never a valid staging time.
var maxStagingTime = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)

// StagingTime is the UTC instant a publish attempt began.
type StagingTime struct {
	t time.Time
}

// NewStagingTime validates t. The zero time, the maximum sentinel and
// times outside the UTC location are rejected with ErrInvalidStagingTime.
func NewStagingTime(t time.Time) (StagingTime, error) {
	if t.IsZero() {
		return StagingTime{}, fmt.Errorf("%w: zero time", ErrInvalidStagingTime)
	}
	if !t.Before(maxStagingTime) {
		return StagingTime{}, fmt.Errorf("%w: maximum sentinel", ErrInvalidStagingTime)
	}
	if t.Location() != time.UTC {
		return StagingTime{}, fmt.Errorf("%w: %s is not UTC", ErrInvalidStagingTime, t.Location())
	}
	return StagingTime{t: t}, nil
}

// StagingTimeFrom normalizes t to UTC microseconds and validates it.
// Stores use it when stamping new records or decoding persisted ones.
func StagingTimeFrom(t time.Time) (StagingTime, error) {
	return NewStagingTime(t.UTC().Truncate(time.Microsecond))
}

// Time returns the underlying instant.
func (s StagingTime) Time() time.Time { return s.t }

// IsZero reports whether s is unset.
func (s StagingTime) IsZero() bool { return s.t.IsZero() }

// Equal reports whether both staging times denote the same instant.
func (s StagingTime) Equal(other StagingTime) bool { return s.t.Equal(other.t) }

// String returns the RFC 3339 representation.
func (s StagingTime) String() string { return s.t.Format(time.RFC3339Nano) }

// StagedEntries is a write-ahead declaration that Entries were intended to be
// appended at StagingTime. It is deleted once the batch is published or
// abandoned; while it exists the batch's fate is unknown.
type StagedEntries struct {
	StagingID   StagingID
	StagingTime StagingTime
	Entries     Entries
}

// NewStagedEntries assembles a staged record, rejecting zero components.
func NewStagedEntries(id StagingID, at StagingTime, entries Entries) (StagedEntries, error) {
	if id.IsZero() {
		return StagedEntries{}, fmt.Errorf("%w: zero staging id", ErrInvalidEntries)
	}
	if at.IsZero() {
		return StagedEntries{}, fmt.Errorf("%w: zero time", ErrInvalidStagingTime)
	}
	if entries.IsEmpty() {
		return StagedEntries{}, fmt.Errorf("%w: batch is empty", ErrInvalidEntries)
	}
	return StagedEntries{StagingID: id, StagingTime: at, Entries: entries}, nil
}

// Age returns how long ago the record was staged relative to now.
func (s StagedEntries) Age(now time.Time) time.Duration {
	return now.Sub(s.StagingTime.Time())
}

// Equal reports whether both records agree on every field.
//
//nolint:gocritic // hugeParam: compared by value
func (s StagedEntries) Equal(other StagedEntries) bool {
	return s.StagingID == other.StagingID &&
		s.StagingTime.Equal(other.StagingTime) &&
		s.Entries.Equal(other.Entries)
}

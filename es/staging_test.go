package es

import (
	"errors"
	"testing"
	"time"
)

func TestNewStagingTime(t *testing.T) {
	tests := []struct {
		name    string
		at      time.Time
		wantErr bool
	}{
		{name: "utc now is valid", at: time.Now().UTC()},
		{name: "zero time is invalid", at: time.Time{}, wantErr: true},
		{name: "max sentinel is invalid", at: maxStagingTime, wantErr: true},
		{name: "local time is invalid", at: time.Now().In(time.FixedZone("X", 7200)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStagingTime(tt.at)
			if tt.wantErr && !errors.Is(err, ErrInvalidStagingTime) {
				t.Fatalf("expected ErrInvalidStagingTime, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestStagingTimeFrom_Normalizes(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 6789, time.FixedZone("X", -3600))
	st, err := StagingTimeFrom(at)
	if err != nil {
		t.Fatal(err)
	}
	if st.Time().Location() != time.UTC || st.Time().Nanosecond() != 6000 {
		t.Fatalf("unexpected normalization: %s", st)
	}
	if !st.Time().Equal(at.Truncate(time.Microsecond)) {
		t.Fatal("normalization must preserve the instant")
	}
}

func TestNewStagedEntries(t *testing.T) {
	stream := NewStreamID()
	batch := MustEntries(testEntry(stream, 0))
	at, _ := StagingTimeFrom(time.Now())

	if _, err := NewStagedEntries(StagingID{}, at, batch); err == nil {
		t.Error("expected zero staging id to fail")
	}
	if _, err := NewStagedEntries(NewStagingID(), StagingTime{}, batch); err == nil {
		t.Error("expected zero staging time to fail")
	}
	if _, err := NewStagedEntries(NewStagingID(), at, Entries{}); err == nil {
		t.Error("expected empty entries to fail")
	}

	staged, err := NewStagedEntries(NewStagingID(), at, batch)
	if err != nil {
		t.Fatal(err)
	}
	if got := staged.Age(at.Time().Add(20 * time.Second)); got != 20*time.Second {
		t.Errorf("Age() = %s, want 20s", got)
	}
}

func TestStagedEntries_Equal(t *testing.T) {
	stream := NewStreamID()
	batch := MustEntries(testEntry(stream, 0), testEntry(stream, 1))
	at, _ := StagingTimeFrom(time.Now())
	id := NewStagingID()

	a, _ := NewStagedEntries(id, at, batch)
	b, _ := NewStagedEntries(id, at, batch)
	if !a.Equal(b) {
		t.Error("identical records should be equal")
	}

	later, _ := StagingTimeFrom(at.Time().Add(time.Millisecond))
	c, _ := NewStagedEntries(id, later, batch)
	if a.Equal(c) {
		t.Error("records staged at different times should differ")
	}

	d, _ := NewStagedEntries(NewStagingID(), at, batch)
	if a.Equal(d) {
		t.Error("records with different ids should differ")
	}
}

func TestWriteResult_String(t *testing.T) {
	tests := map[WriteResult]string{
		WriteUndefined:            "Undefined",
		WriteSuccess:              "Success",
		WriteSequenceAlreadyTaken: "SequenceAlreadyTaken",
		WriteUnknownFailure:       "UnknownFailure",
		WriteResult(99):           "WriteResult(?)",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(r), got, want)
		}
	}
}

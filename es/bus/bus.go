// Package bus defines how entries leave the library towards a message bus.
package bus

import (
	"context"
	"strconv"
	"time"

	"github.com/getpup/pupstream/es"
)

// Publisher sends one entry to the bus and returns once the broker confirmed it.
// Implementations are used by the live publish path and by reconciliation.
type Publisher interface {
	Publish(ctx context.Context, entry es.Entry) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, entry es.Entry) error

// Publish implements Publisher.
//
//nolint:gocritic // hugeParam: entries are passed by value throughout the library
func (f PublisherFunc) Publish(ctx context.Context, entry es.Entry) error {
	return f(ctx, entry)
}

// Header names attached to every published message.
const (
	HeaderStreamID        = "stream_id"
	HeaderSequence        = "sequence"
	HeaderEntryID         = "entry_id"
	HeaderEventType       = "event_type"
	HeaderEventTypeFormat = "event_type_format"
	HeaderCausationID     = "causation_id"
	HeaderCorrelationID   = "correlation_id"
	HeaderCreatedAt       = "created_at"
)

// Headers returns the transport-neutral headers describing entry.
// The payload itself travels as the message body.
//
//nolint:gocritic // hugeParam: entries are passed by value throughout the library
func Headers(entry es.Entry) map[string]string {
	return map[string]string{
		HeaderStreamID:        entry.StreamID.String(),
		HeaderSequence:        strconv.FormatInt(int64(entry.Sequence), 10),
		HeaderEntryID:         entry.EntryID.String(),
		HeaderEventType:       entry.Descriptor.EventType,
		HeaderEventTypeFormat: entry.Descriptor.EventTypeFormat,
		HeaderCausationID:     entry.Metadata.CausationID.String(),
		HeaderCorrelationID:   entry.Metadata.CorrelationID.String(),
		HeaderCreatedAt:       entry.Metadata.CreatedAt.Format(time.RFC3339Nano),
	}
}

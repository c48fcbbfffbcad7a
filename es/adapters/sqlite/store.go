// Package sqlite provides SQLite stream and staging stores.
//
// Timestamps are stored as fixed-width UTC text, so ordering by the column
// orders by time. Open the database with a single connection
// (db.SetMaxOpenConns(1)) or a busy timeout so concurrent appends queue
// instead of failing with SQLITE_BUSY.
package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/store"
)

const (
	// sqliteDateTimeFormat is the format used for timestamp storage/parsing in SQLite
	sqliteDateTimeFormat = "2006-01-02T15:04:05.000000Z"
)

// StoreConfig contains configuration for the SQLite stores.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// EntriesTable is the name of the stream entries table
	EntriesTable string

	// StagingTable is the name of the staging table
	StagingTable string
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		EntriesTable: "entries",
		StagingTable: "staged_entries",
		Logger:       nil, // No logging by default
	}
}

// StoreOption is a functional option for configuring the stores.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the stores.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithEntriesTable sets a custom entries table name.
func WithEntriesTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.EntriesTable = tableName
	}
}

// WithStagingTable sets a custom staging table name.
func WithStagingTable(tableName string) StoreOption {
	return func(c *StoreConfig) {
		c.StagingTable = tableName
	}
}

// NewStoreConfig creates a new store configuration with functional options.
// It starts with the default configuration and applies the given options.
//
// Example:
//
//	config := sqlite.NewStoreConfig(
//	    sqlite.WithLogger(myLogger),
//	    sqlite.WithEntriesTable("custom_entries"),
//	)
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is a SQLite-backed store.StreamStore.
type Store struct {
	db     es.DB
	config StoreConfig
}

var _ store.StreamStore = (*Store)(nil)

// NewStore creates a stream store on db.
func NewStore(db es.DB, config StoreConfig) *Store {
	return &Store{
		db:     db,
		config: config,
	}
}

// Append implements store.StreamStore.
func (s *Store) Append(ctx context.Context, entries es.Entries) (es.WriteResult, error) {
	if entries.IsEmpty() {
		return es.WriteUnknownFailure, store.ErrNoEntries
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return es.WriteUnknownFailure, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error ignored: expected to fail if commit succeeds
		tx.Rollback()
	}()

	query := fmt.Sprintf(`
		INSERT INTO %s (
			stream_id, sequence, entry_id,
			payload, content_format, event_type, event_type_format,
			causation_id, correlation_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.config.EntriesTable)

	for i := 0; i < entries.Len(); i++ {
		e := entries.At(i)
		payload := e.Descriptor.Payload
		if payload == nil {
			payload = []byte{}
		}
		_, execErr := tx.ExecContext(ctx, query,
			e.StreamID.String(),
			int64(e.Sequence),
			e.EntryID.String(),
			payload,
			e.Descriptor.ContentFormat,
			e.Descriptor.EventType,
			e.Descriptor.EventTypeFormat,
			e.Metadata.CausationID.String(),
			e.Metadata.CorrelationID.String(),
			formatTimestamp(e.Metadata.CreatedAt),
		)
		if execErr != nil {
			if IsSequenceViolation(execErr, s.config.EntriesTable) {
				if s.config.Logger != nil {
					s.config.Logger.Info(ctx, "sequence already taken",
						"stream_id", e.StreamID,
						"sequence", e.Sequence)
				}
				return es.WriteSequenceAlreadyTaken, nil
			}
			return es.WriteUnknownFailure, fmt.Errorf("failed to insert entry %d: %w", i, execErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return es.WriteUnknownFailure, fmt.Errorf("failed to commit append: %w", err)
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "entries appended",
			"stream_id", entries.StreamID(),
			"sequence_range", fmt.Sprintf("%d-%d", entries.MinSequence(), entries.MaxSequence()))
	}
	return es.WriteSuccess, nil
}

// IsSequenceViolation reports whether err is a violation of the
// (stream_id, sequence) constraint of table.
// SQLite names the columns, not the constraint, in its message.
func IsSequenceViolation(err error, table string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(),
		fmt.Sprintf("UNIQUE constraint failed: %s.stream_id, %s.sequence", table, table))
}

// Read implements store.StreamStore.
func (s *Store) Read(ctx context.Context, streamID es.StreamID) ([]es.Entry, error) {
	query := fmt.Sprintf(`
		SELECT stream_id, sequence, entry_id,
			payload, content_format, event_type, event_type_format,
			causation_id, correlation_id, created_at
		FROM %s
		WHERE stream_id = ?
		ORDER BY sequence ASC
	`, s.config.EntriesTable)

	return s.query(ctx, query, streamID.String())
}

// ReadRange implements store.StreamStore.
func (s *Store) ReadRange(ctx context.Context, streamID es.StreamID, minSeq, maxSeq es.Sequence) ([]es.Entry, error) {
	query := fmt.Sprintf(`
		SELECT stream_id, sequence, entry_id,
			payload, content_format, event_type, event_type_format,
			causation_id, correlation_id, created_at
		FROM %s
		WHERE stream_id = ? AND sequence BETWEEN ? AND ?
		ORDER BY sequence ASC
	`, s.config.EntriesTable)

	return s.query(ctx, query, streamID.String(), int64(minSeq), int64(maxSeq))
}

//nolint:gocyclo // Complexity comes from necessary UUID and timestamp parsing
func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]es.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []es.Entry
	for rows.Next() {
		var (
			e                          es.Entry
			streamID, entryID          string
			causationID, correlationID string
			createdAt                  string
			sequence                   int64
		)
		err := rows.Scan(
			&streamID,
			&sequence,
			&entryID,
			&e.Descriptor.Payload,
			&e.Descriptor.ContentFormat,
			&e.Descriptor.EventType,
			&e.Descriptor.EventTypeFormat,
			&causationID,
			&correlationID,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		if e.StreamID, err = es.ParseStreamID(streamID); err != nil {
			return nil, fmt.Errorf("invalid stream id: %w", err)
		}
		if e.EntryID, err = es.ParseEntryID(entryID); err != nil {
			return nil, fmt.Errorf("invalid entry id: %w", err)
		}
		causation, err := uuid.Parse(causationID)
		if err != nil {
			return nil, fmt.Errorf("invalid causation id: %w", err)
		}
		correlation, err := uuid.Parse(correlationID)
		if err != nil {
			return nil, fmt.Errorf("invalid correlation id: %w", err)
		}
		created, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}

		e.Sequence = es.Sequence(sequence)
		e.Metadata = es.NewEntryMetadata(causation, correlation, created)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return entries, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(sqliteDateTimeFormat)
}

// parseTimestamp parses timestamps written by formatTimestamp.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(sqliteDateTimeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
	}
	return t, nil
}

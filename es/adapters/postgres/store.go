// Package postgres provides PostgreSQL stream and staging stores.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/store"
)

// StoreConfig contains configuration for the Postgres stores.
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

// NewStoreConfig creates a configuration from the defaults and the given options.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// SequenceConstraint is the name of the unique (stream_id, sequence)
// constraint the migrations create for table.
func SequenceConstraint(table string) string {
	return table + "_stream_sequence_key"
}

// Store is a PostgreSQL-backed store.StreamStore.
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
// All entries are inserted in one transaction. The unique constraint on
// (stream_id, sequence) decides conflicts; a failed commit is reported as
// es.WriteUnknownFailure because its effect cannot be known.
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.config.EntriesTable)

	for i := 0; i < entries.Len(); i++ {
		e := entries.At(i)
		payload := e.Descriptor.Payload
		if payload == nil {
			payload = []byte{}
		}
		_, err := tx.ExecContext(ctx, query,
			e.StreamID.String(),
			int64(e.Sequence),
			e.EntryID.String(),
			payload,
			e.Descriptor.ContentFormat,
			e.Descriptor.EventType,
			e.Descriptor.EventTypeFormat,
			e.Metadata.CausationID.String(),
			e.Metadata.CorrelationID.String(),
			e.Metadata.CreatedAt,
		)
		if err != nil {
			if IsSequenceViolation(err, s.config.EntriesTable) {
				if s.config.Logger != nil {
					s.config.Logger.Info(ctx, "sequence already taken",
						"stream_id", e.StreamID,
						"sequence", e.Sequence)
				}
				return es.WriteSequenceAlreadyTaken, nil
			}
			return es.WriteUnknownFailure, fmt.Errorf("failed to insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if IsSequenceViolation(err, s.config.EntriesTable) {
			return es.WriteSequenceAlreadyTaken, nil
		}
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
// (stream_id, sequence) constraint of table. Other unique violations, such
// as a reused entry id, are not.
func IsSequenceViolation(err error, table string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == SequenceConstraint(table)
}

// Read implements store.StreamStore.
func (s *Store) Read(ctx context.Context, streamID es.StreamID) ([]es.Entry, error) {
	query := fmt.Sprintf(`
		SELECT stream_id, sequence, entry_id,
			payload, content_format, event_type, event_type_format,
			causation_id, correlation_id, created_at
		FROM %s
		WHERE stream_id = $1
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
		WHERE stream_id = $1 AND sequence BETWEEN $2 AND $3
		ORDER BY sequence ASC
	`, s.config.EntriesTable)

	return s.query(ctx, query, streamID.String(), int64(minSeq), int64(maxSeq))
}

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
			streamID, entryID          uuid.UUID
			causationID, correlationID uuid.UUID
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
			&e.Metadata.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.StreamID = es.StreamID(streamID)
		e.Sequence = es.Sequence(sequence)
		e.EntryID = es.EntryID(entryID)
		e.Metadata = es.NewEntryMetadata(causationID, correlationID, e.Metadata.CreatedAt)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return entries, nil
}

// Package mysql provides MySQL/MariaDB stream and staging stores.
//
// The connection must be opened with parseTime=true so DATETIME columns scan
// into time.Time, and with the default loc=UTC.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/store"
)

// erDupEntry is MySQL's ER_DUP_ENTRY.
const erDupEntry = 1062

// StoreConfig contains configuration for the MySQL stores.
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

// SequenceConstraint is the name of the unique (stream_id, sequence) key
// the migrations create for table.
func SequenceConstraint(table string) string {
	return table + "_stream_sequence_key"
}

// Store is a MySQL-backed store.StreamStore.
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
// The batch is inserted with one multi-row INSERT inside a transaction.
// A duplicate on the (stream_id, sequence) key reports
// es.WriteSequenceAlreadyTaken; everything else, including a failed commit,
// reports es.WriteUnknownFailure.
func (s *Store) Append(ctx context.Context, entries es.Entries) (es.WriteResult, error) {
	if entries.IsEmpty() {
		return es.WriteUnknownFailure, store.ErrNoEntries
	}

	placeholders := make([]string, entries.Len())
	args := make([]interface{}, 0, entries.Len()*10)
	for i := 0; i < entries.Len(); i++ {
		e := entries.At(i)
		payload := e.Descriptor.Payload
		if payload == nil {
			payload = []byte{}
		}
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
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
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			stream_id, sequence, entry_id,
			payload, content_format, event_type, event_type_format,
			causation_id, correlation_id, created_at
		) VALUES %s
	`, s.config.EntriesTable, strings.Join(placeholders, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return es.WriteUnknownFailure, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error ignored: expected to fail if commit succeeds
		tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if IsSequenceViolation(err, s.config.EntriesTable) {
			if s.config.Logger != nil {
				s.config.Logger.Info(ctx, "sequence already taken",
					"stream_id", entries.StreamID(),
					"min_sequence", entries.MinSequence(),
					"entry_count", entries.Len())
			}
			return es.WriteSequenceAlreadyTaken, nil
		}
		return es.WriteUnknownFailure, fmt.Errorf("failed to insert entries: %w", err)
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

// IsSequenceViolation reports whether err is a duplicate on the
// (stream_id, sequence) key of table.
func IsSequenceViolation(err error, table string) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	// MySQL 8 names the key as "table.key", older servers as "key".
	return mysqlErr.Number == erDupEntry &&
		strings.Contains(mysqlErr.Message, SequenceConstraint(table)+"'")
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

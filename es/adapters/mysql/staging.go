package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/adapters/internal/stagingcodec"
	"github.com/getpup/pupstream/es/store"
)

// StagingStore is a MySQL-backed store.StagingStore.
type StagingStore struct {
	db     es.DBTX
	config StoreConfig
	now    func() time.Time
}

var _ store.StagingStore = (*StagingStore)(nil)

// NewStagingStore creates a staging store on db.
func NewStagingStore(db es.DBTX, config StoreConfig) *StagingStore {
	return &StagingStore{
		db:     db,
		config: config,
		now:    time.Now,
	}
}

// Write implements store.StagingStore.
func (s *StagingStore) Write(ctx context.Context, entries es.Entries) (es.StagingID, error) {
	if entries.IsEmpty() {
		return es.StagingID{}, store.ErrNoEntries
	}
	at, err := es.StagingTimeFrom(s.now())
	if err != nil {
		return es.StagingID{}, err
	}
	data, err := stagingcodec.EncodeEntries(entries)
	if err != nil {
		return es.StagingID{}, err
	}

	id := es.NewStagingID()
	query := fmt.Sprintf(`
		INSERT INTO %s (staging_id, staging_time, stream_id, min_sequence, entry_count, entries)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.config.StagingTable)

	if _, err := s.db.ExecContext(ctx, query,
		id.String(),
		at.Time(),
		entries.StreamID().String(),
		int64(entries.MinSequence()),
		entries.Len(),
		data,
	); err != nil {
		return es.StagingID{}, fmt.Errorf("failed to insert staging record: %w", err)
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "staging record written",
			"staging_id", id,
			"stream_id", entries.StreamID(),
			"entry_count", entries.Len())
	}
	return id, nil
}

// MarkPublished implements store.StagingStore.
func (s *StagingStore) MarkPublished(ctx context.Context, id es.StagingID) error {
	return s.delete(ctx, id)
}

// MarkFailed implements store.StagingStore.
func (s *StagingStore) MarkFailed(ctx context.Context, id es.StagingID) error {
	return s.delete(ctx, id)
}

func (s *StagingStore) delete(ctx context.Context, id es.StagingID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE staging_id = ?`, s.config.StagingTable)
	if _, err := s.db.ExecContext(ctx, query, id.String()); err != nil {
		return fmt.Errorf("failed to delete staging record %s: %w", id, err)
	}
	return nil
}

// ReadAllUnmarked implements store.StagingStore.
func (s *StagingStore) ReadAllUnmarked(ctx context.Context) ([]es.StagedEntries, error) {
	query := fmt.Sprintf(`
		SELECT staging_id, staging_time, entries
		FROM %s
		ORDER BY staging_time ASC
	`, s.config.StagingTable)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query staging records: %w", err)
	}
	defer rows.Close()

	var records []es.StagedEntries
	for rows.Next() {
		var (
			id   uuid.UUID
			at   time.Time
			data []byte
		)
		if err := rows.Scan(&id, &at, &data); err != nil {
			return nil, fmt.Errorf("failed to scan staging record: %w", err)
		}
		staged, err := decodeStaged(id, at, data)
		if err != nil {
			if stagingcodec.SkipCorrupt(ctx, s.config.Logger, err) {
				continue
			}
			return nil, err
		}
		records = append(records, staged)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return records, nil
}

// ReadUnmarked implements store.StagingStore.
func (s *StagingStore) ReadUnmarked(ctx context.Context, id es.StagingID) (es.StagedEntries, bool, error) {
	query := fmt.Sprintf(`
		SELECT staging_time, entries
		FROM %s
		WHERE staging_id = ?
	`, s.config.StagingTable)

	var (
		at   time.Time
		data []byte
	)
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&at, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return es.StagedEntries{}, false, nil
	}
	if err != nil {
		return es.StagedEntries{}, false, fmt.Errorf("failed to read staging record %s: %w", id, err)
	}

	staged, err := decodeStaged(id.UUID(), at, data)
	if err != nil {
		return es.StagedEntries{}, false, err
	}
	return staged, true, nil
}

func decodeStaged(id uuid.UUID, at time.Time, data []byte) (es.StagedEntries, error) {
	entries, err := stagingcodec.DecodeEntries(data)
	if err != nil {
		return es.StagedEntries{}, fmt.Errorf("staging record %s: %w", id, err)
	}
	stagingTime, err := es.StagingTimeFrom(at)
	if err != nil {
		return es.StagedEntries{}, stagingcodec.Corrupt(fmt.Errorf("staging record %s: %w", id, err))
	}
	return es.NewStagedEntries(es.StagingID(id), stagingTime, entries)
}

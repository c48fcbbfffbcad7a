// Package migrations provides SQL migration generation for the stream and staging tables.
package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// EntriesTable is the name of the stream entries table
	EntriesTable string

	// StagingTable is the name of the staging table
	StagingTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_pupstream.sql", timestamp),
		EntriesTable:   "entries",
		StagingTable:   "staged_entries",
	}
}

// Adapters lists the supported database adapters.
var Adapters = []string{"postgres", "mysql", "sqlite"}

// Render returns the migration SQL for adapter.
func Render(adapter string, config *Config) (string, error) {
	switch adapter {
	case "postgres":
		return generatePostgresSQL(config), nil
	case "mysql":
		return generateMySQLSQL(config), nil
	case "sqlite":
		return generateSQLiteSQL(config), nil
	default:
		return "", fmt.Errorf("unsupported adapter %q", adapter)
	}
}

// Generate writes the migration file for adapter.
func Generate(adapter string, config *Config) error {
	sql, err := Render(adapter, config)
	if err != nil {
		return err
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return Generate("postgres", config)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return Generate("sqlite", config)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return Generate("mysql", config)
}

func generatePostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Publication Migration
-- Generated: %s

-- Entries table stores every stream's entries in append-only fashion
CREATE TABLE IF NOT EXISTS %s (
    global_position BIGSERIAL PRIMARY KEY,
    stream_id UUID NOT NULL,
    sequence BIGINT NOT NULL,
    entry_id UUID NOT NULL,
    payload BYTEA NOT NULL,
    content_format TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_type_format TEXT NOT NULL,
    causation_id UUID NOT NULL,
    correlation_id UUID NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,

    -- Optimistic concurrency: one entry per stream position
    CONSTRAINT %s_stream_sequence_key UNIQUE (stream_id, sequence),
    CONSTRAINT %s_entry_id_key UNIQUE (entry_id)
);

-- Index for correlation tracking
CREATE INDEX IF NOT EXISTS idx_%s_correlation
    ON %s (correlation_id);

-- Staging table holds batches whose publication outcome is not yet known
CREATE TABLE IF NOT EXISTS %s (
    staging_id UUID PRIMARY KEY,
    staging_time TIMESTAMPTZ NOT NULL,
    stream_id UUID NOT NULL,
    min_sequence BIGINT NOT NULL,
    entry_count INT NOT NULL,
    entries BYTEA NOT NULL
);

-- Index for reconciliation sweeps
CREATE INDEX IF NOT EXISTS idx_%s_staging_time
    ON %s (staging_time);
`,
		time.Now().Format(time.RFC3339),
		config.EntriesTable,
		config.EntriesTable, config.EntriesTable,
		config.EntriesTable, config.EntriesTable,
		config.StagingTable,
		config.StagingTable, config.StagingTable,
	)
}

func generateSQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Publication Migration for SQLite
-- Generated: %s

-- Entries table stores every stream's entries in append-only fashion
CREATE TABLE IF NOT EXISTS %s (
    global_position INTEGER PRIMARY KEY AUTOINCREMENT,
    stream_id TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    entry_id TEXT NOT NULL,
    payload BLOB NOT NULL,
    content_format TEXT NOT NULL,
    event_type TEXT NOT NULL,
    event_type_format TEXT NOT NULL,
    causation_id TEXT NOT NULL,
    correlation_id TEXT NOT NULL,
    created_at TEXT NOT NULL,

    -- Optimistic concurrency: one entry per stream position
    CONSTRAINT %s_stream_sequence_key UNIQUE (stream_id, sequence),
    CONSTRAINT %s_entry_id_key UNIQUE (entry_id)
);

-- Index for correlation tracking
CREATE INDEX IF NOT EXISTS idx_%s_correlation
    ON %s (correlation_id);

-- Staging table holds batches whose publication outcome is not yet known
CREATE TABLE IF NOT EXISTS %s (
    staging_id TEXT PRIMARY KEY,
    staging_time TEXT NOT NULL,
    stream_id TEXT NOT NULL,
    min_sequence INTEGER NOT NULL,
    entry_count INTEGER NOT NULL,
    entries BLOB NOT NULL
);

-- Index for reconciliation sweeps
CREATE INDEX IF NOT EXISTS idx_%s_staging_time
    ON %s (staging_time);
`,
		time.Now().Format(time.RFC3339),
		config.EntriesTable,
		config.EntriesTable, config.EntriesTable,
		config.EntriesTable, config.EntriesTable,
		config.StagingTable,
		config.StagingTable, config.StagingTable,
	)
}

func generateMySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Publication Migration for MySQL/MariaDB
-- Generated: %s

-- Entries table stores every stream's entries in append-only fashion
CREATE TABLE IF NOT EXISTS %s (
    global_position BIGINT AUTO_INCREMENT PRIMARY KEY,
    stream_id CHAR(36) NOT NULL,
    sequence BIGINT NOT NULL,
    entry_id CHAR(36) NOT NULL,
    payload LONGBLOB NOT NULL,
    content_format VARCHAR(255) NOT NULL,
    event_type VARCHAR(255) NOT NULL,
    event_type_format VARCHAR(255) NOT NULL,
    causation_id CHAR(36) NOT NULL,
    correlation_id CHAR(36) NOT NULL,
    created_at DATETIME(6) NOT NULL,

    -- Optimistic concurrency: one entry per stream position
    UNIQUE KEY %s_stream_sequence_key (stream_id, sequence),
    UNIQUE KEY %s_entry_id_key (entry_id),
    KEY idx_%s_correlation (correlation_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Staging table holds batches whose publication outcome is not yet known
CREATE TABLE IF NOT EXISTS %s (
    staging_id CHAR(36) PRIMARY KEY,
    staging_time DATETIME(6) NOT NULL,
    stream_id CHAR(36) NOT NULL,
    min_sequence BIGINT NOT NULL,
    entry_count INT NOT NULL,
    entries LONGBLOB NOT NULL,

    KEY idx_%s_staging_time (staging_time)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`,
		time.Now().Format(time.RFC3339),
		config.EntriesTable,
		config.EntriesTable, config.EntriesTable, config.EntriesTable,
		config.StagingTable,
		config.StagingTable,
	)
}

// Package integration_test contains integration tests for the MySQL adapter.
// These tests require a running MySQL/MariaDB instance.
//
// Start MySQL: docker run -d -p 3306:3306 -e MYSQL_ROOT_PASSWORD=password -e MYSQL_DATABASE=pupstream_test mysql:8
// Run with: go test -tags=integration ./es/adapters/mysql/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/getpup/pupstream/es"
	"github.com/getpup/pupstream/es/adapters/mysql"
	"github.com/getpup/pupstream/es/migrations"
	"github.com/getpup/pupstream/es/store"
	"github.com/getpup/pupstream/es/store/storetest"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Default to localhost, but allow override via env var for CI
	host := os.Getenv("MYSQL_HOST")
	if host == "" {
		host = "localhost"
	}

	port := os.Getenv("MYSQL_PORT")
	if port == "" {
		port = "3306"
	}

	user := os.Getenv("MYSQL_USER")
	if user == "" {
		user = "root"
	}

	password := os.Getenv("MYSQL_PASSWORD")
	if password == "" {
		password = "password"
	}

	dbname := os.Getenv("MYSQL_DATABASE")
	if dbname == "" {
		dbname = "pupstream_test"
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		user, password, host, port, dbname)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

var tableSeq atomic.Int64

func setupTestTables(t *testing.T, db *sql.DB) mysql.StoreConfig {
	t.Helper()

	n := tableSeq.Add(1)
	config := migrations.Config{
		EntriesTable: fmt.Sprintf("entries_%d_%d", os.Getpid(), n),
		StagingTable: fmt.Sprintf("staged_entries_%d_%d", os.Getpid(), n),
	}

	migrationSQL, err := migrations.Render("mysql", &config)
	if err != nil {
		t.Fatalf("Failed to generate migration: %v", err)
	}

	// MySQL requires separate Exec calls for each statement
	for _, stmt := range strings.Split(migrationSQL, ";") {
		if !strings.Contains(stmt, "CREATE") {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute migration: %v\n%s", err, stmt)
		}
	}

	t.Cleanup(func() {
		db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s, %s", config.EntriesTable, config.StagingTable))
	})

	cfg := mysql.DefaultStoreConfig()
	cfg.EntriesTable = config.EntriesTable
	cfg.StagingTable = config.StagingTable
	return cfg
}

func TestStreamStoreContract(t *testing.T) {
	db := getTestDB(t)
	storetest.RunStreamStoreTests(t, func(t *testing.T) store.StreamStore {
		return mysql.NewStore(db, setupTestTables(t, db))
	})
}

func TestStagingStoreContract(t *testing.T) {
	db := getTestDB(t)
	storetest.RunStagingStoreTests(t, func(t *testing.T) store.StagingStore {
		return mysql.NewStagingStore(db, setupTestTables(t, db))
	})
}

func TestAppend_ReusedEntryIDIsNotAConflict(t *testing.T) {
	db := getTestDB(t)
	config := setupTestTables(t, db)
	s := mysql.NewStore(db, config)
	ctx := context.Background()

	batch := storetest.NewBatch(es.NewStreamID(), 0, 1)
	if r, err := s.Append(ctx, batch); r != es.WriteSuccess {
		t.Fatalf("append = %s, %v", r, err)
	}

	e := batch.At(0)
	e.StreamID = es.NewStreamID()
	result, err := s.Append(ctx, es.MustEntries(e))
	if result != es.WriteUnknownFailure || err == nil {
		t.Fatalf("expected UnknownFailure for a reused entry id, got %s, %v", result, err)
	}
	if mysql.IsSequenceViolation(err, config.EntriesTable) {
		t.Fatal("entry id violation must not be reported as a sequence violation")
	}
}

func TestReadAllUnmarked_SkipsUndecodableRecord(t *testing.T) {
	db := getTestDB(t)
	config := setupTestTables(t, db)
	staging := mysql.NewStagingStore(db, config)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (staging_id, staging_time, stream_id, min_sequence, entry_count, entries)
		VALUES (?, ?, ?, 0, 1, ?)
	`, config.StagingTable), es.NewStagingID().String(), time.Now().UTC().Add(-time.Minute),
		es.NewStreamID().String(), []byte(`not json`)); err != nil {
		t.Fatal(err)
	}
	kept, err := staging.Write(ctx, storetest.NewBatch(es.NewStreamID(), 0, 1))
	if err != nil {
		t.Fatal(err)
	}

	all, err := staging.ReadAllUnmarked(ctx)
	if err != nil {
		t.Fatalf("ReadAllUnmarked: %v", err)
	}
	if len(all) != 1 || all[0].StagingID != kept {
		t.Fatalf("expected only %s, got %d records", kept, len(all))
	}
}

// Package migrations renders the DDL for the two tables the SQL adapters use.
//
// The entries table holds the streams. Its unique key on (stream_id, sequence)
// is named <entries_table>_stream_sequence_key; the adapters recognize
// optimistic concurrency conflicts by that name, so keep it when editing the
// generated file. The staging table holds one row per in-flight batch.
//
// Write a migration file with the migrate-gen command:
//
//	go run github.com/getpup/pupstream/cmd/migrate-gen -adapter postgres -output migrations
//
// or render the SQL directly, for tests and embedded databases:
//
//	config := migrations.DefaultConfig()
//	ddl, err := migrations.Render("sqlite", &config)
package migrations

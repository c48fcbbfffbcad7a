// Command migrate-gen generates SQL migration files for the entries and staging tables.
//
// Usage:
//
//	go run github.com/getpup/pupstream/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/pupstream/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/pupstream/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/pupstream/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/pupstream/cmd/migrate-gen -adapter sqlite -output migrations
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/getpup/pupstream/es/migrations"
)

func main() {
	var (
		adapter        = flag.String("adapter", "postgres", "Database adapter: "+strings.Join(migrations.Adapters, ", "))
		outputFolder   = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename = flag.String("filename", "", "Output filename (default: timestamp-based)")
		entriesTable   = flag.String("entries-table", "entries", "Name of entries table")
		stagingTable   = flag.String("staging-table", "staged_entries", "Name of staging table")
	)

	flag.Parse()

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.EntriesTable = *entriesTable
	config.StagingTable = *stagingTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	if err := migrations.Generate(*adapter, &config); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", *adapter, config.OutputFolder, config.OutputFilename)
}

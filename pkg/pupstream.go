// Package pupstream provides reliable publication of event-sourced streams
// to a message bus.
//
// The library itself lives in the es package and its subpackages:
//
//	es                   - core types, errors and Logger
//	es/store             - stream store and staging store contracts
//	es/publication       - the live publish path
//	es/reconciliation    - crash recovery
//	es/adapters/postgres - PostgreSQL stores
//	es/migrations        - migration generation
//
// Quick Start:
//
//  1. Generate migrations:
//     go run github.com/getpup/pupstream/cmd/migrate-gen -output migrations
//
//  2. Publish a batch:
//     orchestrator := publication.New(staging, streams, publisher)
//     err := orchestrator.Publish(ctx, batch)
//
//  3. Recover from crashes by running the reconciliation scheduler, either
//     in-process or as the reconcilerd command.
//
// See the examples directory for complete working examples.
package pupstream

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}

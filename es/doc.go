// Package es provides the core types of an event-sourcing library with
// reliable publication of appended events to a message bus.
//
// # Overview
//
// A stream is the ordered, append-only list of entries of one aggregate.
// Entries are appended in batches (Entries) that are atomic: either every
// entry of the batch is stored or none is. Sequences are zero-based and
// contiguous within a stream.
//
// Storing an entry and publishing it to a bus are two writes to two systems
// with no transaction spanning them. The library closes that gap with a
// write-ahead staging record:
//
//  1. The batch is written to a staging store (StagedEntries).
//  2. The batch is appended to the stream store under optimistic concurrency.
//  3. On success every entry is published to the bus, in order.
//  4. The staging record is deleted.
//
// When the process dies between 1 and 4 the staging record survives. A
// periodic reconciliation pass re-reads the stream store to decide whether
// the batch was appended, then publishes it or discards the record.
//
// # Packages
//
//	es                    - value objects, errors, Logger
//	es/store              - stream store and staging store contracts
//	es/bus                - bus publisher contract and message headers
//	es/confirm            - broker delivery confirmation tracking
//	es/publication        - the live publish path
//	es/reconciliation     - crash recovery service, job and scheduler
//	es/adapters/...       - postgres, mysql, sqlite, pebble, redis, memory
//	es/bus/rabbitmq       - confirm-mode AMQP publisher
//	es/bus/kafka          - Kafka publisher
//	es/migrations         - SQL schema generation
//
// # Quick Start
//
//	streams := postgres.NewStore(db, postgres.DefaultStoreConfig())
//	staging := postgres.NewStagingStore(db, postgres.DefaultStoreConfig())
//	publisher, _ := rabbitmq.NewPublisher(ch, rabbitmq.DefaultConfig())
//
//	orchestrator := publication.New(staging, streams, publisher)
//	batch, err := es.NewEntries(entries...)
//	if err != nil {
//	    return err
//	}
//	if err := orchestrator.Publish(ctx, batch); err != nil {
//	    if errors.Is(err, es.ErrOptimisticConcurrency) {
//	        // reload the aggregate and retry
//	    }
//	    return err
//	}
//
//	service := reconciliation.NewService(staging, streams, publisher)
//	scheduler := reconciliation.NewScheduler(reconciliation.NewJob(staging, service))
//	go scheduler.Run(ctx)
//
// # Delivery Guarantees
//
// Delivery is at-least-once. A batch may be published twice when a live
// publish fails after some entries reached the bus and reconciliation later
// publishes the whole batch again. Consumers deduplicate on the entry id.
//
// # Design Decisions
//
// Opaque payload: EventDescriptor carries bytes plus format tags. The library
// never decodes them.
//
// UTC microseconds: entry and staging timestamps are normalized so that a
// value read back from any supported database compares equal to the value
// that was written. Reconciliation depends on exact equality.
//
// Compare-and-decide: the live path and reconciliation never lock each other.
// Reconciliation re-reads the staging record right before publishing and
// abstains when the live path already resolved it.
package es

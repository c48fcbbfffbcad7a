package es

import "errors"

var (
	// ErrOptimisticConcurrency indicates that the expected sequence was already
	// taken by another writer. Reload the stream and retry with new sequences.
	ErrOptimisticConcurrency = errors.New("optimistic concurrency conflict")

	// ErrAppendingFailed indicates the stream store failed for an unknown reason.
	// The staging record is kept so that reconciliation can establish the outcome.
	ErrAppendingFailed = errors.New("appending failed")

	// ErrContractViolation indicates a collaborator returned a state its contract
	// rules out. It is never retried.
	ErrContractViolation = errors.New("contract violation")

	// ErrInvalidEntries indicates a batch that breaks the batch invariants.
	ErrInvalidEntries = errors.New("invalid entries")

	// ErrInvalidStagingTime indicates a sentinel or non-UTC staging time.
	ErrInvalidStagingTime = errors.New("invalid staging time")

	// ErrCorruptStagingRecord indicates a stored staging record that cannot be
	// decoded. Sweeps log and skip it; it needs manual repair.
	ErrCorruptStagingRecord = errors.New("corrupt staging record")
)

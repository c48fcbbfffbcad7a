package reconciliation

import (
	"context"
	"fmt"

	"github.com/getpup/pupstream/es/store"
)

// Report counts the outcome of one Job run.
type Report struct {
	Results map[Result]int
	Errors  int
}

// Total returns the number of records visited.
func (r Report) Total() int {
	n := r.Errors
	for _, c := range r.Results {
		n += c
	}
	return n
}

// Job reconciles every unresolved staging record once.
type Job struct {
	config  Config
	staging store.StagingStore
	service *Service
}

// NewJob creates a Job driving service over the records of staging.
func NewJob(staging store.StagingStore, service *Service, opts ...Option) *Job {
	return &Job{
		config:  NewConfig(opts...),
		staging: staging,
		service: service,
	}
}

// Run visits the records one after another. A failure on one record is
// logged and the sweep continues. Cancellation of ctx stops the sweep and is
// returned.
func (j *Job) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep is Run returning the per-result counts of the pass.
func (j *Job) Sweep(ctx context.Context) (Report, error) {
	report := Report{Results: make(map[Result]int)}

	records, err := j.staging.ReadAllUnmarked(ctx)
	if err != nil {
		if isCancellation(ctx, err) {
			return report, ctx.Err()
		}
		return report, fmt.Errorf("failed to read staging records: %w", err)
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := j.service.TryReconcile(ctx, records[i])
		if err != nil {
			if isCancellation(ctx, err) {
				return report, ctx.Err()
			}
			report.Errors++
			if j.config.Logger != nil {
				j.config.Logger.Error(ctx, "failed to reconcile staging record",
					"staging_id", records[i].StagingID,
					"stream_id", records[i].Entries.StreamID(),
					"error", err)
			}
			continue
		}
		report.Results[result]++
	}

	if j.config.Logger != nil && len(records) > 0 {
		j.config.Logger.Info(ctx, "reconciliation pass complete",
			"records", len(records),
			"too_recent", report.Results[ResultTooRecent],
			"not_stored", report.Results[ResultNotStored],
			"marked_failed", report.Results[ResultMarkedFailed],
			"published", report.Results[ResultPublished],
			"already_resolved", report.Results[ResultAlreadyResolved],
			"errors", report.Errors)
	}
	return report, nil
}

// Package runner drives the scheduling loop: one independently ticking
// pass per enabled source, each pass running overlay, selection and
// dispatch in order. Passes are independent; a slow source never blocks
// the others.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/dispatch"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/metrics"
	"github.com/alp82/goodwatch-monorepo-sub001/internal/scheduler"
)

// SourceJob binds one source to its scheduling policy and pass interval.
type SourceJob struct {
	Source   catalog.SourceType
	Policy   scheduler.SourcePolicy
	Interval time.Duration
}

// PassSummary reports what one scheduling pass did.
type PassSummary struct {
	Source    catalog.SourceType `json:"source"`
	Priority  dispatch.Summary   `json:"priority"`
	Scheduled dispatch.Summary   `json:"scheduled"`
	Reserved  int                `json:"reserved"`
}

// Runner owns the per-source pass loops.
type Runner struct {
	selector   *scheduler.Selector
	overlay    *scheduler.Overlay
	dispatcher *dispatch.Dispatcher
	clock      catalog.Clock
	jobs       map[catalog.SourceType]SourceJob
	logger     *zap.Logger
}

// New constructs a Runner over the given jobs.
func New(
	selector *scheduler.Selector,
	overlay *scheduler.Overlay,
	dispatcher *dispatch.Dispatcher,
	clock catalog.Clock,
	jobs []SourceJob,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	jobMap := make(map[catalog.SourceType]SourceJob, len(jobs))
	for _, job := range jobs {
		jobMap[job.Source] = job
	}
	return &Runner{
		selector:   selector,
		overlay:    overlay,
		dispatcher: dispatcher,
		clock:      clock,
		jobs:       jobMap,
		logger:     logger,
	}
}

// Run blocks, ticking every job until the context finishes. Each source
// runs one pass immediately, then on its interval.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range r.jobs {
		wg.Add(1)
		go func(job SourceJob) {
			defer wg.Done()
			r.loop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job SourceJob) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx, job.Source); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("scheduling pass failed",
				zap.String("source", string(job.Source)),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single scheduling pass for the source: priority
// overlay first, then the normal selector batch, each dispatched and
// released through the reservation manager. A failed overlay entry or
// batch item only affects itself; a ledger failure aborts the pass with
// no partial state beyond what the store already committed atomically.
func (r *Runner) RunOnce(ctx context.Context, source catalog.SourceType) (PassSummary, error) {
	job, ok := r.jobs[source]
	if !ok {
		return PassSummary{}, fmt.Errorf("source %q not scheduled: %w", source, catalog.ErrUnknownSource)
	}

	metrics.IncActivePasses()
	start := r.clock.Now()
	defer func() {
		metrics.DecActivePasses()
		metrics.ObservePassDuration(string(source), r.clock.Now().Sub(start))
	}()

	summary := PassSummary{Source: source}

	priorityBatch, err := r.overlay.NextBatch(ctx, source)
	if err != nil {
		return summary, fmt.Errorf("priority overlay %s: %w", source, err)
	}
	if priorityBatch.Size() > 0 {
		summary.Priority, err = r.dispatcher.Dispatch(ctx, source, priorityBatch)
		if err != nil {
			return summary, fmt.Errorf("dispatch priority batch %s: %w", source, err)
		}
		if err := r.overlay.Acknowledge(ctx, priorityBatch); err != nil {
			return summary, fmt.Errorf("acknowledge priority batch %s: %w", source, err)
		}
	}

	batch, err := r.selector.NextBatch(ctx, source, job.Policy)
	if err != nil {
		return summary, fmt.Errorf("select batch %s: %w", source, err)
	}
	summary.Reserved = batch.Size()
	if batch.Size() > 0 {
		summary.Scheduled, err = r.dispatcher.Dispatch(ctx, source, batch)
		if err != nil {
			return summary, fmt.Errorf("dispatch batch %s: %w", source, err)
		}
	}

	r.logger.Info("scheduling pass complete",
		zap.String("source", string(source)),
		zap.Int("reserved", summary.Reserved),
		zap.Int("succeeded", summary.Priority.Succeeded+summary.Scheduled.Succeeded),
		zap.Int("failed", summary.Priority.Failed+summary.Scheduled.Failed),
	)
	return summary, nil
}

// Policy returns the scheduling policy for a source, for callers that
// need to peek at due work with the same buffer the selector uses.
func (r *Runner) Policy(source catalog.SourceType) (scheduler.SourcePolicy, bool) {
	job, ok := r.jobs[source]
	return job.Policy, ok
}

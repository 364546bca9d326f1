package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eduvid/explainer/internal/store"
	"github.com/eduvid/explainer/pkg/metrics"
)

const runnableBatchSize = 10

// Run starts the pipeline workers and blocks until ctx is cancelled. Each
// worker polls for runnable jobs on a jittered interval and also wakes
// immediately on submit, retry and stage completion, so an idle system
// reacts without waiting out the poll period.
func (o *Orchestrator) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for i := 0; i < o.cfg.Pipeline.Workers; i++ {
		owner := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		group.Go(func() error {
			o.runWorker(ctx, owner)
			return nil
		})
	}

	group.Go(func() error {
		o.runStatusGauge(ctx)
		return nil
	})

	zap.S().Named("orchestrator").Infow("pipeline engine started", "workers", o.cfg.Pipeline.Workers)
	return group.Wait()
}

func (o *Orchestrator) runWorker(ctx context.Context, owner string) {
	ticker := jitterbug.New(o.cfg.Pipeline.PollInterval, &jitterbug.Norm{Stdev: o.cfg.Pipeline.PollInterval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-o.wake:
		}

		// Drain everything currently due before going back to sleep.
		for o.step(ctx, owner) {
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// step claims and advances at most one job. It reports whether a job was
// advanced, so the caller can keep draining while work is available.
func (o *Orchestrator) step(ctx context.Context, owner string) bool {
	logger := zap.S().Named("orchestrator").With("worker", owner)

	jobs, err := o.store.Job().ListRunnable(ctx, time.Now().UTC(), runnableBatchSize)
	if err != nil {
		logger.Warnw("failed to list runnable jobs", "error", err)
		return false
	}

	for _, candidate := range jobs {
		job, err := o.store.Job().AcquireLease(ctx, candidate.ID, owner, time.Now().UTC(), o.cfg.Pipeline.LeaseTTL)
		if err != nil {
			if errors.Is(err, store.ErrLeaseConflict) {
				continue
			}
			logger.Warnw("failed to acquire lease", "job_id", candidate.ID, "error", err)
			continue
		}

		o.advanceLeased(ctx, job, owner)
		return true
	}
	return false
}

// runStatusGauge keeps the per-status job gauge current.
func (o *Orchestrator) runStatusGauge(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := o.store.Job().CountByStatus(ctx)
			if err != nil {
				zap.S().Named("orchestrator").Warnw("failed to count jobs by status", "error", err)
				continue
			}
			for status, count := range counts {
				metrics.UpdateJobsByStatus(string(status), count)
			}
		}
	}
}

package digest

import (
	"context"
	"log/slog"
	"time"

	"veille/internal/types"
)

// RunLock serializes digest runs across processes. Implementations release
// via the returned function; ok=false means another run holds the lock.
type RunLock interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// MetricsPublisher receives the statistics of a completed run. Publication
// is best-effort and must not fail the run.
type MetricsPublisher interface {
	PublishRunStats(ctx context.Context, stats types.RunStats)
}

// Job is the deployable unit around Runner: it takes the run lock when one
// is configured, executes the run at a single captured now, and publishes
// run statistics. All entrypoints (Lambda, HTTP trigger, cron runner) call
// this instead of Runner directly so they cannot diverge on locking.
type Job struct {
	runner  *Runner
	lock    RunLock
	metrics MetricsPublisher
	logger  *slog.Logger
}

// NewJob creates a Job. lock and metrics may be nil to disable the
// corresponding behavior.
func NewJob(runner *Runner, lock RunLock, metrics MetricsPublisher, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{runner: runner, lock: lock, metrics: metrics, logger: logger}
}

// Execute runs one digest cycle evaluated at now.
//
// When another invocation holds the run lock this returns
// ErrCodeConflictRunInProgress without touching any user: skipping a cycle
// is always safe because the next scheduled run re-evaluates eligibility
// from the untouched timestamps.
func (j *Job) Execute(ctx context.Context, now time.Time) (types.RunStats, error) {
	if j.lock != nil {
		release, ok, err := j.lock.TryAcquire(ctx)
		if err != nil {
			return types.RunStats{}, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire run lock", err)
		}
		if !ok {
			j.logger.WarnContext(ctx, "digest run already in progress; skipping this invocation")
			return types.RunStats{}, types.NewAppError(types.ErrCodeConflictRunInProgress, "a digest run is already in progress", nil)
		}
		defer release()
	}

	stats, err := j.runner.Run(ctx, now)
	if err != nil {
		return stats, err
	}

	if j.metrics != nil {
		j.metrics.PublishRunStats(ctx, stats)
	}
	return stats, nil
}

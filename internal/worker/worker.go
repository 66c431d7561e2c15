package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"cycaxworker/internal/assembly"
	"cycaxworker/internal/config"
	"cycaxworker/internal/jobspec"
	"cycaxworker/internal/logging"
	"cycaxworker/internal/retry"
	"cycaxworker/internal/services"
	"cycaxworker/internal/services/jobserver"
	"cycaxworker/internal/staging"
)

const staleCleanupInterval = time.Hour

// JobSource is the job server surface the loop polls.
type JobSource interface {
	ListJobs(ctx context.Context, filter jobserver.Filter) ([]jobserver.Job, error)
	GetJobSpec(ctx context.Context, jobID string) (jobspec.Spec, error)
}

// Builder runs one assembly build.
type Builder interface {
	Run(ctx context.Context, jobID string, spec jobspec.Spec) (assembly.Result, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Worker.
type Option func(*Worker)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithSleep replaces the context-aware sleep between cycles (tests).
func WithSleep(sleep SleepFunc) Option {
	return func(w *Worker) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// Worker polls the job server and builds eligible jobs.
type Worker struct {
	source        JobSource
	builder       Builder
	taskName      string
	pollInterval  time.Duration
	errorInterval time.Duration
	stagingDir    string
	lockPath      string
	staleAge      time.Duration
	sleep         SleepFunc
	logger        *slog.Logger

	mu          sync.Mutex
	stats       Stats
	lastCleanup time.Time
}

// Stats accumulates loop activity since start.
type Stats struct {
	Cycles    int
	Built     int
	Failed    int
	LastJob   string
	LastError error
}

// CycleResult reports what one poll cycle did.
type CycleResult struct {
	Jobs     int
	Eligible int
	Built    int
	// Completed counts builds whose task was reported COMPLETED.
	Completed int
	Failed    int
}

// New constructs a worker from configuration.
func New(cfg *config.Config, source JobSource, builder Builder, opts ...Option) *Worker {
	w := &Worker{
		source:        source,
		builder:       builder,
		taskName:      cfg.Worker.TaskName,
		pollInterval:  cfg.PollInterval(),
		errorInterval: cfg.ErrorRetryInterval(),
		stagingDir:    cfg.Paths.StagingDir,
		lockPath:      cfg.LockPath(),
		staleAge:      cfg.StaleJobAge(),
		sleep:         retry.Sleep,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "worker")
	return w
}

// Eligible reports whether job has a task called task that is not yet
// COMPLETED.
func Eligible(job jobserver.Job, task string) bool {
	state, ok := job.TaskState(task)
	return ok && state != jobserver.TaskCompleted
}

// Run holds the staging lock and polls until ctx is cancelled. Cancellation
// is a clean exit and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	lock, err := AcquireLock(w.lockPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			w.logger.Warn("failed to release staging lock", logging.Error(err))
		}
	}()

	w.logger.Info("worker started",
		logging.String(logging.FieldEventType, "worker_start"),
		logging.String("lock", lock.Path()),
		logging.String("task", w.taskName),
		logging.Duration("poll_interval", w.pollInterval),
	)
	defer w.logger.Info("worker stopped", logging.String(logging.FieldEventType, "worker_stop"))

	for {
		if ctx.Err() != nil {
			return nil
		}
		w.cleanStale(ctx)

		result, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		var delay time.Duration
		switch {
		case errors.Is(err, services.ErrTransport):
			w.logger.Warn("could not reach job server",
				logging.String(logging.FieldEventType, "server_unreachable"),
				logging.Duration("retry_in", w.errorInterval),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check server.url and that the job server is running"),
			)
			delay = w.errorInterval
		case err != nil:
			attrs := append([]logging.Attr{logging.String(logging.FieldEventType, "poll_failed")}, logging.ErrorAttrs(err)...)
			w.logger.Error("poll cycle failed", logging.Args(attrs...)...)
			delay = w.errorInterval
		case result.Completed > 0:
			continue
		default:
			if result.Jobs == 0 {
				w.logger.Info("no jobs; sleeping", logging.Duration("sleep", w.pollInterval))
			} else {
				w.logger.Debug("no job completed this cycle; sleeping",
					logging.Int("jobs", result.Jobs),
					logging.Int("eligible", result.Eligible),
					logging.Duration("sleep", w.pollInterval),
				)
			}
			delay = w.pollInterval
		}
		if err := w.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// RunOnce lists open jobs and builds every eligible one. A transport error
// ends the cycle early and is returned; other build failures are logged and
// counted.
func (w *Worker) RunOnce(ctx context.Context) (CycleResult, error) {
	var result CycleResult
	jobs, err := w.source.ListJobs(ctx, jobserver.Filter{StateNotIn: string(jobserver.TaskCompleted)})
	if err != nil {
		w.finishCycle(result, err)
		return result, err
	}
	result.Jobs = len(jobs)

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			w.finishCycle(result, err)
			return result, err
		}
		if !Eligible(job, w.taskName) {
			w.logger.Debug("job has nothing to build", logging.String(logging.FieldJobID, job.ID))
			continue
		}
		result.Eligible++

		build, err := w.buildJob(ctx, job.ID)
		w.mu.Lock()
		w.stats.LastJob = job.ID
		w.mu.Unlock()
		if err != nil {
			result.Failed++
			if errors.Is(err, services.ErrTransport) || ctx.Err() != nil {
				w.finishCycle(result, err)
				return result, err
			}
			continue
		}
		result.Built++
		if build.Completed {
			result.Completed++
		}
	}
	w.finishCycle(result, nil)
	return result, nil
}

// Stats returns a snapshot of loop activity.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Worker) buildJob(ctx context.Context, jobID string) (assembly.Result, error) {
	jobCtx := services.WithJobID(ctx, jobID)
	logger := logging.WithContext(jobCtx, w.logger)

	spec, err := w.source.GetJobSpec(jobCtx, jobID)
	if err != nil {
		attrs := append([]logging.Attr{logging.String(logging.FieldEventType, "spec_fetch_failed")}, logging.ErrorAttrs(err)...)
		logger.Warn("could not fetch job spec; skipping job this cycle", logging.Args(attrs...)...)
		return assembly.Result{JobID: jobID, State: assembly.StateFailed, Err: err}, err
	}
	return w.builder.Run(jobCtx, jobID, spec)
}

func (w *Worker) finishCycle(result CycleResult, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Cycles++
	w.stats.Built += result.Built
	w.stats.Failed += result.Failed
	if err != nil {
		w.stats.LastError = err
	}
}

func (w *Worker) cleanStale(ctx context.Context) {
	if w.staleAge <= 0 || time.Since(w.lastCleanup) < staleCleanupInterval {
		return
	}
	w.lastCleanup = time.Now()
	result := staging.CleanStale(ctx, w.stagingDir, w.staleAge, nil, w.logger)
	if len(result.Removed) > 0 {
		w.logger.Info("stale staging cleanup complete",
			logging.Int("removed", len(result.Removed)),
			logging.Int("errors", len(result.Errors)),
		)
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskhub/internal/config"
	"taskhub/internal/metrics"
	"taskhub/internal/store"
)

// PageJobType fetches a single URL.
const PageJobType = "page"

// Store is the part of the job store the runner drives.
type Store interface {
	RetentionStore
	ClaimPendingJobs(ctx context.Context, limit int32) ([]store.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID, message string, output json.RawMessage) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) error
	RequeueJob(ctx context.Context, id uuid.UUID) error
}

// Runner polls the jobs table and dispatches claimed jobs to the executor
// registered for their type. It also runs the periodic retention sweep.
type Runner struct {
	cfg       *config.Config
	store     Store
	executors map[string]Executor
	logger    *slog.Logger
	now       func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewRunner constructs a Runner. Jobs whose type has no executor are
// marked failed with UNKNOWN_JOB_TYPE.
func NewRunner(cfg *config.Config, st Store, executors map[string]Executor, logger *slog.Logger) *Runner {
	maxJobs := cfg.Worker.MaxConcurrentJobs
	if maxJobs <= 0 {
		maxJobs = 4
	}
	return &Runner{
		cfg:       cfg,
		store:     st,
		executors: executors,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		sem:       make(chan struct{}, maxJobs),
	}
}

// Start runs the worker loop in the current goroutine until ctx is done,
// then waits for in-flight jobs to finish.
func (r *Runner) Start(ctx context.Context) {
	pollInterval := time.Duration(r.cfg.Worker.PollIntervalMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	cleanupInterval := time.Duration(r.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	defer r.wg.Wait()

	var lastCleanup time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if r.cfg.Retention.Enabled {
			now := r.now()
			if lastCleanup.IsZero() || now.Sub(lastCleanup) >= cleanupInterval {
				stats := CleanupExpiredData(ctx, r.cfg, r.store, now, r.logger)
				if len(stats.JobsDeleted) > 0 {
					r.logInfo(ctx, "retention_cleanup", "jobs_deleted", stats.JobsDeleted)
				}
				lastCleanup = now
			}
		}

		r.Tick(ctx)
	}
}

// Tick claims as many pending jobs as there is free capacity and starts
// them. It returns the number of jobs started.
func (r *Runner) Tick(ctx context.Context) int {
	capacity := cap(r.sem) - len(r.sem)
	if capacity <= 0 {
		return 0
	}

	claimed, err := r.store.ClaimPendingJobs(ctx, int32(capacity))
	if err != nil {
		r.logWarn(ctx, "job_claim_failed", "error", err)
		return 0
	}

	for _, job := range claimed {
		job := job
		r.sem <- struct{}{}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() { <-r.sem }()
			r.dispatch(ctx, job)
		}()
	}
	return len(claimed)
}

// Wait blocks until every job started by Tick has finished.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) dispatch(ctx context.Context, job store.Job) {
	start := r.now()
	exec, ok := r.executors[job.Type]
	if !ok {
		r.finishFailed(ctx, job, "UNKNOWN_JOB_TYPE: "+job.Type)
		return
	}

	out, err := exec.Execute(ctx, job)
	if err != nil && ctx.Err() != nil {
		// Interrupted by shutdown, not failed: leave it for the next worker.
		if err := r.store.RequeueJob(context.WithoutCancel(ctx), job.ID); err != nil {
			r.logWarn(ctx, "job_requeue_failed", "job_id", job.ID, "error", err)
			return
		}
		r.logInfo(ctx, "job_requeued", "job_id", job.ID, "type", job.Type)
		return
	}
	if err != nil {
		r.finishFailed(ctx, job, err.Error())
		return
	}

	// The result must be stored even if the worker is shutting down.
	if err := r.store.CompleteJob(context.WithoutCancel(ctx), job.ID, out.Message, out.Result); err != nil {
		r.logWarn(ctx, "job_complete_failed", "job_id", job.ID, "error", err)
		return
	}
	metrics.RecordJobExecution(job.Type, string(StatusSuccess))
	r.logInfo(ctx, "job_succeeded", "job_id", job.ID, "type", job.Type, "duration_ms", r.now().Sub(start).Milliseconds())
}

func (r *Runner) finishFailed(ctx context.Context, job store.Job, msg string) {
	if err := r.store.FailJob(context.WithoutCancel(ctx), job.ID, msg); err != nil {
		r.logWarn(ctx, "job_fail_failed", "job_id", job.ID, "error", err)
		return
	}
	metrics.RecordJobExecution(job.Type, string(StatusFailure))
	r.logInfo(ctx, "job_failed", "job_id", job.ID, "type", job.Type, "error", msg)
}

func (r *Runner) logInfo(ctx context.Context, msg string, args ...any) {
	if r.logger != nil {
		r.logger.InfoContext(ctx, msg, args...)
	}
}

func (r *Runner) logWarn(ctx context.Context, msg string, args ...any) {
	if r.logger != nil {
		r.logger.WarnContext(ctx, msg, args...)
	}
}

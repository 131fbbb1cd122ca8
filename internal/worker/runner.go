package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hibiken/asynq"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
	"github.com/studiocast/studio/internal/service"
)

// ReportFunc records progress for the running job
type ReportFunc func(progress int, step string)

// Processor executes one job type. The returned value becomes the job result.
// Processors must return promptly once ctx is cancelled.
type Processor interface {
	Process(ctx context.Context, job *model.Job, report ReportFunc) (interface{}, error)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, job *model.Job, report ReportFunc) (interface{}, error)

func (f ProcessorFunc) Process(ctx context.Context, job *model.Job, report ReportFunc) (interface{}, error) {
	return f(ctx, job, report)
}

// Runner drives asynq tasks through the job lifecycle: it starts the job,
// runs the processor while watching for cancellation, then completes or
// fails the job and applies the outcome to the session.
type Runner struct {
	queue      *queue.Queue
	lifecycle  *service.Lifecycle
	processors map[model.JobType]Processor
	poll       time.Duration
	grace      time.Duration
	logger     hclog.Logger
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithCancelWatch sets how often the job record is polled for cancellation
// and how long a cancelled processor gets to return
func WithCancelWatch(poll, grace time.Duration) RunnerOption {
	return func(r *Runner) {
		if poll > 0 {
			r.poll = poll
		}
		if grace > 0 {
			r.grace = grace
		}
	}
}

func NewRunner(q *queue.Queue, lifecycle *service.Lifecycle, logger hclog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		queue:      q,
		lifecycle:  lifecycle,
		processors: make(map[model.JobType]Processor),
		poll:       queue.DefaultCancelPoll,
		grace:      queue.DefaultCancelGrace,
		logger:     logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register sets the processor for a job type
func (r *Runner) Register(jobType model.JobType, p Processor) {
	r.processors[jobType] = p
}

// Mux routes every registered job type's task to the runner
func (r *Runner) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for jobType := range r.processors {
		mux.HandleFunc(queue.TaskType(jobType), r.ProcessTask)
	}
	return mux
}

type outcome struct {
	result interface{}
	err    error
}

// ProcessTask handles one asynq task
func (r *Runner) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.ParseTask(t)
	if err != nil {
		return fmt.Errorf("invalid task payload: %v: %w", err, asynq.SkipRetry)
	}
	logger := r.logger.With("job_id", payload.JobID, "session_id", payload.SessionID, "type", payload.Type)

	proc, ok := r.processors[payload.Type]
	if !ok {
		return fmt.Errorf("no processor for job type %q: %w", payload.Type, asynq.SkipRetry)
	}

	attempt, _ := asynq.GetRetryCount(ctx)
	job, err := r.queue.Start(ctx, payload.JobID, attempt)
	switch {
	case errors.Is(err, queue.ErrJobCancelled), errors.Is(err, queue.ErrJobFinished), apperr.IsNotFound(err):
		logger.Info("skipping task", "reason", err)
		return nil
	case err != nil:
		return fmt.Errorf("failed to start job: %w", err)
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = job.MaxRetry
	}

	logger.Info("job started", "attempt", attempt+1)

	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	report := func(progress int, step string) {
		if _, err := r.queue.Progress(ctx, job.ID, progress, step); err != nil {
			if errors.Is(err, queue.ErrJobCancelled) {
				cancel()
				return
			}
			logger.Warn("failed to record progress", "error", err)
		}
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: apperr.Fatal(fmt.Errorf("processor panic: %v", p))}
			}
		}()
		res, err := proc.Process(procCtx, job, report)
		done <- outcome{result: res, err: err}
	}()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case out := <-done:
			if procCtx.Err() != nil && r.cancelled(job.ID) {
				logger.Info("job cancelled while running")
				return nil
			}
			return r.finish(ctx, logger, job, attempt, maxRetry, out)

		case <-ticker.C:
			if !r.cancelled(job.ID) {
				continue
			}
			logger.Info("cancellation requested, stopping processor")
			cancel()
			r.awaitGrace(logger, done)
			return nil

		case <-ctx.Done():
			// deadline or shutdown: give the processor its grace period,
			// then record the attempt as failed
			cancel()
			out, ok := r.await(done)
			if !ok {
				logger.Warn("processor did not stop within grace period; abandoning it", "grace", r.grace)
				out = outcome{err: ctx.Err()}
			}
			if r.cancelled(job.ID) {
				return nil
			}
			if out.err == nil || errors.Is(out.err, context.Canceled) {
				out.err = ctx.Err()
			}
			if errors.Is(out.err, context.Canceled) {
				// worker shutdown; the task goes back to the queue
				out.err = apperr.Transient(fmt.Errorf("worker stopped: %w", out.err))
			}
			return r.finish(context.WithoutCancel(ctx), logger, job, attempt, maxRetry, out)
		}
	}
}

func (r *Runner) finish(ctx context.Context, logger hclog.Logger, job *model.Job, attempt, maxRetry int, out outcome) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if out.err == nil {
		completed, err := r.queue.Complete(ctx, job.ID, out.result)
		if errors.Is(err, queue.ErrJobCancelled) || errors.Is(err, queue.ErrJobFinished) {
			logger.Info("dropping late result", "reason", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}
		if err := r.lifecycle.OnJobCompleted(ctx, completed); err != nil {
			logger.Error("failed to apply job completion to session", "error", err)
		}
		return nil
	}

	retrying := apperr.Retryable(out.err) && attempt < maxRetry
	failed, err := r.queue.Fail(ctx, job.ID, out.err, retrying)
	if errors.Is(err, queue.ErrJobCancelled) {
		return nil
	}
	if err != nil {
		logger.Error("failed to record job failure", "error", err, "cause", out.err)
		return out.err
	}
	if retrying {
		return out.err
	}

	if failed.Status == model.JobStatusFailed {
		if err := r.lifecycle.OnJobFailed(ctx, failed); err != nil {
			logger.Error("failed to apply job failure to session", "error", err)
		}
	}
	return fmt.Errorf("%v: %w", out.err, asynq.SkipRetry)
}

// cancelled reports whether the job record says cancelled
func (r *Runner) cancelled(jobID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := r.queue.Get(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == model.JobStatusCancelled
}

func (r *Runner) await(done <-chan outcome) (outcome, bool) {
	timer := time.NewTimer(r.grace)
	defer timer.Stop()
	select {
	case out := <-done:
		return out, true
	case <-timer.C:
		return outcome{}, false
	}
}

func (r *Runner) awaitGrace(logger hclog.Logger, done <-chan outcome) {
	if _, ok := r.await(done); !ok {
		logger.Warn("processor did not stop within grace period; abandoning it", "grace", r.grace)
	}
}

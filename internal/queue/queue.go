// Package queue owns the job lifecycle: creation with a single active job per
// session and type, worker-side state transitions, retry and cancellation.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/store"
)

var (
	// ErrJobCancelled is returned to workers touching a job that was cancelled
	ErrJobCancelled = errors.New("job was cancelled")
	// ErrJobFinished is returned to workers touching a job that already ended
	ErrJobFinished = errors.New("job already finished")
)

// Dispatcher hands jobs to the execution backend
type Dispatcher interface {
	Dispatch(ctx context.Context, job *model.Job) error
	Abort(ctx context.Context, job *model.Job) error
}

// Notifier is told about every job state change
type Notifier interface {
	JobUpdated(job *model.Job)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(job *model.Job)

func (f NotifierFunc) JobUpdated(job *model.Job) { f(job) }

// Queue creates and transitions job records
type Queue struct {
	store      store.Store
	dispatcher Dispatcher
	notifier   Notifier
	policy     Policy
	logger     hclog.Logger
}

// Option configures a Queue
type Option func(*Queue)

// WithNotifier publishes job changes to n
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithPolicy overrides the default retry policy
func WithPolicy(p Policy) Option {
	return func(q *Queue) { q.policy = p }
}

// New creates a queue
func New(st store.Store, dispatcher Dispatcher, logger hclog.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:      st,
		dispatcher: dispatcher,
		policy:     DefaultPolicy(),
		logger:     logger.Named("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Policy returns the active retry policy
func (q *Queue) Policy() Policy {
	return q.policy
}

type enqueueOptions struct {
	requestedBy string
	retryOf     string
}

// EnqueueOption configures a single Enqueue call
type EnqueueOption func(*enqueueOptions)

// RequestedBy records the identity that asked for the job
func RequestedBy(user string) EnqueueOption {
	return func(o *enqueueOptions) { o.requestedBy = user }
}

func retryOf(jobID string) EnqueueOption {
	return func(o *enqueueOptions) { o.retryOf = jobID }
}

// Enqueue creates a queued job and dispatches it. Only one non-terminal job
// of a type may exist per session; a second request gets a ConflictError
// naming the active job.
func (q *Queue) Enqueue(ctx context.Context, sessionID string, jobType model.JobType, payload interface{}, opts ...EnqueueOption) (*model.Job, error) {
	if !validJobType(jobType) {
		return nil, apperr.Validationf("unknown job type %q", jobType)
	}

	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Type:        jobType,
		Status:      model.JobStatusQueued,
		MaxRetry:    q.policy.MaxRetry,
		RetryOf:     o.retryOf,
		RequestedBy: o.requestedBy,
		Payload:     payloadBytes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The record exists before the claim so a claim never points at nothing
	// unless the writer crashed.
	if err := q.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := q.claim(ctx, job); err != nil {
		if delErr := q.store.DeleteJob(ctx, job.ID); delErr != nil {
			q.logger.Warn("failed to remove unclaimed job", "job_id", job.ID, "error", delErr)
		}
		return nil, err
	}

	q.publish(job)
	if err := q.dispatcher.Dispatch(ctx, job); err != nil {
		q.logger.Error("failed to dispatch job", "job_id", job.ID, "session_id", sessionID, "type", jobType, "error", err)
		failed, failErr := q.finish(ctx, job.ID, func(j *model.Job) {
			msg := fmt.Sprintf("failed to dispatch: %v", err)
			j.Status = model.JobStatusFailed
			j.ErrorMessage = &msg
		})
		if failErr != nil {
			q.logger.Error("failed to mark undispatched job", "job_id", job.ID, "error", failErr)
		} else {
			q.publish(failed)
		}
		return nil, apperr.Transient(fmt.Errorf("failed to enqueue task: %w", err))
	}

	q.logger.Info("job enqueued", "job_id", job.ID, "session_id", sessionID, "type", jobType, "retry_of", o.retryOf)
	return job, nil
}

// claim takes the (session, type) slot. A slot held by a terminal or missing
// job is stale and is released and retaken once.
func (q *Queue) claim(ctx context.Context, job *model.Job) error {
	var holder string
	for attempt := 0; attempt < 3; attempt++ {
		current, ok, err := q.store.ClaimActiveJob(ctx, job.SessionID, job.Type, job.ID)
		if err != nil {
			return fmt.Errorf("failed to claim job slot: %w", err)
		}
		if ok {
			return nil
		}
		if current == "" {
			continue
		}
		holder = current

		active, err := q.store.GetJob(ctx, holder)
		switch {
		case err == nil && !active.Status.IsTerminal():
			return apperr.ActiveJobConflict(job.SessionID, string(job.Type), holder)
		case err != nil && !apperr.IsNotFound(err):
			return fmt.Errorf("failed to read active job: %w", err)
		}

		q.logger.Warn("releasing stale job claim", "session_id", job.SessionID, "type", job.Type, "holder", holder)
		if err := q.store.ReleaseActiveJob(ctx, job.SessionID, job.Type, holder); err != nil {
			return fmt.Errorf("failed to release stale claim: %w", err)
		}
	}
	return apperr.ActiveJobConflict(job.SessionID, string(job.Type), holder)
}

// Get returns a job record
func (q *Queue) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// ListBySession returns every job of a session, oldest first
func (q *Queue) ListBySession(ctx context.Context, sessionID string) ([]*model.Job, error) {
	return q.store.ListJobs(ctx, sessionID)
}

// Active returns the non-terminal job of a type for a session, or nil
func (q *Queue) Active(ctx context.Context, sessionID string, jobType model.JobType) (*model.Job, error) {
	holder, err := q.store.ActiveJob(ctx, sessionID, jobType)
	if err != nil || holder == "" {
		return nil, err
	}
	job, err := q.store.GetJob(ctx, holder)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, nil
	}
	return job, nil
}

// Retry creates a new job from a failed or cancelled one. The original is untouched.
func (q *Queue) Retry(ctx context.Context, jobID string, opts ...EnqueueOption) (*model.Job, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusFailed && job.Status != model.JobStatusCancelled {
		return nil, apperr.Validation("job cannot be retried", fmt.Sprintf("job %s is %s; only failed or cancelled jobs can be retried", job.ID, job.Status))
	}
	opts = append([]EnqueueOption{RequestedBy(job.RequestedBy)}, opts...)
	opts = append(opts, retryOf(job.ID))
	return q.Enqueue(ctx, job.SessionID, job.Type, json.RawMessage(job.Payload), opts...)
}

// Cancel marks a job cancelled, frees its slot and asks the backend to stop it
func (q *Queue) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := q.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		if j.Status.IsTerminal() {
			return apperr.Conflictf("job %s is already %s", j.ID, j.Status)
		}
		now := time.Now().UTC()
		j.Status = model.JobStatusCancelled
		j.CancelRequestedAt = &now
		j.CompletedAt = &now
		j.CurrentStep = "cancelled"
		return nil
	})
	if err != nil {
		return nil, err
	}

	q.release(ctx, job)
	if err := q.dispatcher.Abort(ctx, job); err != nil {
		q.logger.Warn("failed to abort job task", "job_id", job.ID, "error", err)
	}

	q.logger.Info("job cancelled", "job_id", job.ID, "session_id", job.SessionID, "type", job.Type)
	q.publish(job)
	return job, nil
}

// Start moves a job to processing for the given attempt (0 based)
func (q *Queue) Start(ctx context.Context, jobID string, attempt int) (*model.Job, error) {
	job, err := q.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		switch j.Status {
		case model.JobStatusCancelled:
			return ErrJobCancelled
		case model.JobStatusCompleted, model.JobStatusFailed:
			return ErrJobFinished
		}
		now := time.Now().UTC()
		j.Status = model.JobStatusProcessing
		j.Attempts = attempt + 1
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		j.CurrentStep = "started"
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.publish(job)
	return job, nil
}

// Progress records worker progress. Values are clamped to 0..100 and never
// go backwards; a lower report keeps the stored value.
func (q *Queue) Progress(ctx context.Context, jobID string, progress int, step string) (*model.Job, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	job, err := q.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		if j.Status == model.JobStatusCancelled {
			return ErrJobCancelled
		}
		if j.Status.IsTerminal() || progress < j.Progress {
			return store.ErrSkipWrite
		}
		if progress == j.Progress && step == j.CurrentStep {
			return store.ErrSkipWrite
		}
		j.Progress = progress
		if step != "" {
			j.CurrentStep = step
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.publish(job)
	return job, nil
}

// Complete stores the result and ends the job. A cancelled job is never completed.
func (q *Queue) Complete(ctx context.Context, jobID string, result interface{}) (*model.Job, error) {
	var resultBytes []byte
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		resultBytes = data
	}

	skipped := false
	job, err := q.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		switch j.Status {
		case model.JobStatusCancelled:
			return ErrJobCancelled
		case model.JobStatusCompleted:
			skipped = true
			return store.ErrSkipWrite
		case model.JobStatusFailed:
			return ErrJobFinished
		}
		now := time.Now().UTC()
		j.Status = model.JobStatusCompleted
		j.Progress = 100
		j.CurrentStep = "completed"
		j.Result = resultBytes
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if skipped {
		return job, nil
	}

	q.release(ctx, job)
	q.logger.Info("job completed", "job_id", job.ID, "session_id", job.SessionID, "type", job.Type, "attempts", job.Attempts)
	q.publish(job)
	return job, nil
}

// Fail records a failed attempt. With retrying the job goes back to queued
// and keeps its slot; otherwise it ends as failed.
func (q *Queue) Fail(ctx context.Context, jobID string, cause error, retrying bool) (*model.Job, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	skipped := false
	job, err := q.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		if j.Status == model.JobStatusCancelled {
			return ErrJobCancelled
		}
		if j.Status.IsTerminal() {
			skipped = true
			return store.ErrSkipWrite
		}
		j.ErrorMessage = &msg
		if retrying {
			j.Status = model.JobStatusQueued
			j.CurrentStep = "waiting for retry"
			return nil
		}
		now := time.Now().UTC()
		j.Status = model.JobStatusFailed
		j.CurrentStep = "failed"
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if skipped {
		return job, nil
	}

	if job.Status == model.JobStatusFailed {
		q.release(ctx, job)
		q.logger.Error("job failed", "job_id", job.ID, "session_id", job.SessionID, "type", job.Type, "attempts", job.Attempts, "error", msg)
	} else {
		q.logger.Warn("job attempt failed, will retry", "job_id", job.ID, "session_id", job.SessionID, "type", job.Type, "attempts", job.Attempts, "error", msg)
	}
	q.publish(job)
	return job, nil
}

func (q *Queue) finish(ctx context.Context, jobID string, fn func(*model.Job)) (*model.Job, error) {
	job, err := q.store.UpdateJob(ctx, jobID, func(j *model.Job) error {
		fn(j)
		now := time.Now().UTC()
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.release(ctx, job)
	return job, nil
}

func (q *Queue) release(ctx context.Context, job *model.Job) {
	if err := q.store.ReleaseActiveJob(ctx, job.SessionID, job.Type, job.ID); err != nil {
		q.logger.Warn("failed to release job claim", "job_id", job.ID, "error", err)
	}
}

func (q *Queue) publish(job *model.Job) {
	if q.notifier != nil && job != nil {
		q.notifier.JobUpdated(job)
	}
}

func validJobType(t model.JobType) bool {
	for _, v := range model.ValidJobTypes {
		if v == t {
			return true
		}
	}
	return false
}

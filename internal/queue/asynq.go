package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hibiken/asynq"

	"github.com/studiocast/studio/internal/model"
)

// Task type names registered on the worker mux
const (
	TaskTypeSync       = "sync:process"
	TaskTypeEDL        = "edl:process"
	TaskTypeTranscript = "transcript:process"
	TaskTypeRender     = "render:process"
)

// TaskType maps a job type to its asynq task type
func TaskType(t model.JobType) string {
	switch t {
	case model.JobTypeSync:
		return TaskTypeSync
	case model.JobTypeEDL:
		return TaskTypeEDL
	case model.JobTypeTranscript:
		return TaskTypeTranscript
	default:
		return TaskTypeRender
	}
}

// TaskPayload is the body of every asynq task. The job record holds the rest.
type TaskPayload struct {
	JobID     string        `json:"jobId"`
	SessionID string        `json:"sessionId"`
	Type      model.JobType `json:"type"`
}

// NewTask builds the asynq task for a job
func NewTask(job *model.Job) (*asynq.Task, error) {
	data, err := json.Marshal(TaskPayload{JobID: job.ID, SessionID: job.SessionID, Type: job.Type})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskType(job.Type), data), nil
}

// ParseTask reads the payload of a task
func ParseTask(t *asynq.Task) (TaskPayload, error) {
	var p TaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.JobID == "" {
		return p, fmt.Errorf("task payload has no job id")
	}
	return p, nil
}

// AsynqDispatcher runs jobs on asynq, one queue per job type
type AsynqDispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	policy    Policy
	logger    hclog.Logger
}

// NewAsynqDispatcher creates a dispatcher. inspector may be nil, which disables abort.
func NewAsynqDispatcher(client *asynq.Client, inspector *asynq.Inspector, policy Policy, logger hclog.Logger) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:    client,
		inspector: inspector,
		policy:    policy,
		logger:    logger.Named("dispatcher"),
	}
}

// Dispatch enqueues the job's task with the job id as task id
func (d *AsynqDispatcher) Dispatch(ctx context.Context, job *model.Job) error {
	task, err := NewTask(job)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := d.client.EnqueueContext(ctx, task,
		asynq.TaskID(job.ID),
		asynq.Queue(QueueName(job.Type)),
		asynq.MaxRetry(job.MaxRetry),
		asynq.Timeout(d.policy.Timeout(job.Type)),
		asynq.Retention(d.policy.Retention),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	d.logger.Debug("task enqueued", "job_id", job.ID, "queue", info.Queue, "max_retry", info.MaxRetry)
	return nil
}

// Abort cancels a running task and deletes a pending one. Both are best effort.
func (d *AsynqDispatcher) Abort(ctx context.Context, job *model.Job) error {
	if d.inspector == nil {
		return nil
	}

	var errs []error
	if err := d.inspector.CancelProcessing(job.ID); err != nil {
		errs = append(errs, fmt.Errorf("cancel processing: %w", err))
	}
	if err := d.inspector.DeleteTask(QueueName(job.Type), job.ID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		// active tasks cannot be deleted; the cancel above covers them
		d.logger.Debug("task not deleted", "job_id", job.ID, "error", err)
	}
	return errors.Join(errs...)
}

// RetryDelay is the asynq RetryDelayFunc for this policy
func (p Policy) RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	return p.Backoff(n)
}

package service

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
)

// JobService exposes job status, retry and cancel across job types. Retries
// go through the owning service so its preconditions are checked again.
type JobService struct {
	queue      *queue.Queue
	lifecycle  *Lifecycle
	sync       *SyncService
	edl        *EDLService
	transcript *TranscriptService
	render     *RenderService
	logger     hclog.Logger
}

func NewJobService(q *queue.Queue, lifecycle *Lifecycle, sync *SyncService, edl *EDLService, transcript *TranscriptService, render *RenderService, logger hclog.Logger) *JobService {
	return &JobService{
		queue:      q,
		lifecycle:  lifecycle,
		sync:       sync,
		edl:        edl,
		transcript: transcript,
		render:     render,
		logger:     logger.Named("jobs"),
	}
}

// Get returns a job record
func (s *JobService) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return s.queue.Get(ctx, jobID)
}

// Retry creates a new job from a failed or cancelled one
func (s *JobService) Retry(ctx context.Context, jobID, requestedBy string) (*model.Job, error) {
	job, err := s.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusFailed && job.Status != model.JobStatusCancelled {
		return nil, apperr.Validationf("job %s is %s; only failed or cancelled jobs can be retried", job.ID, job.Status)
	}

	switch job.Type {
	case model.JobTypeSync:
		return s.sync.Retry(ctx, job, requestedBy)
	case model.JobTypeEDL:
		return s.edl.Retry(ctx, job, requestedBy)
	case model.JobTypeTranscript:
		return s.transcript.Retry(ctx, job, requestedBy)
	case model.JobTypeRender:
		return s.render.Retry(ctx, jobID, requestedBy)
	default:
		return nil, apperr.Validationf("unknown job type %q", job.Type)
	}
}

// Cancel stops a job and records the outcome on its session
func (s *JobService) Cancel(ctx context.Context, jobID string) (*model.JobCancelResponse, error) {
	job, err := s.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Type == model.JobTypeRender {
		return s.render.Cancel(ctx, jobID)
	}

	job, err = s.queue.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.lifecycle.OnJobCancelled(ctx, job); err != nil {
		s.logger.Error("failed to update session after cancel", "job_id", jobID, "session_id", job.SessionID, "error", err)
	}
	return &model.JobCancelResponse{Success: true, JobID: job.ID, Status: job.Status}, nil
}

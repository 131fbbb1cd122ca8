package service

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
	"github.com/studiocast/studio/internal/store"
)

// RenderService handles render job management
type RenderService struct {
	store     store.Store
	queue     *queue.Queue
	lifecycle *Lifecycle
	logger    hclog.Logger
}

func NewRenderService(st store.Store, q *queue.Queue, lifecycle *Lifecycle, logger hclog.Logger) *RenderService {
	return &RenderService{store: st, queue: q, lifecycle: lifecycle, logger: logger.Named("render")}
}

// RenderInput is everything a render worker needs, loaded at the job's EDL version
type RenderInput struct {
	Session     *model.RecordingSession
	EDL         *model.EDL
	Sync        *model.SyncResult
	Transcripts map[string]*model.Transcript
	Payload     model.RenderJobPayload
}

// Trigger snapshots the locked latest EDL version into a render job
func (s *RenderService) Trigger(ctx context.Context, sessionID string, format model.RenderFormat, requestedBy string) (*model.Job, error) {
	format, err := normalizeFormat(format)
	if err != nil {
		return nil, err
	}
	session, err := loadMutable(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	latest, err := s.lockedLatest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, model.SessionEditing, model.SessionPublished); err != nil {
		return nil, err
	}

	payload := model.RenderJobPayload{EDLVersion: latest.Version, Format: format}
	return s.start(ctx, sessionID, payload, func() (*model.Job, error) {
		return s.queue.Enqueue(ctx, sessionID, model.JobTypeRender, payload, queue.RequestedBy(requestedBy))
	})
}

// Retry re-runs a failed or cancelled render whose EDL version is still the
// locked latest one
func (s *RenderService) Retry(ctx context.Context, jobID, requestedBy string) (*model.Job, error) {
	job, err := s.renderJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusFailed && job.Status != model.JobStatusCancelled {
		return nil, apperr.Validation("job cannot be retried", fmt.Sprintf("job %s is %s; only failed or cancelled jobs can be retried", job.ID, job.Status))
	}
	var payload model.RenderJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}

	session, err := loadMutable(ctx, s.store, job.SessionID)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.GetEDL(ctx, job.SessionID, 0)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}
	if latest == nil || !latest.Locked || latest.Version != payload.EDLVersion {
		return nil, apperr.Validation("job cannot be retried", fmt.Sprintf("edl version %d is no longer the locked version; trigger a new render", payload.EDLVersion))
	}
	if err := requireStatus(session, model.SessionEditing, model.SessionPublished); err != nil {
		return nil, err
	}

	return s.start(ctx, job.SessionID, payload, func() (*model.Job, error) {
		return s.queue.Retry(ctx, job.ID, queue.RequestedBy(requestedBy))
	})
}

func (s *RenderService) start(ctx context.Context, sessionID string, payload model.RenderJobPayload, enqueue func() (*model.Job, error)) (*model.Job, error) {
	job, err := advanceAndEnqueue(ctx, s.store, s.queue, s.logger, sessionID, model.JobTypeRender, model.SessionRendering, clearPipelineTag, enqueue)
	if err != nil {
		return nil, err
	}

	s.logger.Info("render triggered", "session_id", sessionID, "job_id", job.ID, "edl_version", payload.EDLVersion, "format", payload.Format)
	return job, nil
}

// Cancel stops a render and returns the session to editing
func (s *RenderService) Cancel(ctx context.Context, jobID string) (*model.JobCancelResponse, error) {
	if _, err := s.renderJob(ctx, jobID); err != nil {
		return nil, err
	}
	job, err := s.queue.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.lifecycle.OnJobCancelled(ctx, job); err != nil {
		s.logger.Error("failed to update session after cancel", "job_id", jobID, "session_id", job.SessionID, "error", err)
	}
	return &model.JobCancelResponse{Success: true, JobID: job.ID, Status: job.Status}, nil
}

// Progress returns the render view of a job
func (s *RenderService) Progress(ctx context.Context, jobID string) (*model.RenderProgressResponse, error) {
	job, err := s.renderJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	rj, err := model.NewRenderJob(job)
	if err != nil {
		return nil, err
	}
	resp := &model.RenderProgressResponse{
		JobID:       job.ID,
		SessionID:   job.SessionID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.ErrorMessage,
		EDLVersion:  rj.EDLVersion,
		Format:      rj.Format,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Attempts:    job.Attempts,
		Output:      rj.Output,
	}
	return resp, nil
}

// Prepare loads the inputs of a render job and checks its EDL version is
// still locked and latest. Called by the worker.
func (s *RenderService) Prepare(ctx context.Context, job *model.Job) (*RenderInput, error) {
	in := &RenderInput{Transcripts: map[string]*model.Transcript{}}
	if err := job.DecodePayload(&in.Payload); err != nil {
		return nil, apperr.Fatal(err)
	}

	session, err := s.store.GetSession(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}
	in.Session = session

	e, err := s.store.GetEDL(ctx, job.SessionID, in.Payload.EDLVersion)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.GetEDL(ctx, job.SessionID, 0)
	if err != nil {
		return nil, err
	}
	if !e.Locked || latest.Version != e.Version {
		return nil, apperr.Validation("edl changed since render was triggered", fmt.Sprintf("version %d is no longer the locked latest version", e.Version))
	}
	in.EDL = e

	sync, err := s.store.GetSyncResult(ctx, job.SessionID)
	switch {
	case err == nil:
		in.Sync = sync
	case !apperr.IsNotFound(err):
		return nil, err
	}

	transcripts, err := s.store.ListTranscripts(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}
	for _, t := range transcripts {
		in.Transcripts[t.Angle] = t
	}
	return in, nil
}

// Offsets returns the sync offsets of a render input, anchor at zero
func (in *RenderInput) Offsets() map[string]int64 {
	offsets := map[string]int64{in.Session.AnchorAngle: 0}
	if in.Sync != nil {
		for angle, off := range in.Sync.OffsetsMs {
			offsets[angle] = off
		}
	}
	return offsets
}

func (s *RenderService) lockedLatest(ctx context.Context, sessionID string) (*model.EDL, error) {
	latest, err := s.store.GetEDL(ctx, sessionID, 0)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Validation("edl must be locked before rendering", "the session has no edl")
		}
		return nil, err
	}
	if !latest.Locked {
		return nil, apperr.Validation("edl must be locked before rendering", fmt.Sprintf("version %d is unlocked", latest.Version))
	}
	return latest, nil
}

func (s *RenderService) renderJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Type != model.JobTypeRender {
		return nil, jobNotFound(jobID)
	}
	return job, nil
}

func normalizeFormat(format model.RenderFormat) (model.RenderFormat, error) {
	if format == "" {
		return model.RenderMP4_1080p, nil
	}
	for _, f := range model.ValidRenderFormats {
		if f == format {
			return format, nil
		}
	}
	return "", apperr.Validation("invalid render format", fmt.Sprintf("format %q is not one of %v", format, model.ValidRenderFormats))
}

package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/confidence"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
	"github.com/studiocast/studio/internal/store"
)

// SyncService computes and reviews per-camera offsets
type SyncService struct {
	store      store.Store
	queue      *queue.Queue
	classifier confidence.Classifier
	logger     hclog.Logger
}

func NewSyncService(st store.Store, q *queue.Queue, classifier confidence.Classifier, logger hclog.Logger) *SyncService {
	return &SyncService{store: st, queue: q, classifier: classifier, logger: logger.Named("sync")}
}

// Compute enqueues a sync job and moves the session to syncing
func (s *SyncService) Compute(ctx context.Context, sessionID string, method model.SyncMethod, requestedBy string) (*model.Job, error) {
	session, err := loadMutable(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(session.Status, model.SessionSyncing) {
		return nil, apperr.Conflictf("session %s cannot sync while %s", sessionID, session.Status)
	}
	if _, ok := session.Camera(session.AnchorAngle); !ok {
		return nil, apperr.Validation("cannot compute sync", "session has no anchor angle")
	}
	if method == "" {
		method = session.SyncMethod
	}

	payload := model.SyncJobPayload{AnchorAngle: session.AnchorAngle, Method: method}
	return s.enqueue(ctx, sessionID, payload, func() (*model.Job, error) {
		return s.queue.Enqueue(ctx, sessionID, model.JobTypeSync, payload, queue.RequestedBy(requestedBy))
	})
}

// Retry re-runs a failed or cancelled sync job
func (s *SyncService) Retry(ctx context.Context, job *model.Job, requestedBy string) (*model.Job, error) {
	session, err := loadMutable(ctx, s.store, job.SessionID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(session.Status, model.SessionSyncing) {
		return nil, apperr.Conflictf("session %s cannot sync while %s", session.ID, session.Status)
	}
	var payload model.SyncJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	if payload.AnchorAngle != session.AnchorAngle {
		return nil, apperr.Validation("job cannot be retried", "anchor angle changed since the job was created")
	}
	return s.enqueue(ctx, session.ID, payload, func() (*model.Job, error) {
		return s.queue.Retry(ctx, job.ID, queue.RequestedBy(requestedBy))
	})
}

func (s *SyncService) enqueue(ctx context.Context, sessionID string, payload model.SyncJobPayload, enqueue func() (*model.Job, error)) (*model.Job, error) {
	job, err := advanceAndEnqueue(ctx, s.store, s.queue, s.logger, sessionID, model.JobTypeSync, model.SessionSyncing, func(rs *model.RecordingSession) {
		rs.SyncMethod = payload.Method
	}, enqueue)
	if err != nil {
		return nil, err
	}

	s.logger.Info("sync requested", "session_id", sessionID, "job_id", job.ID, "method", payload.Method)
	return job, nil
}

// Get returns the sync result with per-angle tiers
func (s *SyncService) Get(ctx context.Context, sessionID string) (*model.SyncResultResponse, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result, err := s.store.GetSyncResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.present(session, result), nil
}

// Approve accepts the computed offset for an angle
func (s *SyncService) Approve(ctx context.Context, sessionID, angle string) (*model.SyncResultResponse, error) {
	return s.review(ctx, sessionID, angle, func(r *model.SyncResult) bool {
		if r.Reviewed[angle] {
			return false
		}
		r.Reviewed[angle] = true
		return true
	})
}

// Correct replaces the offset for an angle. The computed confidence is kept
// for audit; a corrected angle counts as reviewed.
func (s *SyncService) Correct(ctx context.Context, sessionID, angle string, offsetMs int64) (*model.SyncResultResponse, error) {
	return s.review(ctx, sessionID, angle, func(r *model.SyncResult) bool {
		current, has := r.OffsetsMs[angle]
		if has && current == offsetMs && r.Reviewed[angle] && r.Corrected[angle] {
			return false
		}
		r.OffsetsMs[angle] = offsetMs
		if _, ok := r.Confidence[angle]; !ok {
			r.Confidence[angle] = 0
		}
		r.Reviewed[angle] = true
		r.Corrected[angle] = true
		return true
	})
}

func (s *SyncService) review(ctx context.Context, sessionID, angle string, change func(*model.SyncResult) bool) (*model.SyncResultResponse, error) {
	session, err := loadMutable(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	if angle == session.AnchorAngle {
		return nil, apperr.Validation("invalid angle", "the anchor angle is the reference and has no offset to review")
	}
	if _, ok := session.Camera(angle); !ok {
		return nil, apperr.Validation("invalid angle", fmt.Sprintf("angle %q is not a camera of this session", angle))
	}
	if session.Status.AtLeast(model.SessionEditing) {
		latest, err := s.store.GetEDL(ctx, sessionID, 0)
		if err != nil && !apperr.IsNotFound(err) {
			return nil, err
		}
		if latest != nil && latest.Locked {
			return nil, apperr.Conflictf("edl version %d is locked; unlock it before changing sync", latest.Version)
		}
	}
	active, err := s.queue.Active(ctx, sessionID, model.JobTypeSync)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperr.ActiveJobConflict(sessionID, string(model.JobTypeSync), active.ID)
	}

	var changed bool
	result, err := s.store.UpdateSyncResult(ctx, sessionID, func(r *model.SyncResult) error {
		if r.Reviewed == nil {
			r.Reviewed = map[string]bool{}
		}
		if r.Corrected == nil {
			r.Corrected = map[string]bool{}
		}
		if r.OffsetsMs == nil {
			r.OffsetsMs = map[string]int64{}
		}
		if r.Confidence == nil {
			r.Confidence = map[string]float64{}
		}
		changed = change(r)
		if !changed {
			return store.ErrSkipWrite
		}
		r.Revision++
		return nil
	})
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Conflictf("sync has not been computed for session %s", sessionID)
		}
		return nil, err
	}

	if changed {
		s.logger.Info("sync reviewed", "session_id", sessionID, "angle", angle,
			"offset_ms", result.OffsetsMs[angle], "corrected", result.Corrected[angle], "revision", result.Revision)
		if session, err = s.settle(ctx, sessionID, result); err != nil {
			return nil, err
		}
	}
	return s.present(session, result), nil
}

// settle advances syncing to synced once nothing is left to review
func (s *SyncService) settle(ctx context.Context, sessionID string, result *model.SyncResult) (*model.RecordingSession, error) {
	var synced bool
	session, err := s.store.UpdateSession(ctx, sessionID, func(rs *model.RecordingSession) error {
		synced = false
		if rs.Status != model.SessionSyncing || len(UnsettledAngles(rs, result, s.classifier)) > 0 {
			return store.ErrSkipWrite
		}
		if err := Transition(rs, model.SessionSynced); err != nil {
			return err
		}
		clearPipelineTag(rs)
		synced = true
		return nil
	})
	if synced && err == nil {
		s.logger.Info("session synced", "session_id", sessionID, "revision", result.Revision)
	}
	return session, err
}

func (s *SyncService) present(session *model.RecordingSession, result *model.SyncResult) *model.SyncResultResponse {
	resp := &model.SyncResultResponse{SyncResult: result, Settled: true}

	angles := make([]string, 0, len(result.OffsetsMs))
	for angle := range result.OffsetsMs {
		angles = append(angles, angle)
	}
	for _, c := range session.Cameras {
		if _, ok := result.OffsetsMs[c.Angle]; !ok && c.Angle != result.AnchorAngle {
			angles = append(angles, c.Angle)
		}
	}
	sort.Strings(angles)

	for _, angle := range angles {
		cls := s.classifier.Classify(result.Confidence[angle])
		settled := AngleSettled(result, angle, s.classifier)
		resp.Angles = append(resp.Angles, model.AngleSync{
			Angle:        angle,
			OffsetMs:     result.OffsetsMs[angle],
			Confidence:   cls.Score,
			Tier:         string(cls.Tier),
			Label:        cls.Label,
			Color:        cls.Color,
			Reviewed:     result.Reviewed[angle],
			Corrected:    result.Corrected[angle],
			ManualReview: result.ManualReview[angle],
			Settled:      settled,
		})
		if !settled {
			resp.Settled = false
		}
	}
	return resp
}

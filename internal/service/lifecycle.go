package service

import (
	"context"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/confidence"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/store"
)

// Lifecycle applies job outcomes to sessions. It is the only place where a
// finished job changes session status or the pipeline's operator tags.
type Lifecycle struct {
	store      store.Store
	classifier confidence.Classifier
	logger     hclog.Logger
}

// NewLifecycle creates the session lifecycle hooks
func NewLifecycle(st store.Store, classifier confidence.Classifier, logger hclog.Logger) *Lifecycle {
	return &Lifecycle{store: st, classifier: classifier, logger: logger.Named("lifecycle")}
}

// OnJobCompleted advances the session after a successful job
func (l *Lifecycle) OnJobCompleted(ctx context.Context, job *model.Job) error {
	switch job.Type {
	case model.JobTypeSync:
		return l.settleSync(ctx, job.SessionID)
	case model.JobTypeRender:
		_, err := l.update(ctx, job, func(s *model.RecordingSession) error {
			if s.Status != model.SessionRendering {
				return store.ErrSkipWrite
			}
			if err := Transition(s, model.SessionPublished); err != nil {
				return err
			}
			clearPipelineTag(s)
			return nil
		})
		if err == nil {
			l.logger.Info("session published", "session_id", job.SessionID, "job_id", job.ID)
		}
		return err
	default:
		return nil
	}
}

// OnJobFailed tags the session after a job failed for good. Only a failed
// render moves the session back; other failures never regress status.
func (l *Lifecycle) OnJobFailed(ctx context.Context, job *model.Job) error {
	_, err := l.update(ctx, job, func(s *model.RecordingSession) error {
		if job.Type == model.JobTypeRender {
			if s.Status != model.SessionRendering {
				return store.ErrSkipWrite
			}
			if err := Transition(s, model.SessionEditing); err != nil {
				return err
			}
			s.OperatorStatus = model.OperatorRenderFailed
			return nil
		}
		s.OperatorStatus = model.OperatorNeedsAttention
		return nil
	})
	if err == nil {
		l.logger.Warn("job failed", "session_id", job.SessionID, "job_id", job.ID, "type", job.Type, "error", job.Error())
	}
	return err
}

// OnJobCancelled tags the session after an operator cancelled a job
func (l *Lifecycle) OnJobCancelled(ctx context.Context, job *model.Job) error {
	_, err := l.update(ctx, job, func(s *model.RecordingSession) error {
		if job.Type == model.JobTypeRender && s.Status == model.SessionRendering {
			if err := Transition(s, model.SessionEditing); err != nil {
				return err
			}
		}
		s.OperatorStatus = model.OperatorNeedsAttention
		return nil
	})
	return err
}

func (l *Lifecycle) update(ctx context.Context, job *model.Job, fn func(*model.RecordingSession) error) (*model.RecordingSession, error) {
	return l.store.UpdateSession(ctx, job.SessionID, func(s *model.RecordingSession) error {
		if s.IsArchived() || s.Status == model.SessionFailed {
			return store.ErrSkipWrite
		}
		return fn(s)
	})
}

// settleSync moves a syncing session to synced when every angle is settled,
// otherwise tags it for review
func (l *Lifecycle) settleSync(ctx context.Context, sessionID string) error {
	result, err := l.store.GetSyncResult(ctx, sessionID)
	if err != nil {
		return err
	}

	var pending []string
	var synced bool
	_, err = l.store.UpdateSession(ctx, sessionID, func(s *model.RecordingSession) error {
		pending, synced = nil, false
		if s.IsArchived() || s.Status != model.SessionSyncing {
			return store.ErrSkipWrite
		}
		pending = UnsettledAngles(s, result, l.classifier)
		if len(pending) > 0 {
			if s.OperatorStatus == model.OperatorNeedsReview {
				return store.ErrSkipWrite
			}
			s.OperatorStatus = model.OperatorNeedsReview
			return nil
		}
		if err := Transition(s, model.SessionSynced); err != nil {
			return err
		}
		clearPipelineTag(s)
		synced = true
		return nil
	})
	if err != nil {
		return err
	}

	if len(pending) > 0 {
		l.logger.Info("sync needs review", "session_id", sessionID, "angles", pending)
	} else if synced {
		l.logger.Info("session synced", "session_id", sessionID, "revision", result.Revision)
	}
	return nil
}

// AngleSettled reports whether an angle's offset may be used without review:
// an operator reviewed it, or it scored high without a manual review flag
func AngleSettled(result *model.SyncResult, angle string, classifier confidence.Classifier) bool {
	if result == nil {
		return false
	}
	if angle == result.AnchorAngle {
		return true
	}
	if _, ok := result.OffsetsMs[angle]; !ok {
		return false
	}
	if result.Reviewed[angle] {
		return true
	}
	if result.ManualReview[angle] {
		return false
	}
	return classifier.AutoApprovable(result.Confidence[angle])
}

// UnsettledAngles lists the non-anchor angles still awaiting review, sorted
func UnsettledAngles(s *model.RecordingSession, result *model.SyncResult, classifier confidence.Classifier) []string {
	var pending []string
	for _, angle := range s.NonAnchorAngles() {
		if !AngleSettled(result, angle, classifier) {
			pending = append(pending, angle)
		}
	}
	sort.Strings(pending)
	return pending
}

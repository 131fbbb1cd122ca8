package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/confidence"
	"github.com/studiocast/studio/internal/edl"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
	"github.com/studiocast/studio/internal/store"
)

// EDLService owns the versioned edit decision list of each session
type EDLService struct {
	store      store.Store
	queue      *queue.Queue
	classifier confidence.Classifier
	fps        int
	logger     hclog.Logger
}

func NewEDLService(st store.Store, q *queue.Queue, classifier confidence.Classifier, fps int, logger hclog.Logger) *EDLService {
	if fps <= 0 {
		fps = edl.DefaultFPS
	}
	return &EDLService{store: st, queue: q, classifier: classifier, fps: fps, logger: logger.Named("edl")}
}

// Generate enqueues an edl job that seeds a new version from the anchor angle
func (s *EDLService) Generate(ctx context.Context, sessionID, requestedBy string) (*model.Job, error) {
	session, err := loadMutable(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, model.SessionSynced, model.SessionEditing); err != nil {
		return nil, err
	}
	anchor, _ := session.Camera(session.AnchorAngle)
	if _, err := edl.Seed(session.AnchorAngle, anchor.DurationMs); err != nil {
		return nil, err
	}
	latest, err := s.latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireUnlocked(latest); err != nil {
		return nil, err
	}

	payload := model.EDLJobPayload{BaseVersion: latest.Version}
	job, err := s.queue.Enqueue(ctx, sessionID, model.JobTypeEDL, payload, queue.RequestedBy(requestedBy))
	if err != nil {
		return nil, err
	}
	s.logger.Info("edl generation requested", "session_id", sessionID, "job_id", job.ID, "base_version", latest.Version)
	return job, nil
}

// Retry re-runs a failed or cancelled edl job against the current latest version
func (s *EDLService) Retry(ctx context.Context, job *model.Job, requestedBy string) (*model.Job, error) {
	var payload model.EDLJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	latest, err := s.latest(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}
	if latest.Version != payload.BaseVersion {
		return nil, apperr.Validation("job cannot be retried", fmt.Sprintf("edl moved from version %d to %d; generate again", payload.BaseVersion, latest.Version))
	}
	if _, err := loadMutable(ctx, s.store, job.SessionID); err != nil {
		return nil, err
	}
	return s.queue.Retry(ctx, job.ID, queue.RequestedBy(requestedBy))
}

// AppendSeed writes the seeded version for an edl job. It is called by the worker.
func (s *EDLService) AppendSeed(ctx context.Context, job *model.Job) (*model.EDL, error) {
	var payload model.EDLJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, apperr.Fatal(err)
	}
	session, err := loadMutable(ctx, s.store, job.SessionID)
	if err != nil {
		return nil, err
	}
	anchor, _ := session.Camera(session.AnchorAngle)
	cuts, err := edl.Seed(session.AnchorAngle, anchor.DurationMs)
	if err != nil {
		return nil, err
	}

	latest, err := s.latest(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}
	if latest.Version != payload.BaseVersion {
		// an earlier attempt of this job may already have written it
		if latest.Version == payload.BaseVersion+1 && latest.CreatedBy == job.RequestedBy && len(latest.Cuts) == 1 && latest.Cuts[0] == cuts[0] && len(latest.Chapters) == 0 {
			return latest, nil
		}
		return nil, apperr.Conflictf("edl changed from version %d to %d while generating", payload.BaseVersion, latest.Version)
	}
	if err := requireUnlocked(latest); err != nil {
		return nil, err
	}

	next := latest.Next(job.RequestedBy)
	next.Cuts = cuts
	next.Chapters = []model.Chapter{}
	if err := s.store.AppendEDL(ctx, next); err != nil {
		return nil, err
	}
	s.logger.Info("edl seeded", "session_id", job.SessionID, "version", next.Version, "anchor", session.AnchorAngle, "duration_ms", next.DurationMs())
	return next, nil
}

// UpdateCuts replaces the cut list, writing version latest+1
func (s *EDLService) UpdateCuts(ctx context.Context, sessionID string, baseVersion *int, cuts []model.Cut, createdBy string) (*model.EDL, error) {
	return s.write(ctx, sessionID, baseVersion, createdBy, func(session *model.RecordingSession, sync *model.SyncResult, next *model.EDL) error {
		if err := edl.ValidateCuts(cuts, edl.Coverages(session, sync)); err != nil {
			return err
		}
		next.Cuts = append([]model.Cut(nil), cuts...)
		if err := edl.ValidateChapters(next.Chapters, next.DurationMs()); err != nil {
			var v *apperr.ValidationError
			details := []string{err.Error()}
			if errors.As(err, &v) {
				details = v.Details
			}
			return apperr.Validation("cuts would orphan existing chapters", details...)
		}
		return nil
	})
}

// UpdateChapters replaces the chapter list, writing version latest+1
func (s *EDLService) UpdateChapters(ctx context.Context, sessionID string, baseVersion *int, chapters []model.Chapter, createdBy string) (*model.EDL, error) {
	return s.write(ctx, sessionID, baseVersion, createdBy, func(session *model.RecordingSession, sync *model.SyncResult, next *model.EDL) error {
		if len(next.Cuts) == 0 {
			return apperr.Validation("invalid chapters", "the edl has no cuts yet")
		}
		normalized := edl.NormalizeChapters(chapters)
		if err := edl.ValidateChapters(normalized, next.DurationMs()); err != nil {
			return err
		}
		next.Chapters = normalized
		return nil
	})
}

func (s *EDLService) write(ctx context.Context, sessionID string, baseVersion *int, createdBy string, apply func(*model.RecordingSession, *model.SyncResult, *model.EDL) error) (*model.EDL, error) {
	session, err := loadMutable(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, model.SessionSynced, model.SessionEditing); err != nil {
		return nil, err
	}
	latest, err := s.latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireUnlocked(latest); err != nil {
		return nil, err
	}
	if baseVersion != nil && *baseVersion != latest.Version {
		return nil, apperr.Conflictf("edl was changed concurrently: base version %d, latest is %d", *baseVersion, latest.Version)
	}
	sync, err := s.syncResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	next := latest.Next(createdBy)
	if next.Chapters == nil {
		next.Chapters = []model.Chapter{}
	}
	if err := apply(session, sync, next); err != nil {
		return nil, err
	}
	if err := s.store.AppendEDL(ctx, next); err != nil {
		return nil, err
	}

	s.logger.Info("edl updated", "session_id", sessionID, "version", next.Version, "cuts", len(next.Cuts), "chapters", len(next.Chapters), "by", createdBy)
	return next, nil
}

// Lock freezes the latest version for export and rendering
func (s *EDLService) Lock(ctx context.Context, sessionID string) (*model.EDL, error) {
	session, err := loadMutable(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, model.SessionSynced, model.SessionEditing); err != nil {
		return nil, err
	}
	latest, err := s.store.GetEDL(ctx, sessionID, 0)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Validation("cannot lock edl", "the edl has no cuts yet")
		}
		return nil, err
	}
	if latest.Locked {
		return latest, nil
	}

	sync, err := s.syncResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := edl.Validate(latest, edl.Coverages(session, sync)); err != nil {
		return nil, err
	}
	var unsettled []string
	for _, angle := range latest.Angles() {
		if angle != session.AnchorAngle && !AngleSettled(sync, angle, s.classifier) {
			unsettled = append(unsettled, angle)
		}
	}
	if len(unsettled) > 0 {
		sort.Strings(unsettled)
		return nil, apperr.Validation("cannot lock edl", fmt.Sprintf("sync is not settled for angles %s; approve or correct them first", strings.Join(unsettled, ", ")))
	}

	if _, err := moveSession(ctx, s.store, sessionID, model.SessionEditing, true, nil); err != nil {
		return nil, err
	}
	locked, err := s.store.SetEDLLock(ctx, sessionID, latest.Version, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info("edl locked", "session_id", sessionID, "version", locked.Version)
	return locked, nil
}

// Unlock reopens the latest version for edits. Not allowed while rendering.
func (s *EDLService) Unlock(ctx context.Context, sessionID string) (*model.EDL, error) {
	session, err := loadMutable(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	active, err := s.queue.Active(ctx, sessionID, model.JobTypeRender)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperr.ActiveJobConflict(sessionID, string(model.JobTypeRender), active.ID)
	}
	if session.Status == model.SessionRendering {
		return nil, apperr.Conflictf("session %s is rendering", sessionID)
	}

	latest, err := s.store.GetEDL(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	if !latest.Locked {
		return latest, nil
	}
	unlocked, err := s.store.SetEDLLock(ctx, sessionID, latest.Version, false)
	if err != nil {
		return nil, err
	}
	s.logger.Info("edl unlocked", "session_id", sessionID, "version", unlocked.Version)
	return unlocked, nil
}

// Export renders the locked latest version
func (s *EDLService) Export(ctx context.Context, sessionID string, format model.EDLFormat) ([]byte, string, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	latest, err := s.store.GetEDL(ctx, sessionID, 0)
	if err != nil {
		return nil, "", err
	}
	sync, err := s.syncResult(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	opts := edl.ExportOptions{Title: session.Title, FPS: s.fps}
	if sync != nil {
		opts.Offsets = sync.OffsetsMs
	}
	return edl.Export(latest, format, opts)
}

// Get returns a version, or the latest when version is 0
func (s *EDLService) Get(ctx context.Context, sessionID string, version int) (*model.EDL, error) {
	if version < 0 {
		return nil, apperr.Validationf("invalid edl version %d", version)
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetEDL(ctx, sessionID, version)
}

// History lists every version, oldest first
func (s *EDLService) History(ctx context.Context, sessionID string) ([]model.EDLVersionSummary, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListEDLVersions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]model.EDLVersionSummary, 0, len(versions))
	for _, v := range versions {
		out = append(out, model.EDLVersionSummary{
			Version:   v.Version,
			Cuts:      len(v.Cuts),
			Chapters:  len(v.Chapters),
			Locked:    v.Locked,
			CreatedBy: v.CreatedBy,
			CreatedAt: v.CreatedAt,
		})
	}
	return out, nil
}

// latest returns the newest version, or an empty version 0 for a new session
func (s *EDLService) latest(ctx context.Context, sessionID string) (*model.EDL, error) {
	latest, err := s.store.GetEDL(ctx, sessionID, 0)
	if apperr.IsNotFound(err) {
		return &model.EDL{SessionID: sessionID}, nil
	}
	return latest, err
}

func (s *EDLService) syncResult(ctx context.Context, sessionID string) (*model.SyncResult, error) {
	sync, err := s.store.GetSyncResult(ctx, sessionID)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	return sync, err
}

func requireUnlocked(e *model.EDL) error {
	if e != nil && e.Locked {
		return apperr.Conflictf("edl version %d is locked; unlock it before editing", e.Version)
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
	"github.com/studiocast/studio/internal/store"
)

var anglePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// MaxOperatorStatus bounds operator tags
const MaxOperatorStatus = 64

// SessionService handles session intake and operator driven transitions
type SessionService struct {
	store  store.Store
	queue  *queue.Queue
	logger hclog.Logger
}

func NewSessionService(st store.Store, q *queue.Queue, logger hclog.Logger) *SessionService {
	return &SessionService{store: st, queue: q, logger: logger.Named("session")}
}

// Create opens a session in the recording state
func (s *SessionService) Create(ctx context.Context, ownerID string, req *model.CreateSessionRequest) (*model.RecordingSession, error) {
	method := req.SyncMethod
	if method == "" {
		method = model.SyncMethodAudio
	}

	cameras := make([]model.CameraAsset, 0, len(req.Cameras))
	var details []string
	seen := make(map[string]bool)
	for i, c := range req.Cameras {
		if err := validateAngle(c.Angle); err != nil {
			details = append(details, fmt.Sprintf("cameras[%d]: %v", i, err))
			continue
		}
		if seen[c.Angle] {
			details = append(details, fmt.Sprintf("cameras[%d]: duplicate angle %q", i, c.Angle))
			continue
		}
		seen[c.Angle] = true
		cameras = append(cameras, c.ToAsset())
	}
	if req.AnchorAngle != "" && !seen[req.AnchorAngle] {
		details = append(details, fmt.Sprintf("anchorAngle %q is not one of the cameras", req.AnchorAngle))
	}
	if len(details) > 0 {
		return nil, apperr.Validation("invalid session", details...)
	}

	now := nowUTC()
	session := &model.RecordingSession{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		OwnerID:     ownerID,
		Status:      model.SessionRecording,
		AnchorAngle: req.AnchorAngle,
		SyncMethod:  method,
		Cameras:     cameras,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Info("session created", "session_id", session.ID, "cameras", len(cameras), "owner", ownerID)
	return session, nil
}

// Get returns a session, archived or not
func (s *SessionService) Get(ctx context.Context, id string) (*model.RecordingSession, error) {
	return s.store.GetSession(ctx, id)
}

// List returns the non-archived sessions, newest first
func (s *SessionService) List(ctx context.Context) (*model.SessionListResponse, error) {
	sessions, err := s.store.ListSessions(ctx, false)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*model.RecordingSession{}
	}
	return &model.SessionListResponse{Sessions: sessions, Total: len(sessions)}, nil
}

// Archive soft deletes a session. Artifacts stay readable.
func (s *SessionService) Archive(ctx context.Context, id string) (*model.RecordingSession, error) {
	session, err := s.store.UpdateSession(ctx, id, func(rs *model.RecordingSession) error {
		if err := requireMutable(rs); err != nil {
			return err
		}
		now := nowUTC()
		rs.ArchivedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("session archived", "session_id", id)
	return session, nil
}

// AddCamera registers another camera while media is still being collected
func (s *SessionService) AddCamera(ctx context.Context, id string, req *model.CameraRequest) (*model.RecordingSession, error) {
	if err := validateAngle(req.Angle); err != nil {
		return nil, apperr.Validation("invalid camera", err.Error())
	}
	asset := req.ToAsset()

	return s.store.UpdateSession(ctx, id, func(rs *model.RecordingSession) error {
		if err := requireMutable(rs); err != nil {
			return err
		}
		if err := requireStatus(rs, model.SessionRecording, model.SessionUploaded); err != nil {
			return err
		}
		if _, exists := rs.Camera(asset.Angle); exists {
			return apperr.Validation("invalid camera", fmt.Sprintf("angle %q already exists", asset.Angle))
		}
		rs.Cameras = append(rs.Cameras, asset)
		return nil
	})
}

// SetAnchor picks the reference angle. It is frozen once syncing starts.
func (s *SessionService) SetAnchor(ctx context.Context, id, angle string) (*model.RecordingSession, error) {
	return s.store.UpdateSession(ctx, id, func(rs *model.RecordingSession) error {
		if err := requireMutable(rs); err != nil {
			return err
		}
		if rs.Status == model.SessionFailed || rs.Status.AtLeast(model.SessionSyncing) {
			return apperr.Conflictf("anchor angle of session %s cannot change once it is %s", rs.ID, rs.Status)
		}
		if _, ok := rs.Camera(angle); !ok {
			return apperr.Validation("invalid anchor", fmt.Sprintf("angle %q is not a camera of this session", angle))
		}
		if rs.AnchorAngle == angle {
			return store.ErrSkipWrite
		}
		rs.AnchorAngle = angle
		return nil
	})
}

// MarkUploaded closes camera intake
func (s *SessionService) MarkUploaded(ctx context.Context, id string) (*model.RecordingSession, error) {
	session, err := s.store.UpdateSession(ctx, id, func(rs *model.RecordingSession) error {
		if err := requireMutable(rs); err != nil {
			return err
		}
		var details []string
		if len(rs.Cameras) == 0 {
			details = append(details, "at least one camera is required")
		}
		if _, ok := rs.Camera(rs.AnchorAngle); !ok {
			details = append(details, "an anchor angle must be chosen among the cameras")
		}
		if len(details) > 0 {
			return apperr.Validation("session is not ready", details...)
		}
		return Transition(rs, model.SessionUploaded)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("session uploaded", "session_id", id)
	return session, nil
}

// StartEditing moves a synced session to editing without locking an EDL
func (s *SessionService) StartEditing(ctx context.Context, id string) (*model.RecordingSession, error) {
	return moveSession(ctx, s.store, id, model.SessionEditing, true, nil)
}

// Abandon marks a session failed
func (s *SessionService) Abandon(ctx context.Context, id string) (*model.RecordingSession, error) {
	session, err := moveSession(ctx, s.store, id, model.SessionFailed, false, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("session abandoned", "session_id", id)
	return session, nil
}

// SetOperatorStatus sets or clears the free-form operator tag
func (s *SessionService) SetOperatorStatus(ctx context.Context, id, status string) (*model.RecordingSession, error) {
	if len(status) > MaxOperatorStatus {
		return nil, apperr.Validation("invalid operator status", fmt.Sprintf("exceeds %d characters", MaxOperatorStatus))
	}
	return s.store.UpdateSession(ctx, id, func(rs *model.RecordingSession) error {
		if err := requireMutable(rs); err != nil {
			return err
		}
		if rs.OperatorStatus == status {
			return store.ErrSkipWrite
		}
		rs.OperatorStatus = status
		return nil
	})
}

// Jobs returns the session's job history, oldest first
func (s *SessionService) Jobs(ctx context.Context, id string) ([]*model.Job, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	jobs, err := s.queue.ListBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	return jobs, nil
}

func validateAngle(angle string) error {
	if !anglePattern.MatchString(angle) {
		return fmt.Errorf("angle %q must be 1-32 letters, digits, '_' or '-'", angle)
	}
	return nil
}

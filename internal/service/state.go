package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
	"github.com/studiocast/studio/internal/store"
)

// transitions lists the statuses reachable from each status
var transitions = map[model.SessionStatus][]model.SessionStatus{
	model.SessionRecording: {model.SessionUploaded, model.SessionFailed},
	model.SessionUploaded:  {model.SessionSyncing, model.SessionFailed},
	model.SessionSyncing:   {model.SessionSyncing, model.SessionSynced, model.SessionFailed},
	model.SessionSynced:    {model.SessionSyncing, model.SessionEditing, model.SessionFailed},
	model.SessionEditing:   {model.SessionRendering, model.SessionFailed},
	model.SessionRendering: {model.SessionPublished, model.SessionEditing, model.SessionFailed},
	model.SessionPublished: {model.SessionRendering, model.SessionFailed},
	model.SessionFailed:    nil,
}

// CanTransition reports whether a session may move from one status to another
func CanTransition(from, to model.SessionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves s to status to, or returns a ConflictError
func Transition(s *model.RecordingSession, to model.SessionStatus) error {
	if !CanTransition(s.Status, to) {
		return apperr.Conflictf("session %s cannot move from %s to %s", s.ID, s.Status, to)
	}
	s.Status = to
	return nil
}

// requireMutable rejects writes to archived sessions
func requireMutable(s *model.RecordingSession) error {
	if s.IsArchived() {
		return apperr.Conflictf("session %s is archived", s.ID)
	}
	return nil
}

// requireStatus rejects sessions outside the allowed statuses
func requireStatus(s *model.RecordingSession, allowed ...model.SessionStatus) error {
	for _, status := range allowed {
		if s.Status == status {
			return nil
		}
	}
	return apperr.Conflictf("session %s is %s; expected one of %v", s.ID, s.Status, allowed)
}

// loadMutable reads a session that is about to be changed
func loadMutable(ctx context.Context, st store.Store, id string) (*model.RecordingSession, error) {
	session, err := st.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireMutable(session); err != nil {
		return nil, err
	}
	return session, nil
}

// moveSession applies a status transition atomically. A session already in
// status to is left as is when idempotent is set.
func moveSession(ctx context.Context, st store.Store, id string, to model.SessionStatus, idempotent bool, fn func(*model.RecordingSession)) (*model.RecordingSession, error) {
	return st.UpdateSession(ctx, id, func(s *model.RecordingSession) error {
		if err := requireMutable(s); err != nil {
			return err
		}
		if idempotent && s.Status == to {
			if fn == nil {
				return store.ErrSkipWrite
			}
		} else if err := Transition(s, to); err != nil {
			return err
		}
		if fn != nil {
			fn(s)
		}
		return nil
	})
}

// isPipelineTag reports whether an operator status was written by the pipeline
func isPipelineTag(tag string) bool {
	switch tag {
	case model.OperatorNeedsReview, model.OperatorNeedsAttention, model.OperatorRenderFailed:
		return true
	}
	return false
}

func clearPipelineTag(s *model.RecordingSession) {
	if isPipelineTag(s.OperatorStatus) {
		s.OperatorStatus = ""
	}
}

func nowUTC() time.Time { return time.Now().UTC() }

func jobNotFound(jobID string) error {
	return fmt.Errorf("job %s: %w", jobID, apperr.ErrNotFound)
}

// sessionMark is the part of a session a trigger changes, kept so a failed
// enqueue can put it back
type sessionMark struct {
	status         model.SessionStatus
	syncMethod     model.SyncMethod
	operatorStatus string
}

// advanceAndEnqueue moves the session to `to` and only then enqueues the job,
// so a worker always sees the session in the state the job expects. When the
// enqueue fails the session is restored, unless something moved it since.
func advanceAndEnqueue(ctx context.Context, st store.Store, q *queue.Queue, logger hclog.Logger, sessionID string, jobType model.JobType, to model.SessionStatus, fn func(*model.RecordingSession), enqueue func() (*model.Job, error)) (*model.Job, error) {
	active, err := q.Active(ctx, sessionID, jobType)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperr.ActiveJobConflict(sessionID, string(jobType), active.ID)
	}

	var prev sessionMark
	_, err = st.UpdateSession(ctx, sessionID, func(s *model.RecordingSession) error {
		if err := requireMutable(s); err != nil {
			return err
		}
		prev = sessionMark{status: s.Status, syncMethod: s.SyncMethod, operatorStatus: s.OperatorStatus}
		if err := Transition(s, to); err != nil {
			return err
		}
		if fn != nil {
			fn(s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	job, err := enqueue()
	if err == nil {
		return job, nil
	}
	_, restoreErr := st.UpdateSession(context.WithoutCancel(ctx), sessionID, func(s *model.RecordingSession) error {
		if s.Status != to {
			return store.ErrSkipWrite
		}
		s.Status = prev.status
		s.SyncMethod = prev.syncMethod
		s.OperatorStatus = prev.operatorStatus
		return nil
	})
	if restoreErr != nil {
		logger.Error("failed to restore session after enqueue error", "session_id", sessionID, "type", jobType, "error", restoreErr)
	}
	return nil, err
}

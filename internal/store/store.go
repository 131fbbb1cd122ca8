// Package store persists sessions, sync results, EDL versions, transcripts
// and job records. Every backend offers the same atomic read-modify-write
// and claim primitives so the queue and services stay backend agnostic.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
)

// ErrNotFound is returned for missing records
var ErrNotFound = apperr.ErrNotFound

// ErrSkipWrite may be returned by an update func to leave the record untouched.
// The update call then returns the current record and a nil error.
var ErrSkipWrite = errors.New("skip write")

// Store is the persistence boundary of the pipeline
type Store interface {
	GetSession(ctx context.Context, id string) (*model.RecordingSession, error)
	PutSession(ctx context.Context, session *model.RecordingSession) error
	UpdateSession(ctx context.Context, id string, fn func(*model.RecordingSession) error) (*model.RecordingSession, error)
	ListSessions(ctx context.Context, includeArchived bool) ([]*model.RecordingSession, error)

	GetSyncResult(ctx context.Context, sessionID string) (*model.SyncResult, error)
	PutSyncResult(ctx context.Context, result *model.SyncResult) error
	UpdateSyncResult(ctx context.Context, sessionID string, fn func(*model.SyncResult) error) (*model.SyncResult, error)

	// GetEDL returns a version, or the latest when version is 0
	GetEDL(ctx context.Context, sessionID string, version int) (*model.EDL, error)
	// AppendEDL writes a new version. It must be exactly latest+1.
	AppendEDL(ctx context.Context, edl *model.EDL) error
	// SetEDLLock flips the lock flag of version, which must be the latest
	SetEDLLock(ctx context.Context, sessionID string, version int, locked bool) (*model.EDL, error)
	ListEDLVersions(ctx context.Context, sessionID string) ([]*model.EDL, error)

	GetTranscript(ctx context.Context, sessionID, angle string) (*model.Transcript, error)
	PutTranscript(ctx context.Context, transcript *model.Transcript) error
	ListTranscripts(ctx context.Context, sessionID string) ([]*model.Transcript, error)

	GetJob(ctx context.Context, id string) (*model.Job, error)
	PutJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error)
	ListJobs(ctx context.Context, sessionID string) ([]*model.Job, error)
	// DeleteJob removes a record that never became visible, such as a lost claim race
	DeleteJob(ctx context.Context, id string) error

	// ClaimActiveJob atomically marks jobID as the single active job for
	// (sessionID, jobType). When the slot is taken it returns the holder and false.
	ClaimActiveJob(ctx context.Context, sessionID string, jobType model.JobType, jobID string) (string, bool, error)
	// ReleaseActiveJob clears the slot only if jobID still holds it
	ReleaseActiveJob(ctx context.Context, sessionID string, jobType model.JobType, jobID string) error
	// ActiveJob returns the holder of the slot or ""
	ActiveJob(ctx context.Context, sessionID string, jobType model.JobType) (string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Redis key layout
func sessionKey(id string) string     { return "studio:session:" + id }
func sessionsIndexKey() string        { return "studio:sessions" }
func syncKey(sessionID string) string { return "studio:sync:" + sessionID }
func edlKey(sessionID string, version int) string {
	return fmt.Sprintf("studio:edl:%s:v%d", sessionID, version)
}
func edlLatestKey(sessionID string) string   { return "studio:edl:" + sessionID + ":latest" }
func transcriptsKey(sessionID string) string { return "studio:transcripts:" + sessionID }
func jobKey(id string) string                { return "studio:job:" + id }
func sessionJobsKey(sessionID string) string { return "studio:session:" + sessionID + ":jobs" }
func activeKey(sessionID string, jobType model.JobType) string {
	return fmt.Sprintf("studio:active:%s:%s", sessionID, jobType)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func edlVersionConflict(sessionID string, want, latest int) error {
	return apperr.Conflictf("edl for session %s is at version %d, cannot write version %d", sessionID, latest, want)
}

// clone deep copies a record through its JSON form, the same shape every backend stores
func clone[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func touch(t *time.Time) {
	*t = time.Now().UTC()
}

func applyLock(e *model.EDL, locked bool) {
	e.Locked = locked
	if locked {
		now := time.Now().UTC()
		e.LockedAt = &now
	} else {
		e.LockedAt = nil
	}
}

func sortJobs(jobs []*model.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

func sortTranscripts(ts []*model.Transcript) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Angle < ts[j].Angle })
}

// Open builds the backend named by driver: "redis", "postgres", "sqlite" or "memory"
func Open(driver, dsn string, redisClient *redis.Client) (Store, error) {
	switch driver {
	case "", "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis store requires a redis client")
		}
		return NewRedisStore(redisClient), nil
	case "postgres", "sqlite":
		return OpenSQL(driver, dsn)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

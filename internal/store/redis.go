package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
)

const maxTxRetries = 16

// releaseScript deletes the claim only when it still names the caller's job
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps records as JSON strings in Redis, the same way job
// records have always been kept. Updates use WATCH/MULTI.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v interface{}, kind, id string) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return notFound(kind, id)
		}
		return apperr.Transient(fmt.Errorf("failed to read %s: %w", key, err))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// updateJSON runs an optimistic read-modify-write of one JSON key
func updateJSON[T any](ctx context.Context, client *redis.Client, key, kind, id string, fn func(*T) error, stamp func(*T)) (*T, error) {
	var result *T
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return notFound(kind, id)
			}
			return err
		}
		var current T
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		working, err := clone(&current)
		if err != nil {
			return err
		}
		if err := fn(working); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				result = &current
				return nil
			}
			return err
		}
		stamp(working)
		out, err := json.Marshal(working)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			result = working
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, apperr.Transient(fmt.Errorf("too many concurrent updates to %s", key))
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*model.RecordingSession, error) {
	var session model.RecordingSession
	if err := s.getJSON(ctx, sessionKey(id), &session, "session", id); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *RedisStore) PutSession(ctx context.Context, session *model.RecordingSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, 0)
		pipe.ZAdd(ctx, sessionsIndexKey(), redis.Z{Score: float64(session.CreatedAt.UnixNano()), Member: session.ID})
		return nil
	})
	if err != nil {
		return apperr.Transient(fmt.Errorf("failed to save session: %w", err))
	}
	return nil
}

func (s *RedisStore) UpdateSession(ctx context.Context, id string, fn func(*model.RecordingSession) error) (*model.RecordingSession, error) {
	return updateJSON(ctx, s.client, sessionKey(id), "session", id, fn, func(v *model.RecordingSession) { touch(&v.UpdatedAt) })
}

func (s *RedisStore) ListSessions(ctx context.Context, includeArchived bool) ([]*model.RecordingSession, error) {
	ids, err := s.client.ZRevRange(ctx, sessionsIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("failed to list sessions: %w", err))
	}
	out := make([]*model.RecordingSession, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("failed to load sessions: %w", err))
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var session model.RecordingSession
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		if session.IsArchived() && !includeArchived {
			continue
		}
		out = append(out, &session)
	}
	return out, nil
}

func (s *RedisStore) GetSyncResult(ctx context.Context, sessionID string) (*model.SyncResult, error) {
	var result model.SyncResult
	if err := s.getJSON(ctx, syncKey(sessionID), &result, "sync result", sessionID); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *RedisStore) PutSyncResult(ctx context.Context, result *model.SyncResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal sync result: %w", err)
	}
	if err := s.client.Set(ctx, syncKey(result.SessionID), data, 0).Err(); err != nil {
		return apperr.Transient(fmt.Errorf("failed to save sync result: %w", err))
	}
	return nil
}

func (s *RedisStore) UpdateSyncResult(ctx context.Context, sessionID string, fn func(*model.SyncResult) error) (*model.SyncResult, error) {
	return updateJSON(ctx, s.client, syncKey(sessionID), "sync result", sessionID, fn, func(v *model.SyncResult) { touch(&v.UpdatedAt) })
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) latestEDL(ctx context.Context, getter stringGetter, sessionID string) (int, error) {
	latest, err := getter.Get(ctx, edlLatestKey(sessionID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return latest, err
}

func (s *RedisStore) GetEDL(ctx context.Context, sessionID string, version int) (*model.EDL, error) {
	if version == 0 {
		latest, err := s.latestEDL(ctx, s.client, sessionID)
		if err != nil {
			return nil, apperr.Transient(fmt.Errorf("failed to read edl version: %w", err))
		}
		if latest == 0 {
			return nil, notFound("edl", sessionID)
		}
		version = latest
	}
	var e model.EDL
	if err := s.getJSON(ctx, edlKey(sessionID, version), &e, "edl version", sessionID); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *RedisStore) AppendEDL(ctx context.Context, edl *model.EDL) error {
	data, err := json.Marshal(edl)
	if err != nil {
		return fmt.Errorf("failed to marshal edl: %w", err)
	}
	latestKey := edlLatestKey(edl.SessionID)

	txf := func(tx *redis.Tx) error {
		latest, err := s.latestEDL(ctx, tx, edl.SessionID)
		if err != nil {
			return err
		}
		if edl.Version != latest+1 {
			return edlVersionConflict(edl.SessionID, edl.Version, latest)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, edlKey(edl.SessionID, edl.Version), data, 0)
			pipe.Set(ctx, latestKey, edl.Version, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, latestKey)
		if errors.Is(err, redis.TxFailedErr) {
			// another writer appended first; the next pass reports the conflict
			continue
		}
		return err
	}
	return apperr.Transient(fmt.Errorf("too many concurrent edl writes for %s", edl.SessionID))
}

func (s *RedisStore) SetEDLLock(ctx context.Context, sessionID string, version int, locked bool) (*model.EDL, error) {
	latestKey := edlLatestKey(sessionID)
	versionKey := edlKey(sessionID, version)
	var result *model.EDL

	txf := func(tx *redis.Tx) error {
		latest, err := s.latestEDL(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if latest == 0 {
			return notFound("edl", sessionID)
		}
		if version != latest {
			return edlVersionConflict(sessionID, version, latest)
		}
		data, err := tx.Get(ctx, versionKey).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return notFound("edl version", sessionID)
			}
			return err
		}
		var e model.EDL
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		applyLock(&e, locked)
		out, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, versionKey, out, 0)
			return nil
		})
		if err == nil {
			result = &e
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, latestKey, versionKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, apperr.Transient(fmt.Errorf("too many concurrent edl writes for %s", sessionID))
}

func (s *RedisStore) ListEDLVersions(ctx context.Context, sessionID string) ([]*model.EDL, error) {
	latest, err := s.latestEDL(ctx, s.client, sessionID)
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("failed to read edl version: %w", err))
	}
	out := make([]*model.EDL, 0, latest)
	if latest == 0 {
		return out, nil
	}
	keys := make([]string, latest)
	for v := 1; v <= latest; v++ {
		keys[v-1] = edlKey(sessionID, v)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("failed to load edl versions: %w", err))
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e model.EDL
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode edl: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *RedisStore) GetTranscript(ctx context.Context, sessionID, angle string) (*model.Transcript, error) {
	data, err := s.client.HGet(ctx, transcriptsKey(sessionID), angle).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound("transcript", sessionID+"/"+angle)
		}
		return nil, apperr.Transient(fmt.Errorf("failed to read transcript: %w", err))
	}
	var t model.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return &t, nil
}

func (s *RedisStore) PutTranscript(ctx context.Context, transcript *model.Transcript) error {
	data, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	if err := s.client.HSet(ctx, transcriptsKey(transcript.SessionID), transcript.Angle, data).Err(); err != nil {
		return apperr.Transient(fmt.Errorf("failed to save transcript: %w", err))
	}
	return nil
}

func (s *RedisStore) ListTranscripts(ctx context.Context, sessionID string) ([]*model.Transcript, error) {
	values, err := s.client.HGetAll(ctx, transcriptsKey(sessionID)).Result()
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("failed to list transcripts: %w", err))
	}
	out := make([]*model.Transcript, 0, len(values))
	for _, raw := range values {
		var t model.Transcript
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("failed to decode transcript: %w", err)
		}
		out = append(out, &t)
	}
	sortTranscripts(out)
	return out, nil
}

func (s *RedisStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	if err := s.getJSON(ctx, jobKey(id), &job, "job", id); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *RedisStore) PutJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, 0)
		pipe.ZAdd(ctx, sessionJobsKey(job.SessionID), redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.ID})
		return nil
	})
	if err != nil {
		return apperr.Transient(fmt.Errorf("failed to save job: %w", err))
	}
	return nil
}

func (s *RedisStore) UpdateJob(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	return updateJSON(ctx, s.client, jobKey(id), "job", id, fn, func(v *model.Job) { touch(&v.UpdatedAt) })
}

func (s *RedisStore) ListJobs(ctx context.Context, sessionID string) ([]*model.Job, error) {
	ids, err := s.client.ZRange(ctx, sessionJobsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("failed to list jobs: %w", err))
	}
	out := make([]*model.Job, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("failed to load jobs: %w", err))
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var job model.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		out = append(out, &job)
	}
	sortJobs(out)
	return out, nil
}

func (s *RedisStore) DeleteJob(ctx context.Context, id string) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, jobKey(id))
		pipe.ZRem(ctx, sessionJobsKey(job.SessionID), id)
		return nil
	})
	if err != nil {
		return apperr.Transient(fmt.Errorf("failed to delete job: %w", err))
	}
	return nil
}

func (s *RedisStore) ClaimActiveJob(ctx context.Context, sessionID string, jobType model.JobType, jobID string) (string, bool, error) {
	key := activeKey(sessionID, jobType)
	for i := 0; i < 3; i++ {
		ok, err := s.client.SetNX(ctx, key, jobID, 0).Result()
		if err != nil {
			return "", false, apperr.Transient(fmt.Errorf("failed to claim %s: %w", key, err))
		}
		if ok {
			return jobID, true, nil
		}
		holder, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// released between SETNX and GET
			continue
		}
		if err != nil {
			return "", false, apperr.Transient(fmt.Errorf("failed to read claim %s: %w", key, err))
		}
		return holder, false, nil
	}
	return "", false, apperr.Transient(fmt.Errorf("claim %s is contended", key))
}

func (s *RedisStore) ReleaseActiveJob(ctx context.Context, sessionID string, jobType model.JobType, jobID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{activeKey(sessionID, jobType)}, jobID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return apperr.Transient(fmt.Errorf("failed to release claim: %w", err))
	}
	return nil
}

func (s *RedisStore) ActiveJob(ctx context.Context, sessionID string, jobType model.JobType) (string, error) {
	holder, err := s.client.Get(ctx, activeKey(sessionID, jobType)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Transient(fmt.Errorf("failed to read claim: %w", err))
	}
	return holder, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

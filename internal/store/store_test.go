package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
)

type factory func(t *testing.T) Store

func backends() map[string]factory {
	return map[string]factory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisStore(client)
		},
		"sqlite": func(t *testing.T) Store {
			dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
			s, err := OpenSQL("sqlite", dsn)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func newSession(id string) *model.RecordingSession {
	now := time.Now().UTC()
	return &model.RecordingSession{
		ID:          id,
		Title:       "Episode " + id,
		Status:      model.SessionRecording,
		AnchorAngle: "A",
		SyncMethod:  model.SyncMethodAudio,
		Cameras: []model.CameraAsset{
			{Angle: "A", MediaURL: "https://media.test/a.mp4", DurationMs: 60000, HasAudio: true},
			{Angle: "B", MediaURL: "https://media.test/b.mp4", DurationMs: 58000, HasAudio: true},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSessions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetSession(ctx, "missing")
		assert.True(t, apperr.IsNotFound(err))

		require.NoError(t, s.PutSession(ctx, newSession("s1")))
		second := newSession("s2")
		second.CreatedAt = second.CreatedAt.Add(time.Second)
		require.NoError(t, s.PutSession(ctx, second))

		got, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "Episode s1", got.Title)
		assert.Len(t, got.Cameras, 2)

		updated, err := s.UpdateSession(ctx, "s1", func(sess *model.RecordingSession) error {
			sess.Status = model.SessionUploaded
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, model.SessionUploaded, updated.Status)

		got, err = s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionUploaded, got.Status)

		// a failing update leaves the record untouched
		_, err = s.UpdateSession(ctx, "s1", func(sess *model.RecordingSession) error {
			sess.Status = model.SessionFailed
			return apperr.Conflict("nope")
		})
		assert.True(t, apperr.IsConflict(err))
		got, _ = s.GetSession(ctx, "s1")
		assert.Equal(t, model.SessionUploaded, got.Status)

		skipped, err := s.UpdateSession(ctx, "s1", func(sess *model.RecordingSession) error {
			sess.Title = "ignored"
			return ErrSkipWrite
		})
		require.NoError(t, err)
		assert.Equal(t, "Episode s1", skipped.Title)

		_, err = s.UpdateSession(ctx, "missing", func(*model.RecordingSession) error { return nil })
		assert.True(t, apperr.IsNotFound(err))

		now := time.Now().UTC()
		_, err = s.UpdateSession(ctx, "s2", func(sess *model.RecordingSession) error {
			sess.ArchivedAt = &now
			return nil
		})
		require.NoError(t, err)

		list, err := s.ListSessions(ctx, false)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "s1", list[0].ID)

		list, err = s.ListSessions(ctx, true)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "s2", list[0].ID)
	})
}

func TestSyncResults(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetSyncResult(ctx, "s1")
		assert.True(t, apperr.IsNotFound(err))

		r := model.NewSyncResult("s1", "A", model.SyncMethodAudio)
		r.OffsetsMs["B"] = 1200
		r.Confidence["B"] = 0.92
		r.Revision = 1
		require.NoError(t, s.PutSyncResult(ctx, r))

		updated, err := s.UpdateSyncResult(ctx, "s1", func(r *model.SyncResult) error {
			r.Reviewed["B"] = true
			r.Revision++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Revision)

		got, err := s.GetSyncResult(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(1200), got.OffsetsMs["B"])
		assert.Equal(t, 0.92, got.Confidence["B"])
		assert.True(t, got.Reviewed["B"])
		assert.Equal(t, 2, got.Revision)
	})
}

func TestEDLVersions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetEDL(ctx, "s1", 0)
		assert.True(t, apperr.IsNotFound(err))

		v1 := &model.EDL{SessionID: "s1", Version: 1, Cuts: []model.Cut{{StartMs: 0, EndMs: 60000, Angle: "A"}}, CreatedAt: time.Now().UTC()}
		require.NoError(t, s.AppendEDL(ctx, v1))

		// version numbers are strictly sequential
		err = s.AppendEDL(ctx, &model.EDL{SessionID: "s1", Version: 1})
		assert.True(t, apperr.IsConflict(err))
		err = s.AppendEDL(ctx, &model.EDL{SessionID: "s1", Version: 3})
		assert.True(t, apperr.IsConflict(err))

		v2 := v1.Next("editor")
		v2.Cuts = []model.Cut{{StartMs: 0, EndMs: 30000, Angle: "A"}, {StartMs: 30000, EndMs: 60000, Angle: "B"}}
		require.NoError(t, s.AppendEDL(ctx, v2))

		latest, err := s.GetEDL(ctx, "s1", 0)
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)
		assert.Equal(t, v2.Cuts, latest.Cuts)

		first, err := s.GetEDL(ctx, "s1", 1)
		require.NoError(t, err)
		assert.Equal(t, v1.Cuts, first.Cuts)

		_, err = s.GetEDL(ctx, "s1", 9)
		assert.True(t, apperr.IsNotFound(err))

		// only the latest version can be locked
		_, err = s.SetEDLLock(ctx, "s1", 1, true)
		assert.True(t, apperr.IsConflict(err))

		locked, err := s.SetEDLLock(ctx, "s1", 2, true)
		require.NoError(t, err)
		assert.True(t, locked.Locked)
		assert.NotNil(t, locked.LockedAt)

		got, err := s.GetEDL(ctx, "s1", 2)
		require.NoError(t, err)
		assert.True(t, got.Locked)

		unlocked, err := s.SetEDLLock(ctx, "s1", 2, false)
		require.NoError(t, err)
		assert.False(t, unlocked.Locked)
		assert.Nil(t, unlocked.LockedAt)

		versions, err := s.ListEDLVersions(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, 1, versions[0].Version)
		assert.Equal(t, 2, versions[1].Version)

		empty, err := s.ListEDLVersions(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestTranscripts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetTranscript(ctx, "s1", "A")
		assert.True(t, apperr.IsNotFound(err))

		for _, angle := range []string{"B", "A"} {
			require.NoError(t, s.PutTranscript(ctx, &model.Transcript{
				SessionID: "s1",
				Angle:     angle,
				Segments:  []model.TranscriptSegment{{StartMs: 0, EndMs: 1000, Text: "hello " + angle, Confidence: 0.9}},
			}))
		}

		got, err := s.GetTranscript(ctx, "s1", "B")
		require.NoError(t, err)
		assert.Equal(t, "hello B", got.Segments[0].Text)

		list, err := s.ListTranscripts(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "A", list[0].Angle)
		assert.Equal(t, "B", list[1].Angle)
	})
}

func TestJobs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().UTC()

		for i, id := range []string{"j1", "j2"} {
			require.NoError(t, s.PutJob(ctx, &model.Job{
				ID:        id,
				SessionID: "s1",
				Type:      model.JobTypeSync,
				Status:    model.JobStatusQueued,
				Payload:   []byte(`{"anchorAngle":"A"}`),
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			}))
		}
		require.NoError(t, s.PutJob(ctx, &model.Job{ID: "other", SessionID: "s2", Type: model.JobTypeEDL, CreatedAt: base}))

		job, err := s.UpdateJob(ctx, "j1", func(j *model.Job) error {
			j.Status = model.JobStatusProcessing
			j.Progress = 40
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 40, job.Progress)

		got, err := s.GetJob(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, got.Status)
		assert.JSONEq(t, `{"anchorAngle":"A"}`, string(got.Payload))

		list, err := s.ListJobs(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "j1", list[0].ID)
		assert.Equal(t, "j2", list[1].ID)

		_, err = s.GetJob(ctx, "missing")
		assert.True(t, apperr.IsNotFound(err))

		require.NoError(t, s.DeleteJob(ctx, "j2"))
		require.NoError(t, s.DeleteJob(ctx, "j2"))
		list, err = s.ListJobs(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestActiveJobClaim(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		holder, ok, err := s.ClaimActiveJob(ctx, "s1", model.JobTypeRender, "j1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "j1", holder)

		holder, ok, err = s.ClaimActiveJob(ctx, "s1", model.JobTypeRender, "j2")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "j1", holder)

		// other types and sessions are independent
		_, ok, err = s.ClaimActiveJob(ctx, "s1", model.JobTypeSync, "j3")
		require.NoError(t, err)
		assert.True(t, ok)
		_, ok, err = s.ClaimActiveJob(ctx, "s2", model.JobTypeRender, "j4")
		require.NoError(t, err)
		assert.True(t, ok)

		// release is compare-and-delete
		require.NoError(t, s.ReleaseActiveJob(ctx, "s1", model.JobTypeRender, "j2"))
		active, err := s.ActiveJob(ctx, "s1", model.JobTypeRender)
		require.NoError(t, err)
		assert.Equal(t, "j1", active)

		require.NoError(t, s.ReleaseActiveJob(ctx, "s1", model.JobTypeRender, "j1"))
		active, err = s.ActiveJob(ctx, "s1", model.JobTypeRender)
		require.NoError(t, err)
		assert.Empty(t, active)

		_, ok, err = s.ClaimActiveJob(ctx, "s1", model.JobTypeRender, "j5")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestActiveJobClaim_Concurrent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const n = 20

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, ok, err := s.ClaimActiveJob(ctx, "s1", model.JobTypeSync, fmt.Sprintf("job-%d", i))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})
}

func TestUpdateJob_ConcurrentIncrements(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.PutJob(ctx, &model.Job{ID: "j1", SessionID: "s1", Type: model.JobTypeRender, CreatedAt: time.Now().UTC()}))

		const n = 10
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateJob(ctx, "j1", func(j *model.Job) error {
					j.Attempts++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		job, err := s.GetJob(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, n, job.Attempts)
	})
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "", nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open("redis", "", nil)
	assert.Error(t, err)

	_, err = Open("mongo", "", nil)
	assert.Error(t, err)
}

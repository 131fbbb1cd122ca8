package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/store"
)

type recordingDispatcher struct {
	mu          sync.Mutex
	dispatched  []string
	aborted     []string
	dispatchErr error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, job *model.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dispatchErr != nil {
		return d.dispatchErr
	}
	d.dispatched = append(d.dispatched, job.ID)
	return nil
}

func (d *recordingDispatcher) Abort(ctx context.Context, job *model.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborted = append(d.aborted, job.ID)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispatched)
}

func newTestQueue(t *testing.T) (*Queue, store.Store, *recordingDispatcher) {
	t.Helper()
	st := store.NewMemoryStore()
	d := &recordingDispatcher{}
	return New(st, d, hclog.NewNullLogger()), st, d
}

func TestEnqueue(t *testing.T) {
	q, st, d := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "s1", model.JobTypeSync, model.SyncJobPayload{AnchorAngle: "A"}, RequestedBy("user-1"))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, DefaultMaxRetry, job.MaxRetry)
	assert.Equal(t, "user-1", job.RequestedBy)
	assert.Equal(t, []string{job.ID}, d.dispatched)

	stored, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	var payload model.SyncJobPayload
	require.NoError(t, stored.DecodePayload(&payload))
	assert.Equal(t, "A", payload.AnchorAngle)

	active, err := q.Active(ctx, "s1", model.JobTypeSync)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)
}

func TestEnqueue_UnknownType(t *testing.T) {
	q, _, _ := newTestQueue(t)
	_, err := q.Enqueue(context.Background(), "s1", "master", nil)
	assert.True(t, apperr.IsValidation(err))
}

func TestEnqueue_OneActiveJobPerType(t *testing.T) {
	q, st, d := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "s1", model.JobTypeRender, model.RenderJobPayload{EDLVersion: 1})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "s1", model.JobTypeRender, model.RenderJobPayload{EDLVersion: 1})
	require.Error(t, err)
	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ActiveJobID)

	// the rejected record is not left behind
	jobs, err := st.ListJobs(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, 1, d.count())

	_, err = q.Enqueue(ctx, "s1", model.JobTypeTranscript, model.TranscriptJobPayload{Angle: "A"})
	assert.NoError(t, err)
	_, err = q.Enqueue(ctx, "s2", model.JobTypeRender, model.RenderJobPayload{EDLVersion: 1})
	assert.NoError(t, err)
}

func TestEnqueue_ConcurrentStress(t *testing.T) {
	backends := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return store.NewMemoryStore() },
		"redis": func(t *testing.T) store.Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return store.NewRedisStore(client)
		},
	}

	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			d := &recordingDispatcher{}
			q := New(newStore(t), d, hclog.NewNullLogger())
			ctx := context.Background()
			const n = 25

			var wg sync.WaitGroup
			var mu sync.Mutex
			var successes, conflicts int
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := q.Enqueue(ctx, "s1", model.JobTypeSync, model.SyncJobPayload{AnchorAngle: "A"})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case apperr.IsConflict(err):
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, 1, successes)
			assert.Equal(t, n-1, conflicts)
			assert.Equal(t, 1, d.count())
		})
	}
}

func TestEnqueue_StaleClaimIsReleased(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()

	// a holder that was never written, as after a crash
	_, ok, err := st.ClaimActiveJob(ctx, "s1", model.JobTypeEDL, "ghost")
	require.NoError(t, err)
	require.True(t, ok)

	job, err := q.Enqueue(ctx, "s1", model.JobTypeEDL, model.EDLJobPayload{})
	require.NoError(t, err)

	holder, err := st.ActiveJob(ctx, "s1", model.JobTypeEDL)
	require.NoError(t, err)
	assert.Equal(t, job.ID, holder)

	// a holder that finished without releasing
	_, err = st.UpdateJob(ctx, job.ID, func(j *model.Job) error {
		j.Status = model.JobStatusCompleted
		return nil
	})
	require.NoError(t, err)

	next, err := q.Enqueue(ctx, "s1", model.JobTypeEDL, model.EDLJobPayload{})
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, next.ID)
}

func TestEnqueue_DispatchFailure(t *testing.T) {
	q, st, d := newTestQueue(t)
	ctx := context.Background()
	d.dispatchErr = errors.New("redis down")

	_, err := q.Enqueue(ctx, "s1", model.JobTypeSync, nil)
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))

	jobs, err := st.ListJobs(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobStatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].Error(), "redis down")

	holder, err := st.ActiveJob(ctx, "s1", model.JobTypeSync)
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestWorkerLifecycle(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "s1", model.JobTypeRender, model.RenderJobPayload{EDLVersion: 1})
	require.NoError(t, err)

	started, err := q.Start(ctx, job.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, started.Status)
	assert.Equal(t, 1, started.Attempts)
	require.NotNil(t, started.StartedAt)

	p, err := q.Progress(ctx, job.ID, 40, "encoding")
	require.NoError(t, err)
	assert.Equal(t, 40, p.Progress)

	// lower reports are ignored
	p, err = q.Progress(ctx, job.ID, 10, "rewind")
	require.NoError(t, err)
	assert.Equal(t, 40, p.Progress)
	assert.Equal(t, "encoding", p.CurrentStep)

	p, err = q.Progress(ctx, job.ID, 250, "almost")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Progress)

	done, err := q.Complete(ctx, job.ID, model.RenderOutput{VideoURL: "https://cdn.test/v.mp4"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.CompletedAt)

	var out model.RenderOutput
	require.NoError(t, done.DecodeResult(&out))
	assert.Equal(t, "https://cdn.test/v.mp4", out.VideoURL)

	holder, err := st.ActiveJob(ctx, "s1", model.JobTypeRender)
	require.NoError(t, err)
	assert.Empty(t, holder)

	// completing twice is a no-op, failing afterwards does nothing
	_, err = q.Complete(ctx, job.ID, nil)
	assert.NoError(t, err)
	after, err := q.Fail(ctx, job.ID, errors.New("late"), false)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, after.Status)
}

func TestFail_RetryingThenFinal(t *testing.T) {
	q, st, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "s1", model.JobTypeTranscript, model.TranscriptJobPayload{Angle: "A"})
	require.NoError(t, err)
	_, err = q.Start(ctx, job.ID, 0)
	require.NoError(t, err)
	_, err = q.Progress(ctx, job.ID, 30, "transcribing")
	require.NoError(t, err)

	retrying, err := q.Fail(ctx, job.ID, errors.New("upstream 503"), true)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, retrying.Status)
	assert.Equal(t, "upstream 503", retrying.Error())
	assert.Equal(t, 30, retrying.Progress)

	holder, _ := st.ActiveJob(ctx, "s1", model.JobTypeTranscript)
	assert.Equal(t, job.ID, holder)

	_, err = q.Start(ctx, job.ID, 1)
	require.NoError(t, err)
	failed, err := q.Fail(ctx, job.ID, errors.New("bad media"), false)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, failed.Status)
	assert.Equal(t, "bad media", failed.Error())
	assert.Equal(t, 2, failed.Attempts)

	holder, _ = st.ActiveJob(ctx, "s1", model.JobTypeTranscript)
	assert.Empty(t, holder)
}

func TestCancel(t *testing.T) {
	q, st, d := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "s1", model.JobTypeRender, model.RenderJobPayload{EDLVersion: 1})
	require.NoError(t, err)
	_, err = q.Start(ctx, job.ID, 0)
	require.NoError(t, err)

	cancelled, err := q.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelRequestedAt)
	assert.Equal(t, []string{job.ID}, d.aborted)

	holder, _ := st.ActiveJob(ctx, "s1", model.JobTypeRender)
	assert.Empty(t, holder)

	// late worker reports are rejected
	_, err = q.Complete(ctx, job.ID, nil)
	assert.ErrorIs(t, err, ErrJobCancelled)
	_, err = q.Progress(ctx, job.ID, 90, "encoding")
	assert.ErrorIs(t, err, ErrJobCancelled)
	_, err = q.Fail(ctx, job.ID, errors.New("boom"), true)
	assert.ErrorIs(t, err, ErrJobCancelled)
	_, err = q.Start(ctx, job.ID, 1)
	assert.ErrorIs(t, err, ErrJobCancelled)

	got, _ := q.Get(ctx, job.ID)
	assert.Equal(t, model.JobStatusCancelled, got.Status)

	_, err = q.Cancel(ctx, job.ID)
	assert.True(t, apperr.IsConflict(err))
}

func TestRetry(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "s1", model.JobTypeRender, model.RenderJobPayload{EDLVersion: 3, Format: model.RenderMP4_720p}, RequestedBy("editor"))
	require.NoError(t, err)

	_, err = q.Retry(ctx, job.ID)
	assert.True(t, apperr.IsValidation(err), "active jobs cannot be retried")

	_, err = q.Start(ctx, job.ID, 0)
	require.NoError(t, err)
	_, err = q.Fail(ctx, job.ID, errors.New("encoder crashed"), false)
	require.NoError(t, err)

	retried, err := q.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, retried.ID)
	assert.Equal(t, job.ID, retried.RetryOf)
	assert.Equal(t, "editor", retried.RequestedBy)
	assert.Equal(t, model.JobStatusQueued, retried.Status)

	var payload model.RenderJobPayload
	require.NoError(t, retried.DecodePayload(&payload))
	assert.Equal(t, 3, payload.EDLVersion)
	assert.Equal(t, model.RenderMP4_720p, payload.Format)

	original, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, original.Status)

	_, err = q.Retry(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestNotifier(t *testing.T) {
	st := store.NewMemoryStore()
	var mu sync.Mutex
	var seen []model.JobStatus
	q := New(st, &recordingDispatcher{}, hclog.NewNullLogger(), WithNotifier(NotifierFunc(func(job *model.Job) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job.Status)
	})))
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "s1", model.JobTypeEDL, model.EDLJobPayload{})
	require.NoError(t, err)
	_, err = q.Start(ctx, job.ID, 0)
	require.NoError(t, err)
	_, err = q.Complete(ctx, job.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, []model.JobStatus{model.JobStatusQueued, model.JobStatusProcessing, model.JobStatusCompleted}, seen)
}

func TestPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2*time.Second, p.Backoff(0))
	assert.Equal(t, 4*time.Second, p.Backoff(1))
	assert.Equal(t, 16*time.Second, p.Backoff(3))
	assert.Equal(t, 2*time.Minute, p.Backoff(10))
	assert.Equal(t, 2*time.Minute, p.Backoff(100))
	assert.Equal(t, 2*time.Second, p.RetryDelay(0, nil, nil))

	assert.Equal(t, time.Minute, p.Timeout(model.JobTypeEDL))
	assert.Equal(t, 60*time.Minute, p.Timeout(model.JobTypeRender))
	assert.Equal(t, DefaultJobTimeout, Policy{}.Timeout(model.JobTypeSync))

	weights := QueueWeights()
	assert.Greater(t, weights["render"], weights["edl"])
}

func TestTaskRoundTrip(t *testing.T) {
	job := &model.Job{ID: "j1", SessionID: "s1", Type: model.JobTypeTranscript}
	task, err := NewTask(job)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeTranscript, task.Type())

	p, err := ParseTask(task)
	require.NoError(t, err)
	assert.Equal(t, "j1", p.JobID)
	assert.Equal(t, model.JobTypeTranscript, p.Type)
}

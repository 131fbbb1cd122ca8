package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/studiocast/studio/internal/client"
	"github.com/studiocast/studio/internal/confidence"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
	"github.com/studiocast/studio/internal/service"
	"github.com/studiocast/studio/internal/store"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(ctx context.Context, job *model.Job) error { return nil }
func (nopDispatcher) Abort(ctx context.Context, job *model.Job) error    { return nil }

// fakeMedia answers offsets from a table and runs renders that finish after
// a fixed number of polls, or never when polls is negative
type fakeMedia struct {
	mu        sync.Mutex
	offsets   map[string]client.OffsetResponse
	offsetErr error
	polls     int
	seen      map[string]int
	requests  []*client.RenderRequest
	cancelled []string
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{offsets: map[string]client.OffsetResponse{}, polls: 2, seen: map[string]int{}}
}

func (f *fakeMedia) EstimateOffset(ctx context.Context, req *client.OffsetRequest) (*client.OffsetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offsetErr != nil {
		return nil, f.offsetErr
	}
	resp, ok := f.offsets[req.Angle]
	if !ok {
		return &client.OffsetResponse{Undetermined: true}, nil
	}
	return &resp, nil
}

func (f *fakeMedia) StartRender(ctx context.Context, req *client.RenderRequest) (*client.RenderTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &client.RenderTask{TaskID: "task-1", Status: client.RenderTaskQueued}, nil
}

func (f *fakeMedia) GetRenderStatus(ctx context.Context, taskID string) (*client.RenderTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[taskID]++
	if f.polls < 0 || f.seen[taskID] < f.polls {
		return &client.RenderTask{TaskID: taskID, Status: client.RenderTaskProcessing, Progress: 50, Step: "Encoding video"}, nil
	}
	return &client.RenderTask{
		TaskID:       taskID,
		Status:       client.RenderTaskCompleted,
		Progress:     100,
		VideoURL:     "https://cdn.test/video.mp4",
		ThumbnailURL: "https://cdn.test/thumbnail.jpg",
	}, nil
}

func (f *fakeMedia) CancelRender(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	return nil
}

func (f *fakeMedia) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeMedia) cancelledTasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

type harness struct {
	ctx         context.Context
	store       store.Store
	queue       *queue.Queue
	lifecycle   *service.Lifecycle
	sessions    *service.SessionService
	sync        *service.SyncService
	edl         *service.EDLService
	transcripts *service.TranscriptService
	renders     *service.RenderService
	media       *fakeMedia
	storage     *client.MemoryStorage
	runner      *Runner
}

func newHarness(t *testing.T, opts ...queue.Option) *harness {
	t.Helper()
	return buildHarness(t, nopDispatcher{}, opts...)
}

// inlineDispatcher runs every task inside Dispatch, the way a worker that
// grabs the task before the trigger call returns would
type inlineDispatcher struct {
	runner *Runner
	mu     sync.Mutex
	errs   []error
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, job *model.Job) error {
	task, err := queue.NewTask(job)
	if err != nil {
		return err
	}
	err = d.runner.ProcessTask(ctx, task)
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
	return nil
}

func (d *inlineDispatcher) Abort(ctx context.Context, job *model.Job) error { return nil }

func newInlineHarness(t *testing.T) (*harness, *inlineDispatcher) {
	t.Helper()
	d := &inlineDispatcher{}
	h := buildHarness(t, d)
	d.runner = h.runner
	return h, d
}

func buildHarness(t *testing.T, dispatcher queue.Dispatcher, opts ...queue.Option) *harness {
	t.Helper()
	logger := hclog.NewNullLogger()
	st := store.NewMemoryStore()
	q := queue.New(st, dispatcher, logger, opts...)
	classifier := confidence.Default

	h := &harness{
		ctx:       context.Background(),
		store:     st,
		queue:     q,
		lifecycle: service.NewLifecycle(st, classifier, logger),
		media:     newFakeMedia(),
		storage:   client.NewMemoryStorage("https://cdn.test"),
	}
	h.sessions = service.NewSessionService(st, q, logger)
	h.sync = service.NewSyncService(st, q, classifier, logger)
	h.edl = service.NewEDLService(st, q, classifier, 30, logger)
	h.transcripts = service.NewTranscriptService(st, q, classifier, logger)
	h.renders = service.NewRenderService(st, q, h.lifecycle, logger)

	h.runner = NewRunner(q, h.lifecycle, logger, WithCancelWatch(5*time.Millisecond, time.Second))
	h.runner.Register(model.JobTypeSync, NewSyncProcessor(st, h.media, logger))
	h.runner.Register(model.JobTypeEDL, NewEDLProcessor(h.edl))
	h.runner.Register(model.JobTypeTranscript, NewTranscriptProcessor(st, h.transcripts, client.MockTranscriber{}, logger))
	h.runner.Register(model.JobTypeRender, NewRenderProcessor(h.renders, h.media, h.storage, time.Millisecond, logger))
	return h
}

// newSession creates an uploaded session with anchor A plus the given angles
func (h *harness) newSession(t *testing.T, durationMs int64, angles ...string) *model.RecordingSession {
	t.Helper()
	cams := []model.CameraRequest{{Angle: "A", MediaURL: "https://media.test/A.mp4", DurationMs: durationMs}}
	for _, a := range angles {
		cams = append(cams, model.CameraRequest{Angle: a, MediaURL: "https://media.test/" + a + ".mp4", DurationMs: durationMs})
	}
	s, err := h.sessions.Create(h.ctx, "user-1", &model.CreateSessionRequest{Title: "Session", AnchorAngle: "A", Cameras: cams})
	require.NoError(t, err)
	s, err = h.sessions.MarkUploaded(h.ctx, s.ID)
	require.NoError(t, err)
	return s
}

// syncedSession runs a sync job where every extra angle is confidently aligned
func (h *harness) syncedSession(t *testing.T, durationMs int64, angles ...string) *model.RecordingSession {
	t.Helper()
	for _, a := range angles {
		h.media.offsets[a] = client.OffsetResponse{OffsetMs: 0, Confidence: 0.95}
	}
	s := h.newSession(t, durationMs, angles...)
	job, err := h.sync.Compute(h.ctx, s.ID, "", "user-1")
	require.NoError(t, err)
	require.NoError(t, h.run(job))
	require.Equal(t, model.SessionSynced, h.session(t, s.ID).Status)
	return s
}

func (h *harness) run(job *model.Job) error {
	task, err := queue.NewTask(job)
	if err != nil {
		return err
	}
	return h.runner.ProcessTask(h.ctx, task)
}

func (h *harness) job(t *testing.T, id string) *model.Job {
	t.Helper()
	job, err := h.queue.Get(h.ctx, id)
	require.NoError(t, err)
	return job
}

func (h *harness) session(t *testing.T, id string) *model.RecordingSession {
	t.Helper()
	s, err := h.store.GetSession(h.ctx, id)
	require.NoError(t, err)
	return s
}

func (h *harness) task(t *testing.T, job *model.Job) *asynq.Task {
	t.Helper()
	task, err := queue.NewTask(job)
	require.NoError(t, err)
	return task
}

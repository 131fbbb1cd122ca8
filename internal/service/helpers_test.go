package service

import (
	"context"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/studiocast/studio/internal/confidence"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
	"github.com/studiocast/studio/internal/store"
)

type recordingDispatcher struct {
	mu         sync.Mutex
	dispatched []*model.Job
	aborted    []string
	err        error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, job *model.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, job)
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

type harness struct {
	ctx        context.Context
	store      store.Store
	dispatcher *recordingDispatcher
	queue      *queue.Queue
	lifecycle  *Lifecycle
	sessions   *SessionService
	sync       *SyncService
	edl        *EDLService
	transcript *TranscriptService
	render     *RenderService
	jobs       *JobService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := hclog.NewNullLogger()
	st := store.NewMemoryStore()
	d := &recordingDispatcher{}
	q := queue.New(st, d, logger)
	classifier := confidence.Default

	h := &harness{
		ctx:        context.Background(),
		store:      st,
		dispatcher: d,
		queue:      q,
		lifecycle:  NewLifecycle(st, classifier, logger),
	}
	h.sessions = NewSessionService(st, q, logger)
	h.sync = NewSyncService(st, q, classifier, logger)
	h.edl = NewEDLService(st, q, classifier, 30, logger)
	h.transcript = NewTranscriptService(st, q, classifier, logger)
	h.render = NewRenderService(st, q, h.lifecycle, logger)
	h.jobs = NewJobService(q, h.lifecycle, h.sync, h.edl, h.transcript, h.render, logger)
	return h
}

// newSession creates an uploaded session with anchor A and the given extra angles
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

// runSync computes sync and plays a worker that writes the given confidences
// at zero offset
func (h *harness) runSync(t *testing.T, sessionID string, scores map[string]float64) {
	t.Helper()
	job, err := h.sync.Compute(h.ctx, sessionID, "", "user-1")
	require.NoError(t, err)

	result := model.NewSyncResult(sessionID, "A", model.SyncMethodAudio)
	result.Revision = 1
	for angle, score := range scores {
		result.OffsetsMs[angle] = 0
		result.Confidence[angle] = score
	}
	require.NoError(t, h.store.PutSyncResult(h.ctx, result))
	h.complete(t, job.ID, nil)
}

func (h *harness) complete(t *testing.T, jobID string, result interface{}) *model.Job {
	t.Helper()
	_, err := h.queue.Start(h.ctx, jobID, 0)
	require.NoError(t, err)
	job, err := h.queue.Complete(h.ctx, jobID, result)
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.OnJobCompleted(h.ctx, job))
	return job
}

func (h *harness) fail(t *testing.T, jobID string, cause error) *model.Job {
	t.Helper()
	_, err := h.queue.Start(h.ctx, jobID, 0)
	require.NoError(t, err)
	job, err := h.queue.Fail(h.ctx, jobID, cause, false)
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.OnJobFailed(h.ctx, job))
	return job
}

func (h *harness) session(t *testing.T, id string) *model.RecordingSession {
	t.Helper()
	s, err := h.store.GetSession(h.ctx, id)
	require.NoError(t, err)
	return s
}

func intPtr(v int) *int { return &v }

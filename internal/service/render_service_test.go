package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
)

func TestRender_TriggerRequiresLockedEDL(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)
	_, err := h.sessions.StartEditing(h.ctx, s.ID)
	require.NoError(t, err)

	before := h.dispatcher.count()
	_, err = h.render.Trigger(h.ctx, s.ID, "", "user-1")
	assert.True(t, apperr.IsValidation(err), "no edl")

	_, err = h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	require.NoError(t, err)
	_, err = h.render.Trigger(h.ctx, s.ID, "", "user-1")
	assert.True(t, apperr.IsValidation(err), "unlocked")

	assert.Equal(t, before, h.dispatcher.count(), "nothing enqueued")
	jobs, err := h.sessions.Jobs(h.ctx, s.ID)
	require.NoError(t, err)
	for _, j := range jobs {
		assert.NotEqual(t, model.JobTypeRender, j.Type)
	}
	assert.Equal(t, model.SessionEditing, h.session(t, s.ID).Status)
}

func TestRender_InvalidFormat(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)
	_, err := h.render.Trigger(h.ctx, s.ID, "gif", "user-1")
	assert.True(t, apperr.IsValidation(err))
}

func TestRender_LockTriggerUnlockEditRetry(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)

	v1, err := h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	require.NoError(t, err)
	require.Equal(t, 1, v1.Version)
	_, err = h.edl.Lock(h.ctx, s.ID)
	require.NoError(t, err)

	job, err := h.render.Trigger(h.ctx, s.ID, "", "user-1")
	require.NoError(t, err)
	var payload model.RenderJobPayload
	require.NoError(t, job.DecodePayload(&payload))
	assert.Equal(t, 1, payload.EDLVersion)
	assert.Equal(t, model.RenderMP4_1080p, payload.Format)
	assert.Equal(t, model.SessionRendering, h.session(t, s.ID).Status)

	_, err = h.render.Trigger(h.ctx, s.ID, "", "user-1")
	assert.True(t, apperr.IsConflict(err), "one render at a time")

	_, err = h.edl.Unlock(h.ctx, s.ID)
	var c *apperr.ConflictError
	require.ErrorAs(t, err, &c, "unlock blocked while rendering")
	assert.Equal(t, job.ID, c.ActiveJobID)

	h.fail(t, job.ID, apperr.Fatal(errors.New("encoder crashed")))
	after := h.session(t, s.ID)
	assert.Equal(t, model.SessionEditing, after.Status)
	assert.Equal(t, model.OperatorRenderFailed, after.OperatorStatus)

	_, err = h.edl.Unlock(h.ctx, s.ID)
	require.NoError(t, err)
	v2, err := h.edl.UpdateCuts(h.ctx, s.ID, nil, []model.Cut{{StartMs: 0, EndMs: 60000, Angle: "A"}}, "editor")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	_, err = h.render.Retry(h.ctx, job.ID, "user-1")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err), "edl version 1 is no longer the locked version")

	_, err = h.edl.Lock(h.ctx, s.ID)
	require.NoError(t, err)
	_, err = h.render.Retry(h.ctx, job.ID, "user-1")
	assert.True(t, apperr.IsValidation(err), "locked version is 2 now")
}

func TestRender_RetrySameVersion(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)
	_, err := h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	require.NoError(t, err)
	_, err = h.edl.Lock(h.ctx, s.ID)
	require.NoError(t, err)

	job, err := h.render.Trigger(h.ctx, s.ID, model.RenderMP4_720p, "user-1")
	require.NoError(t, err)

	_, err = h.render.Retry(h.ctx, job.ID, "user-1")
	assert.True(t, apperr.IsValidation(err), "job is still queued")

	h.fail(t, job.ID, apperr.Fatal(errors.New("boom")))
	retry, err := h.render.Retry(h.ctx, job.ID, "user-2")
	require.NoError(t, err)
	assert.Equal(t, job.ID, retry.RetryOf)
	assert.Equal(t, model.SessionRendering, h.session(t, s.ID).Status)
	assert.Empty(t, h.session(t, s.ID).OperatorStatus)

	var payload model.RenderJobPayload
	require.NoError(t, retry.DecodePayload(&payload))
	assert.Equal(t, model.RenderMP4_720p, payload.Format)
}

func TestRender_CompletePublishesAndRerender(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)
	_, err := h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	require.NoError(t, err)
	_, err = h.edl.Lock(h.ctx, s.ID)
	require.NoError(t, err)

	job, err := h.render.Trigger(h.ctx, s.ID, "", "user-1")
	require.NoError(t, err)

	_, err = h.queue.Progress(h.ctx, job.ID, 40, "Encoding video")
	require.NoError(t, err)
	progress, err := h.render.Progress(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, progress.Progress)
	assert.Equal(t, 1, progress.EDLVersion)
	assert.Nil(t, progress.Output)

	h.complete(t, job.ID, model.RenderOutput{VideoURL: "https://cdn.test/video.mp4", DurationMs: 60000})
	assert.Equal(t, model.SessionPublished, h.session(t, s.ID).Status)

	progress, err = h.render.Progress(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, progress.Status)
	require.NotNil(t, progress.Output)
	assert.Equal(t, "https://cdn.test/video.mp4", progress.Output.VideoURL)

	_, err = h.render.Trigger(h.ctx, s.ID, model.RenderMP4_2160p, "user-1")
	require.NoError(t, err, "published sessions can re-render")
	assert.Equal(t, model.SessionRendering, h.session(t, s.ID).Status)
}

func TestRender_Cancel(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)
	_, err := h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	require.NoError(t, err)
	_, err = h.edl.Lock(h.ctx, s.ID)
	require.NoError(t, err)
	job, err := h.render.Trigger(h.ctx, s.ID, "", "user-1")
	require.NoError(t, err)

	resp, err := h.render.Cancel(h.ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, model.JobStatusCancelled, resp.Status)
	assert.Equal(t, []string{job.ID}, h.dispatcher.aborted)

	after := h.session(t, s.ID)
	assert.Equal(t, model.SessionEditing, after.Status)
	assert.Equal(t, model.OperatorNeedsAttention, after.OperatorStatus)

	_, err = h.render.Cancel(h.ctx, job.ID)
	assert.True(t, apperr.IsConflict(err), "already cancelled")
}

func TestRender_ProgressOfOtherJobType(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, 1000)
	job, err := h.sync.Compute(h.ctx, s.ID, "", "user-1")
	require.NoError(t, err)

	_, err = h.render.Progress(h.ctx, job.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestJobs_CancelAndRetryRouting(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)

	job, err := h.transcript.Compute(h.ctx, s.ID, "B", "en", "user-1")
	require.NoError(t, err)

	resp, err := h.jobs.Cancel(h.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, resp.Status)
	after := h.session(t, s.ID)
	assert.Equal(t, model.SessionSynced, after.Status, "non-render cancels never regress status")
	assert.Equal(t, model.OperatorNeedsAttention, after.OperatorStatus)

	retried, err := h.jobs.Retry(h.ctx, job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobTypeTranscript, retried.Type)

	_, err = h.jobs.Retry(h.ctx, retried.ID, "user-1")
	assert.True(t, apperr.IsValidation(err), "queued jobs cannot be retried")

	_, err = h.jobs.Get(h.ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestRender_DispatchFailureRestoresSession(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)
	_, err := h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	require.NoError(t, err)
	_, err = h.edl.Lock(h.ctx, s.ID)
	require.NoError(t, err)
	job, err := h.render.Trigger(h.ctx, s.ID, "", "user-1")
	require.NoError(t, err)
	h.fail(t, job.ID, apperr.Fatal(errors.New("encoder crashed")))

	h.dispatcher.err = errors.New("redis unavailable")
	_, err = h.render.Retry(h.ctx, job.ID, "user-1")
	require.Error(t, err)

	after := h.session(t, s.ID)
	assert.Equal(t, model.SessionEditing, after.Status)
	assert.Equal(t, model.OperatorRenderFailed, after.OperatorStatus)
}

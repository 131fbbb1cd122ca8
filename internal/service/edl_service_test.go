package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
)

func syncedSession(t *testing.T, h *harness) *model.RecordingSession {
	t.Helper()
	s := h.newSession(t, 60000, "B")
	h.runSync(t, s.ID, map[string]float64{"B": 0.92})
	require.Equal(t, model.SessionSynced, h.session(t, s.ID).Status)
	return s
}

func twoAngleCuts() []model.Cut {
	return []model.Cut{
		{StartMs: 0, EndMs: 20000, Angle: "A"},
		{StartMs: 20000, EndMs: 45000, Angle: "B"},
		{StartMs: 45000, EndMs: 60000, Angle: "A"},
	}
}

func TestEDL_UpdateThenReadIsIdentical(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)

	v1, err := h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.False(t, v1.Locked)

	got, err := h.edl.Get(h.ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, twoAngleCuts(), got.Cuts)
	assert.Equal(t, "editor", got.CreatedBy)

	v2, err := h.edl.UpdateChapters(h.ctx, s.ID, intPtr(1), []model.Chapter{{TimeMs: 0, Label: " Intro "}, {TimeMs: 30000, Label: "Chorus"}}, "editor")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, twoAngleCuts(), v2.Cuts, "chapter writes carry cuts forward")
	assert.Equal(t, "Intro", v2.Chapters[0].Label)

	first, err := h.edl.Get(h.ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, first.Chapters, "older versions are immutable")

	history, err := h.edl.History(h.ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[1].Chapters)
}

func TestEDL_UpdateCutsRejections(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)

	_, err := h.edl.UpdateCuts(h.ctx, s.ID, nil, []model.Cut{
		{StartMs: 100, EndMs: 50, Angle: "A"},
		{StartMs: 200, EndMs: 300, Angle: "Z"},
	}, "editor")
	var v *apperr.ValidationError
	require.ErrorAs(t, err, &v)
	assert.GreaterOrEqual(t, len(v.Details), 3, "every violation is listed")

	_, err = h.edl.UpdateCuts(h.ctx, s.ID, nil, []model.Cut{{StartMs: 0, EndMs: 90000, Angle: "B"}}, "editor")
	assert.True(t, apperr.IsValidation(err), "outside B coverage")

	_, err = h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	require.NoError(t, err)

	_, err = h.edl.UpdateCuts(h.ctx, s.ID, intPtr(5), twoAngleCuts(), "editor")
	assert.True(t, apperr.IsConflict(err), "stale base version")

	_, err = h.edl.UpdateChapters(h.ctx, s.ID, nil, []model.Chapter{{TimeMs: 50000, Label: "Outro"}}, "editor")
	require.NoError(t, err)
	_, err = h.edl.UpdateCuts(h.ctx, s.ID, nil, []model.Cut{{StartMs: 0, EndMs: 40000, Angle: "A"}}, "editor")
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "cuts would orphan existing chapters", v.Reason)

	_, err = h.edl.Lock(h.ctx, s.ID)
	require.NoError(t, err)
	_, err = h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	assert.True(t, apperr.IsConflict(err), "locked")
	_, err = h.edl.UpdateChapters(h.ctx, s.ID, nil, nil, "editor")
	assert.True(t, apperr.IsConflict(err), "locked")
}

func TestEDL_ChaptersNeedCuts(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)

	_, err := h.edl.UpdateChapters(h.ctx, s.ID, nil, []model.Chapter{{TimeMs: 0, Label: "Intro"}}, "editor")
	assert.True(t, apperr.IsValidation(err))
}

func TestEDL_LockRequiresSettledSync(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, 60000, "B")
	h.runSync(t, s.ID, map[string]float64{"B": 0.6})
	_, err := h.sync.Approve(h.ctx, s.ID, "B")
	require.NoError(t, err)
	require.Equal(t, model.SessionSynced, h.session(t, s.ID).Status)

	_, err = h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	require.NoError(t, err)

	// drop the review to make B unsettled again
	_, err = h.store.UpdateSyncResult(h.ctx, s.ID, func(r *model.SyncResult) error {
		r.Reviewed["B"] = false
		return nil
	})
	require.NoError(t, err)

	_, err = h.edl.Lock(h.ctx, s.ID)
	var v *apperr.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Contains(t, v.Error(), "B")
	assert.Equal(t, model.SessionSynced, h.session(t, s.ID).Status)

	_, err = h.sync.Approve(h.ctx, s.ID, "B")
	require.NoError(t, err)
	locked, err := h.edl.Lock(h.ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, locked.Locked)
	assert.NotNil(t, locked.LockedAt)
	assert.Equal(t, model.SessionEditing, h.session(t, s.ID).Status)

	again, err := h.edl.Lock(h.ctx, s.ID)
	require.NoError(t, err, "idempotent")
	assert.Equal(t, locked.Version, again.Version)
}

func TestEDL_LockWithoutEDL(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)

	_, err := h.edl.Lock(h.ctx, s.ID)
	assert.True(t, apperr.IsValidation(err))
}

func TestEDL_GenerateAndSeed(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)

	job, err := h.edl.Generate(h.ctx, s.ID, "editor")
	require.NoError(t, err)

	full, err := h.queue.Get(h.ctx, job.ID)
	require.NoError(t, err)
	seeded, err := h.edl.AppendSeed(h.ctx, full)
	require.NoError(t, err)
	assert.Equal(t, 1, seeded.Version)
	assert.Equal(t, []model.Cut{{StartMs: 0, EndMs: 60000, Angle: "A"}}, seeded.Cuts)
	assert.Empty(t, seeded.Chapters)

	again, err := h.edl.AppendSeed(h.ctx, full)
	require.NoError(t, err, "a retried attempt finds its own version")
	assert.Equal(t, 1, again.Version)

	h.complete(t, job.ID, seeded)
	_, err = h.edl.UpdateCuts(h.ctx, s.ID, intPtr(1), twoAngleCuts(), "editor")
	require.NoError(t, err)

	job2, err := h.edl.Generate(h.ctx, s.ID, "editor")
	require.NoError(t, err)
	_, err = h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	require.NoError(t, err)
	full2, err := h.queue.Get(h.ctx, job2.ID)
	require.NoError(t, err)
	_, err = h.edl.AppendSeed(h.ctx, full2)
	assert.True(t, apperr.IsConflict(err), "edl moved while the job waited")
}

func TestEDL_GenerateUnknownDuration(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, 0)
	h.runSync(t, s.ID, nil)

	_, err := h.edl.Generate(h.ctx, s.ID, "editor")
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, 1, h.dispatcher.count(), "only the sync job was dispatched")
}

func TestEDL_Export(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)

	_, err := h.edl.UpdateCuts(h.ctx, s.ID, nil, twoAngleCuts(), "editor")
	require.NoError(t, err)
	_, _, err = h.edl.Export(h.ctx, s.ID, model.EDLFormatCMX3600)
	assert.True(t, apperr.IsValidation(err), "unlocked")

	_, err = h.edl.Lock(h.ctx, s.ID)
	require.NoError(t, err)

	body, contentType, err := h.edl.Export(h.ctx, s.ID, model.EDLFormatCMX3600)
	require.NoError(t, err)
	assert.Contains(t, contentType, "text/plain")
	assert.Contains(t, string(body), "TITLE: SESSION")
	assert.Contains(t, string(body), "00:00:20:00 00:00:45:00")

	_, _, err = h.edl.Export(h.ctx, s.ID, "xml")
	assert.True(t, apperr.IsValidation(err))
}

func TestEDL_GetMissing(t *testing.T) {
	h := newHarness(t)
	s := syncedSession(t, h)

	_, err := h.edl.Get(h.ctx, s.ID, 0)
	assert.True(t, apperr.IsNotFound(err))
	_, err = h.edl.Get(h.ctx, s.ID, -1)
	assert.True(t, apperr.IsValidation(err))
}

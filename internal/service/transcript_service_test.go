package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/subtitle"
)

func TestNormalizeSegments(t *testing.T) {
	in := []model.TranscriptSegment{
		{StartMs: 5000, EndMs: 7000, Text: "third", Confidence: 1.4},
		{StartMs: 0, EndMs: 2000, Text: " first "},
		{StartMs: 1500, EndMs: 4000, Text: "second"},
		{StartMs: 4000, EndMs: 4000, Text: "zero length"},
		{StartMs: 4100, EndMs: 4500, Text: "   "},
		{StartMs: 5500, EndMs: 6500, Text: "swallowed"},
	}

	out := NormalizeSegments(in)
	require.Len(t, out, 3)
	assert.Equal(t, model.TranscriptSegment{StartMs: 0, EndMs: 2000, Text: "first"}, out[0])
	assert.Equal(t, int64(2000), out[1].StartMs, "overlap trimmed")
	assert.Equal(t, int64(4000), out[1].EndMs)
	assert.Equal(t, "third", out[2].Text)
	assert.Equal(t, 1.0, out[2].Confidence)

	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i].StartMs, out[i-1].EndMs)
	}
}

func seedTranscript(t *testing.T, h *harness, sessionID, angle string, segments ...model.TranscriptSegment) {
	t.Helper()
	_, err := h.transcript.Save(h.ctx, &model.Transcript{
		SessionID:  sessionID,
		Angle:      angle,
		Language:   "en",
		Segments:   segments,
		ComputedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestTranscript_SearchUsesSyncOffsets(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, 60000, "B", "C")
	h.runSync(t, s.ID, map[string]float64{"B": 0.9})
	_, err := h.store.UpdateSyncResult(h.ctx, s.ID, func(r *model.SyncResult) error {
		r.OffsetsMs["B"] = 1500
		return nil
	})
	require.NoError(t, err)

	seedTranscript(t, h, s.ID, "A", model.TranscriptSegment{StartMs: 1000, EndMs: 2000, Text: "Hello world", Confidence: 0.9})
	seedTranscript(t, h, s.ID, "B",
		model.TranscriptSegment{StartMs: 0, EndMs: 900, Text: "nothing here", Confidence: 0.9},
		model.TranscriptSegment{StartMs: 3000, EndMs: 4000, Text: "WORLD tour", Confidence: 0.4},
	)
	seedTranscript(t, h, s.ID, "C", model.TranscriptSegment{StartMs: 0, EndMs: 500, Text: "world", Confidence: 0.9})

	resp, err := h.transcript.Search(h.ctx, s.ID, "World")
	require.NoError(t, err)
	require.Len(t, resp.Matches, 3)

	a := resp.Matches[0]
	assert.Equal(t, "A", a.Angle)
	require.NotNil(t, a.TimelineMs)
	assert.Equal(t, int64(1000), *a.TimelineMs)
	assert.Equal(t, "00:00:01,000", a.Timecode)

	b := resp.Matches[1]
	assert.Equal(t, "B", b.Angle)
	assert.Equal(t, 1, b.SegmentIndex)
	require.NotNil(t, b.TimelineMs)
	assert.Equal(t, int64(4500), *b.TimelineMs)

	c := resp.Matches[2]
	assert.Equal(t, "C", c.Angle)
	assert.Nil(t, c.TimelineMs, "C has no offset")

	_, err = h.transcript.Search(h.ctx, s.ID, "  ")
	assert.True(t, apperr.IsValidation(err))
}

func TestTranscript_GetAndSubtitles(t *testing.T) {
	h := newHarness(t)
	s := h.newSession(t, 60000)
	seedTranscript(t, h, s.ID, "A",
		model.TranscriptSegment{StartMs: 0, EndMs: 1500, Text: "one", Confidence: 0.9},
		model.TranscriptSegment{StartMs: 1500, EndMs: 3723004, Text: "two", Confidence: 0.2},
	)

	tr, err := h.transcript.Get(h.ctx, s.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, "high", tr.Segments[0].Tier)
	assert.Equal(t, "low", tr.Segments[1].Tier)

	srt, err := h.transcript.SRT(h.ctx, s.ID, "A")
	require.NoError(t, err)
	assert.Contains(t, srt, "00:00:01,500 --> 01:02:03,004")

	vtt, err := h.transcript.VTT(h.ctx, s.ID, "A")
	require.NoError(t, err)
	cues, err := subtitle.ParseVTT(vtt)
	require.NoError(t, err)
	require.Len(t, cues, 2)
	assert.Equal(t, int64(3723004), cues[1].EndMs)

	_, err = h.transcript.SRT(h.ctx, s.ID, "Z")
	assert.True(t, apperr.IsNotFound(err))
}

func TestTranscript_ComputeRules(t *testing.T) {
	h := newHarness(t)
	noAudio := false
	s, err := h.sessions.Create(h.ctx, "user-1", &model.CreateSessionRequest{
		Title:       "x",
		AnchorAngle: "A",
		Cameras: []model.CameraRequest{
			{Angle: "A", MediaURL: "https://media.test/a.mp4", DurationMs: 1000},
			{Angle: "M", MediaURL: "https://media.test/m.mp4", DurationMs: 1000, HasAudio: &noAudio},
		},
	})
	require.NoError(t, err)

	_, err = h.transcript.Compute(h.ctx, s.ID, "A", "", "user-1")
	assert.True(t, apperr.IsConflict(err), "still recording")

	_, err = h.sessions.MarkUploaded(h.ctx, s.ID)
	require.NoError(t, err)

	_, err = h.transcript.Compute(h.ctx, s.ID, "M", "", "user-1")
	assert.True(t, apperr.IsValidation(err), "no audio")
	_, err = h.transcript.Compute(h.ctx, s.ID, "Q", "", "user-1")
	assert.True(t, apperr.IsValidation(err), "unknown angle")

	job, err := h.transcript.Compute(h.ctx, s.ID, "", "", "user-1")
	require.NoError(t, err)
	var payload model.TranscriptJobPayload
	require.NoError(t, job.DecodePayload(&payload))
	assert.Equal(t, "A", payload.Angle, "defaults to the anchor")
}

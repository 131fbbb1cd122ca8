package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/confidence"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
	"github.com/studiocast/studio/internal/store"
	"github.com/studiocast/studio/internal/subtitle"
)

// TranscriptService computes, serves and searches per-angle transcripts
type TranscriptService struct {
	store      store.Store
	queue      *queue.Queue
	classifier confidence.Classifier
	logger     hclog.Logger
}

func NewTranscriptService(st store.Store, q *queue.Queue, classifier confidence.Classifier, logger hclog.Logger) *TranscriptService {
	return &TranscriptService{store: st, queue: q, classifier: classifier, logger: logger.Named("transcript")}
}

// Compute enqueues transcription of one angle
func (s *TranscriptService) Compute(ctx context.Context, sessionID, angle, language, requestedBy string) (*model.Job, error) {
	session, err := loadMutable(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == model.SessionRecording || session.Status == model.SessionFailed {
		return nil, apperr.Conflictf("session %s cannot be transcribed while %s", sessionID, session.Status)
	}
	if angle == "" {
		angle = session.AnchorAngle
	}
	cam, ok := session.Camera(angle)
	if !ok {
		return nil, apperr.Validation("invalid angle", fmt.Sprintf("angle %q is not a camera of this session", angle))
	}
	if !cam.HasAudio {
		return nil, apperr.Validation("invalid angle", fmt.Sprintf("angle %q has no audio", angle))
	}

	payload := model.TranscriptJobPayload{Angle: angle, Language: language}
	job, err := s.queue.Enqueue(ctx, sessionID, model.JobTypeTranscript, payload, queue.RequestedBy(requestedBy))
	if err != nil {
		return nil, err
	}
	s.logger.Info("transcription requested", "session_id", sessionID, "job_id", job.ID, "angle", angle)
	return job, nil
}

// Retry re-runs a failed or cancelled transcript job
func (s *TranscriptService) Retry(ctx context.Context, job *model.Job, requestedBy string) (*model.Job, error) {
	if _, err := loadMutable(ctx, s.store, job.SessionID); err != nil {
		return nil, err
	}
	return s.queue.Retry(ctx, job.ID, queue.RequestedBy(requestedBy))
}

// Save normalizes and stores a transcript. It is called by the worker.
func (s *TranscriptService) Save(ctx context.Context, t *model.Transcript) (*model.Transcript, error) {
	t.Segments = NormalizeSegments(t.Segments)
	if err := s.store.PutTranscript(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("transcript stored", "session_id", t.SessionID, "angle", t.Angle, "segments", len(t.Segments))
	return t, nil
}

// Get returns an angle's transcript with confidence tiers filled in
func (s *TranscriptService) Get(ctx context.Context, sessionID, angle string) (*model.Transcript, error) {
	t, err := s.store.GetTranscript(ctx, sessionID, angle)
	if err != nil {
		return nil, err
	}
	for i := range t.Segments {
		t.Segments[i].Tier = string(s.classifier.Tier(t.Segments[i].Confidence))
	}
	return t, nil
}

// SRT renders an angle's transcript as SubRip
func (s *TranscriptService) SRT(ctx context.Context, sessionID, angle string) (string, error) {
	t, err := s.store.GetTranscript(ctx, sessionID, angle)
	if err != nil {
		return "", err
	}
	return subtitle.ToSRT(Cues(t.Segments)), nil
}

// VTT renders an angle's transcript as WebVTT
func (s *TranscriptService) VTT(ctx context.Context, sessionID, angle string) (string, error) {
	t, err := s.store.GetTranscript(ctx, sessionID, angle)
	if err != nil {
		return "", err
	}
	return subtitle.ToVTT(Cues(t.Segments)), nil
}

// Search finds segments containing query, case-insensitively, across all angles
func (s *TranscriptService) Search(ctx context.Context, sessionID, query string) (*model.TranscriptSearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("invalid search", "query is required")
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	transcripts, err := s.store.ListTranscripts(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	offsets := map[string]int64{}
	if session.AnchorAngle != "" {
		offsets[session.AnchorAngle] = 0
	}
	sync, err := s.store.GetSyncResult(ctx, sessionID)
	switch {
	case err == nil:
		for angle, off := range sync.OffsetsMs {
			offsets[angle] = off
		}
	case !apperr.IsNotFound(err):
		return nil, err
	}

	needle := strings.ToLower(query)
	resp := &model.TranscriptSearchResponse{Query: query, Matches: []model.TranscriptMatch{}}
	for _, t := range transcripts {
		for i, seg := range t.Segments {
			if !strings.Contains(strings.ToLower(seg.Text), needle) {
				continue
			}
			match := model.TranscriptMatch{
				Angle:        t.Angle,
				SegmentIndex: i,
				StartMs:      seg.StartMs,
				EndMs:        seg.EndMs,
				Timecode:     subtitle.FormatSRTTimestamp(seg.StartMs),
				Text:         seg.Text,
			}
			if off, ok := offsets[t.Angle]; ok {
				pos := seg.StartMs + off
				match.TimelineMs = &pos
			}
			resp.Matches = append(resp.Matches, match)
		}
	}
	return resp, nil
}

// NormalizeSegments sorts segments, trims overlaps and drops empty or
// zero-length spans
func NormalizeSegments(segments []model.TranscriptSegment) []model.TranscriptSegment {
	sorted := make([]model.TranscriptSegment, 0, len(segments))
	for _, seg := range segments {
		seg.Text = strings.TrimSpace(seg.Text)
		seg.Confidence = confidence.Clamp(seg.Confidence)
		seg.Tier = ""
		if seg.Text == "" || seg.StartMs < 0 || seg.EndMs <= seg.StartMs {
			continue
		}
		sorted = append(sorted, seg)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartMs < sorted[j].StartMs })

	out := sorted[:0]
	for _, seg := range sorted {
		if n := len(out); n > 0 && seg.StartMs < out[n-1].EndMs {
			seg.StartMs = out[n-1].EndMs
			if seg.EndMs <= seg.StartMs {
				continue
			}
		}
		out = append(out, seg)
	}
	return out
}

// Cues converts segments to subtitle cues
func Cues(segments []model.TranscriptSegment) []subtitle.Cue {
	cues := make([]subtitle.Cue, 0, len(segments))
	for i, seg := range segments {
		cues = append(cues, subtitle.Cue{Index: i + 1, StartMs: seg.StartMs, EndMs: seg.EndMs, Text: seg.Text})
	}
	return cues
}

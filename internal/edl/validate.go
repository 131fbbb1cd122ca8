// Package edl holds the pure edit decision list algorithms: cut and chapter
// validation, seeding a first version, and export to interchange formats.
package edl

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
)

const (
	MaxChapterLabel = 100
)

// Coverage is the span of the published timeline a camera recorded.
// Bounds are only enforced when both the duration and the offset are known.
type Coverage struct {
	OffsetMs   int64
	DurationMs int64
	Synced     bool
}

// Known reports whether the coverage bounds can be checked
func (c Coverage) Known() bool {
	return c.Synced && c.DurationMs > 0
}

// StartMs is the first timeline position the camera has media for
func (c Coverage) StartMs() int64 { return c.OffsetMs }

// EndMs is the last timeline position the camera has media for
func (c Coverage) EndMs() int64 { return c.OffsetMs + c.DurationMs }

// Coverages builds the per-angle coverage for a session. sync may be nil.
func Coverages(session *model.RecordingSession, sync *model.SyncResult) map[string]Coverage {
	out := make(map[string]Coverage, len(session.Cameras))
	for _, cam := range session.Cameras {
		cov := Coverage{DurationMs: cam.DurationMs}
		if cam.Angle == session.AnchorAngle {
			cov.Synced = true
		}
		if sync != nil {
			if off, ok := sync.OffsetsMs[cam.Angle]; ok {
				cov.OffsetMs = off
				cov.Synced = true
			}
		}
		out[cam.Angle] = cov
	}
	return out
}

// ValidateCuts checks that cuts are ordered, contiguous from zero, non-empty,
// reference known angles and stay inside each angle's coverage. Every
// violation is reported, not just the first.
func ValidateCuts(cuts []model.Cut, cameras map[string]Coverage) error {
	if len(cuts) == 0 {
		return apperr.Validation("invalid cuts", "at least one cut is required")
	}

	var problems []string
	for i, cut := range cuts {
		if cut.StartMs < 0 {
			problems = append(problems, fmt.Sprintf("cut %d: startMs must not be negative", i))
		}
		if cut.EndMs <= cut.StartMs {
			problems = append(problems, fmt.Sprintf("cut %d: endMs %d must be greater than startMs %d", i, cut.EndMs, cut.StartMs))
		}
		if i == 0 && cut.StartMs != 0 {
			problems = append(problems, fmt.Sprintf("cut 0: must start at 0, got %d", cut.StartMs))
		}
		if i > 0 {
			prev := cuts[i-1]
			switch {
			case cut.StartMs > prev.EndMs:
				problems = append(problems, fmt.Sprintf("cut %d: gap between %d and %d", i, prev.EndMs, cut.StartMs))
			case cut.StartMs < prev.EndMs:
				problems = append(problems, fmt.Sprintf("cut %d: overlaps previous cut (%d < %d)", i, cut.StartMs, prev.EndMs))
			}
		}

		cov, ok := cameras[cut.Angle]
		if strings.TrimSpace(cut.Angle) == "" {
			problems = append(problems, fmt.Sprintf("cut %d: angle is required", i))
			continue
		}
		if !ok {
			problems = append(problems, fmt.Sprintf("cut %d: unknown angle %q", i, cut.Angle))
			continue
		}
		if cov.Known() && (cut.StartMs < cov.StartMs() || cut.EndMs > cov.EndMs()) {
			problems = append(problems, fmt.Sprintf("cut %d: angle %q only covers [%d, %d]", i, cut.Angle, cov.StartMs(), cov.EndMs()))
		}
	}

	if len(problems) > 0 {
		return apperr.Validation("invalid cuts", problems...)
	}
	return nil
}

// ValidateChapters checks chapters are strictly increasing, labelled and
// fall inside [0, durationMs).
func ValidateChapters(chapters []model.Chapter, durationMs int64) error {
	var problems []string
	for i, ch := range chapters {
		label := strings.TrimSpace(ch.Label)
		if label == "" {
			problems = append(problems, fmt.Sprintf("chapter %d: label is required", i))
		} else if utf8.RuneCountInString(label) > MaxChapterLabel {
			problems = append(problems, fmt.Sprintf("chapter %d: label exceeds %d characters", i, MaxChapterLabel))
		}
		if ch.TimeMs < 0 {
			problems = append(problems, fmt.Sprintf("chapter %d: timeMs must not be negative", i))
		} else if ch.TimeMs >= durationMs {
			problems = append(problems, fmt.Sprintf("chapter %d: timeMs %d is past the end of the timeline (%d)", i, ch.TimeMs, durationMs))
		}
		if i > 0 && ch.TimeMs <= chapters[i-1].TimeMs {
			problems = append(problems, fmt.Sprintf("chapter %d: timeMs %d must be after %d", i, ch.TimeMs, chapters[i-1].TimeMs))
		}
	}

	if len(problems) > 0 {
		return apperr.Validation("invalid chapters", problems...)
	}
	return nil
}

// Validate checks a whole EDL version
func Validate(e *model.EDL, cameras map[string]Coverage) error {
	if err := ValidateCuts(e.Cuts, cameras); err != nil {
		return err
	}
	return ValidateChapters(e.Chapters, e.DurationMs())
}

// Seed returns the initial cut list: the anchor angle for its whole duration
func Seed(anchor string, durationMs int64) ([]model.Cut, error) {
	if anchor == "" {
		return nil, apperr.Validation("cannot seed edl", "session has no anchor angle")
	}
	if durationMs <= 0 {
		return nil, apperr.Validation("cannot seed edl", fmt.Sprintf("anchor angle %q has unknown duration", anchor))
	}
	return []model.Cut{{StartMs: 0, EndMs: durationMs, Angle: anchor}}, nil
}

// NormalizeChapters trims labels
func NormalizeChapters(chapters []model.Chapter) []model.Chapter {
	out := make([]model.Chapter, len(chapters))
	for i, ch := range chapters {
		out[i] = model.Chapter{TimeMs: ch.TimeMs, Label: strings.TrimSpace(ch.Label)}
	}
	return out
}

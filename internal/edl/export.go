package edl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/subtitle"
)

// DefaultFPS is the frame rate used for CMX3600 timecodes when none is configured
const DefaultFPS = 30

// ExportOptions controls interchange output
type ExportOptions struct {
	Title   string
	FPS     int
	Offsets map[string]int64
}

// Export renders a locked EDL version in the requested format. It returns
// the body and its content type.
func Export(e *model.EDL, format model.EDLFormat, opts ExportOptions) ([]byte, string, error) {
	if e == nil {
		return nil, "", apperr.Validation("nothing to export")
	}
	if !e.Locked {
		return nil, "", apperr.Validation("edl must be locked before export", fmt.Sprintf("version %d is unlocked", e.Version))
	}

	switch format {
	case model.EDLFormatJSON, "":
		data, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal edl: %w", err)
		}
		return data, "application/json", nil
	case model.EDLFormatCMX3600:
		return []byte(CMX3600(e, opts)), "text/plain; charset=utf-8", nil
	case model.EDLFormatChapters:
		return []byte(ChapterList(e.Chapters)), "text/plain; charset=utf-8", nil
	default:
		return nil, "", apperr.Validation("unsupported export format", fmt.Sprintf("format %q is not one of json, cmx3600, chapters", format))
	}
}

// CMX3600 writes a video-only CMX 3600 edit list. Record timecodes follow the
// published timeline; source timecodes are the angle's media time.
func CMX3600(e *model.EDL, opts ExportOptions) string {
	fps := opts.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("SESSION %s V%d", e.SessionID, e.Version)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", strings.ToUpper(title))
	b.WriteString("FCM: NON-DROP FRAME\n\n")

	for i, cut := range e.Cuts {
		offset := opts.Offsets[cut.Angle]
		srcIn := cut.StartMs - offset
		if srcIn < 0 {
			srcIn = 0
		}
		srcOut := srcIn + (cut.EndMs - cut.StartMs)

		fmt.Fprintf(&b, "%03d  %-8s V     C        %s %s %s %s\n",
			i+1,
			ReelName(cut.Angle),
			FrameTimecode(srcIn, fps),
			FrameTimecode(srcOut, fps),
			FrameTimecode(cut.StartMs, fps),
			FrameTimecode(cut.EndMs, fps),
		)
		fmt.Fprintf(&b, "* FROM CLIP NAME: %s\n\n", cut.Angle)
	}

	for _, ch := range e.Chapters {
		fmt.Fprintf(&b, "* LOC: %s RED %s\n", FrameTimecode(ch.TimeMs, fps), ch.Label)
	}

	return b.String()
}

// FrameTimecode formats ms as HH:MM:SS:FF at fps, flooring to whole frames
func FrameTimecode(ms int64, fps int) string {
	if ms < 0 {
		ms = 0
	}
	totalFrames := ms * int64(fps) / 1000
	frames := totalFrames % int64(fps)
	totalSeconds := totalFrames / int64(fps)
	return fmt.Sprintf("%02d:%02d:%02d:%02d", totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, frames)
}

// ReelName converts an angle into an 8 character CMX reel name
func ReelName(angle string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(angle) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
		if b.Len() == 8 {
			break
		}
	}
	if b.Len() == 0 {
		return "AX"
	}
	return b.String()
}

// ChapterList renders chapters as "MM:SS Label" lines, switching to
// H:MM:SS once the timeline passes an hour.
func ChapterList(chapters []model.Chapter) string {
	var b strings.Builder
	for _, ch := range chapters {
		fmt.Fprintf(&b, "%s %s\n", ChapterTimestamp(ch.TimeMs), ch.Label)
	}
	return b.String()
}

// ChapterTimestamp formats a chapter start for video descriptions
func ChapterTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// SubtitleCues maps transcripts onto the published timeline. Each cut uses
// the transcript of its own angle when one exists, otherwise the anchor's.
// Segments are clipped to the cut they fall in.
func SubtitleCues(cuts []model.Cut, anchor string, transcripts map[string]*model.Transcript, offsets map[string]int64) []subtitle.Cue {
	var cues []subtitle.Cue
	for _, cut := range cuts {
		angle := cut.Angle
		tr := transcripts[angle]
		if tr == nil {
			angle = anchor
			tr = transcripts[anchor]
		}
		if tr == nil {
			continue
		}
		offset := offsets[angle]
		for _, seg := range tr.Segments {
			start := seg.StartMs + offset
			end := seg.EndMs + offset
			if end <= cut.StartMs || start >= cut.EndMs {
				continue
			}
			if start < cut.StartMs {
				start = cut.StartMs
			}
			if end > cut.EndMs {
				end = cut.EndMs
			}
			if end <= start {
				continue
			}
			if n := len(cues); n > 0 && cues[n-1].EndMs > start {
				start = cues[n-1].EndMs
				if end <= start {
					continue
				}
			}
			cues = append(cues, subtitle.Cue{Index: len(cues) + 1, StartMs: start, EndMs: end, Text: seg.Text})
		}
	}
	return cues
}

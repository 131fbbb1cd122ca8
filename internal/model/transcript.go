package model

import "time"

// TranscriptSegment is a timed span of recognized speech, in the camera's media time
type TranscriptSegment struct {
	StartMs    int64   `json:"startMs"`
	EndMs      int64   `json:"endMs"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Tier       string  `json:"tier,omitempty"`
}

// Transcript is the ordered, non-overlapping segment list for one angle
type Transcript struct {
	SessionID  string              `json:"sessionId"`
	Angle      string              `json:"angle"`
	Language   string              `json:"language,omitempty"`
	Segments   []TranscriptSegment `json:"segments"`
	JobID      string              `json:"jobId,omitempty"`
	ComputedAt time.Time           `json:"computedAt"`
}

// TranscriptMatch is one search hit
type TranscriptMatch struct {
	Angle        string `json:"angle"`
	SegmentIndex int    `json:"segmentIndex"`
	StartMs      int64  `json:"startMs"`
	EndMs        int64  `json:"endMs"`
	Timecode     string `json:"timecode"`
	TimelineMs   *int64 `json:"timelineMs,omitempty"`
	Text         string `json:"text"`
}

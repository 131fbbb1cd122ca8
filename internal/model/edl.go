package model

import "time"

// Cut is one contiguous segment of the published timeline shown from an angle
type Cut struct {
	StartMs int64  `json:"startMs" validate:"min=0"`
	EndMs   int64  `json:"endMs" validate:"min=0"`
	Angle   string `json:"angle" validate:"required"`
}

// Chapter marks a labelled point on the published timeline
type Chapter struct {
	TimeMs int64  `json:"timeMs" validate:"min=0"`
	Label  string `json:"label" validate:"required,max=100"`
}

// EDL is one immutable version of a session's edit decision list. Only the
// Locked flag of the latest version changes after it is written.
type EDL struct {
	SessionID string     `json:"sessionId"`
	Version   int        `json:"version"`
	Cuts      []Cut      `json:"cuts"`
	Chapters  []Chapter  `json:"chapters"`
	Locked    bool       `json:"locked"`
	LockedAt  *time.Time `json:"lockedAt,omitempty"`
	CreatedBy string     `json:"createdBy,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// DurationMs is the end of the last cut
func (e *EDL) DurationMs() int64 {
	if e == nil || len(e.Cuts) == 0 {
		return 0
	}
	return e.Cuts[len(e.Cuts)-1].EndMs
}

// Angles lists the distinct angles referenced by cuts, in first-use order
func (e *EDL) Angles() []string {
	seen := make(map[string]bool)
	var angles []string
	for _, c := range e.Cuts {
		if !seen[c.Angle] {
			seen[c.Angle] = true
			angles = append(angles, c.Angle)
		}
	}
	return angles
}

// Next returns a new unlocked version carrying this version's content
func (e *EDL) Next(createdBy string) *EDL {
	next := &EDL{
		SessionID: e.SessionID,
		Version:   e.Version + 1,
		Cuts:      append([]Cut(nil), e.Cuts...),
		Chapters:  append([]Chapter(nil), e.Chapters...),
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	return next
}

// EDLVersionSummary is one row of the version history
type EDLVersionSummary struct {
	Version   int       `json:"version"`
	Cuts      int       `json:"cuts"`
	Chapters  int       `json:"chapters"`
	Locked    bool      `json:"locked"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

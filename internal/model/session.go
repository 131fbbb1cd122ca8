package model

import "time"

// RecordingSession is one multi-camera recording moving through the pipeline
type RecordingSession struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	OwnerID        string        `json:"ownerId,omitempty"`
	Status         SessionStatus `json:"status"`
	AnchorAngle    string        `json:"anchorAngle,omitempty"`
	SyncMethod     SyncMethod    `json:"syncMethod"`
	OperatorStatus string        `json:"operatorStatus,omitempty"`
	Cameras        []CameraAsset `json:"cameras"`
	ArchivedAt     *time.Time    `json:"archivedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// CameraAsset is one camera's raw recording. Media is referenced, never embedded.
type CameraAsset struct {
	Angle           string     `json:"angle"`
	MediaURL        string     `json:"mediaUrl"`
	DurationMs      int64      `json:"durationMs"`
	Checksum        string     `json:"checksum,omitempty"`
	HasAudio        bool       `json:"hasAudio"`
	StartTimecodeMs *int64     `json:"startTimecodeMs,omitempty"`
	RecordedAt      *time.Time `json:"recordedAt,omitempty"`
}

// Camera returns the asset for angle
func (s *RecordingSession) Camera(angle string) (CameraAsset, bool) {
	for _, c := range s.Cameras {
		if c.Angle == angle {
			return c, true
		}
	}
	return CameraAsset{}, false
}

// NonAnchorAngles lists every camera angle except the anchor, in camera order
func (s *RecordingSession) NonAnchorAngles() []string {
	angles := make([]string, 0, len(s.Cameras))
	for _, c := range s.Cameras {
		if c.Angle != s.AnchorAngle {
			angles = append(angles, c.Angle)
		}
	}
	return angles
}

// IsArchived reports whether the session was soft deleted
func (s *RecordingSession) IsArchived() bool {
	return s.ArchivedAt != nil
}

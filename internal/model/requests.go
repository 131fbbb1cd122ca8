package model

import "time"

// CreateSessionRequest represents the request to open a recording session
type CreateSessionRequest struct {
	Title       string          `json:"title" validate:"required,min=1,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	SyncMethod  SyncMethod      `json:"syncMethod" validate:"omitempty,oneof=audio timecode manual"`
	AnchorAngle string          `json:"anchorAngle" validate:"omitempty,max=32"`
	Cameras     []CameraRequest `json:"cameras" validate:"omitempty,max=16,dive"`
}

// CameraRequest registers one camera recording by reference
type CameraRequest struct {
	Angle           string     `json:"angle" validate:"required,min=1,max=32"`
	MediaURL        string     `json:"mediaUrl" validate:"required,url"`
	DurationMs      int64      `json:"durationMs" validate:"min=0"`
	Checksum        string     `json:"checksum" validate:"max=128"`
	HasAudio        *bool      `json:"hasAudio"`
	StartTimecodeMs *int64     `json:"startTimecodeMs" validate:"omitempty,min=0"`
	RecordedAt      *time.Time `json:"recordedAt"`
}

// ToAsset converts the request into a stored asset. Audio is assumed present unless stated.
func (r CameraRequest) ToAsset() CameraAsset {
	hasAudio := true
	if r.HasAudio != nil {
		hasAudio = *r.HasAudio
	}
	return CameraAsset{
		Angle:           r.Angle,
		MediaURL:        r.MediaURL,
		DurationMs:      r.DurationMs,
		Checksum:        r.Checksum,
		HasAudio:        hasAudio,
		StartTimecodeMs: r.StartTimecodeMs,
		RecordedAt:      r.RecordedAt,
	}
}

// SetAnchorRequest selects the reference angle
type SetAnchorRequest struct {
	Angle string `json:"angle" validate:"required,max=32"`
}

// OperatorStatusRequest sets or clears the operator tag
type OperatorStatusRequest struct {
	OperatorStatus string `json:"operatorStatus" validate:"max=64"`
}

// SyncComputeRequest optionally overrides the session sync method
type SyncComputeRequest struct {
	Method SyncMethod `json:"method" validate:"omitempty,oneof=audio timecode manual"`
}

// ApproveSyncRequest accepts the computed offset for an angle
type ApproveSyncRequest struct {
	Angle string `json:"angle" validate:"required,max=32"`
}

// CorrectSyncRequest replaces the computed offset for an angle
type CorrectSyncRequest struct {
	Angle    string `json:"angle" validate:"required,max=32"`
	OffsetMs *int64 `json:"offsetMs" validate:"required"`
}

// UpdateCutsRequest replaces the cut list, creating a new EDL version
type UpdateCutsRequest struct {
	BaseVersion *int  `json:"baseVersion" validate:"omitempty,min=1"`
	Cuts        []Cut `json:"cuts" validate:"required,min=1,max=5000,dive"`
}

// UpdateChaptersRequest replaces the chapter list, creating a new EDL version
type UpdateChaptersRequest struct {
	BaseVersion *int      `json:"baseVersion" validate:"omitempty,min=1"`
	Chapters    []Chapter `json:"chapters" validate:"max=500,dive"`
}

// TranscriptComputeRequest starts transcription of one angle
type TranscriptComputeRequest struct {
	Angle    string `json:"angle" validate:"omitempty,max=32"`
	Language string `json:"language" validate:"omitempty,min=2,max=8"`
}

// SessionListResponse wraps a page of sessions
type SessionListResponse struct {
	Sessions []*RecordingSession `json:"sessions"`
	Total    int                 `json:"total"`
}

// TranscriptSearchResponse wraps search hits
type TranscriptSearchResponse struct {
	Query   string            `json:"query"`
	Matches []TranscriptMatch `json:"matches"`
}

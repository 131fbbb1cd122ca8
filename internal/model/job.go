package model

import (
	"encoding/json"
	"time"
)

// Job is the generic envelope for every background job in the system
type Job struct {
	ID                string          `json:"id"`
	SessionID         string          `json:"sessionId"`
	Type              JobType         `json:"type"`
	Status            JobStatus       `json:"status"`
	Progress          int             `json:"progress"`
	CurrentStep       string          `json:"currentStep,omitempty"`
	ErrorMessage      *string         `json:"errorMessage,omitempty"`
	Attempts          int             `json:"attempts"`
	MaxRetry          int             `json:"maxRetry"`
	RetryOf           string          `json:"retryOf,omitempty"`
	RequestedBy       string          `json:"requestedBy,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	Result            json.RawMessage `json:"result,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	StartedAt         *time.Time      `json:"startedAt,omitempty"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	CancelRequestedAt *time.Time      `json:"cancelRequestedAt,omitempty"`
}

// Error returns the last failure message or empty
func (j *Job) Error() string {
	if j.ErrorMessage == nil {
		return ""
	}
	return *j.ErrorMessage
}

// DecodePayload unmarshals the job payload into v
func (j *Job) DecodePayload(v interface{}) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, v)
}

// DecodeResult unmarshals the job result into v
func (j *Job) DecodeResult(v interface{}) error {
	if len(j.Result) == 0 {
		return nil
	}
	return json.Unmarshal(j.Result, v)
}

// SyncJobPayload contains the data for a sync job
type SyncJobPayload struct {
	AnchorAngle string     `json:"anchorAngle"`
	Method      SyncMethod `json:"method"`
}

// EDLJobPayload contains the data for an edl generation job
type EDLJobPayload struct {
	BaseVersion int `json:"baseVersion"`
}

// TranscriptJobPayload contains the data for a transcript job
type TranscriptJobPayload struct {
	Angle    string `json:"angle"`
	Language string `json:"language,omitempty"`
}

// JobAcceptedResponse is returned when a job is enqueued
type JobAcceptedResponse struct {
	JobID     string    `json:"jobId"`
	SessionID string    `json:"sessionId"`
	Type      JobType   `json:"type"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobCancelResponse represents the response when cancelling a job
type JobCancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}

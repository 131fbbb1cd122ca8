package model

import "time"

// SyncResult holds per-camera offsets against the anchor angle. One per
// session; every change bumps Revision.
type SyncResult struct {
	SessionID    string             `json:"sessionId"`
	AnchorAngle  string             `json:"anchorAngle"`
	Method       SyncMethod         `json:"method"`
	Revision     int                `json:"revision"`
	OffsetsMs    map[string]int64   `json:"offsetsMs"`
	Confidence   map[string]float64 `json:"confidence"`
	Reviewed     map[string]bool    `json:"reviewed"`
	Corrected    map[string]bool    `json:"corrected"`
	ManualReview map[string]bool    `json:"manualReview"`
	JobID        string             `json:"jobId,omitempty"`
	ComputedAt   time.Time          `json:"computedAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// NewSyncResult returns an empty result with the anchor at offset zero
func NewSyncResult(sessionID, anchor string, method SyncMethod) *SyncResult {
	now := time.Now().UTC()
	return &SyncResult{
		SessionID:    sessionID,
		AnchorAngle:  anchor,
		Method:       method,
		OffsetsMs:    map[string]int64{anchor: 0},
		Confidence:   map[string]float64{anchor: 1},
		Reviewed:     map[string]bool{},
		Corrected:    map[string]bool{},
		ManualReview: map[string]bool{},
		ComputedAt:   now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy
func (r *SyncResult) Clone() *SyncResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.OffsetsMs = make(map[string]int64, len(r.OffsetsMs))
	for k, v := range r.OffsetsMs {
		cp.OffsetsMs[k] = v
	}
	cp.Confidence = make(map[string]float64, len(r.Confidence))
	for k, v := range r.Confidence {
		cp.Confidence[k] = v
	}
	cp.Reviewed = cloneFlags(r.Reviewed)
	cp.Corrected = cloneFlags(r.Corrected)
	cp.ManualReview = cloneFlags(r.ManualReview)
	return &cp
}

func cloneFlags(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AngleSync is the per-angle view returned by the API
type AngleSync struct {
	Angle        string  `json:"angle"`
	OffsetMs     int64   `json:"offsetMs"`
	Confidence   float64 `json:"confidence"`
	Tier         string  `json:"tier"`
	Label        string  `json:"label"`
	Color        string  `json:"color"`
	Reviewed     bool    `json:"reviewed"`
	Corrected    bool    `json:"corrected"`
	ManualReview bool    `json:"manualReview"`
	Settled      bool    `json:"settled"`
}

// SyncResultResponse is a SyncResult with per-angle classification
type SyncResultResponse struct {
	*SyncResult
	Angles  []AngleSync `json:"angles"`
	Settled bool        `json:"settled"`
}

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/studiocast/studio/internal/config"
)

// MediaProcessor is the external media service: audio offset estimation and
// multi-camera rendering. The DSP and encoding live behind this interface.
type MediaProcessor interface {
	EstimateOffset(ctx context.Context, req *OffsetRequest) (*OffsetResponse, error)
	StartRender(ctx context.Context, req *RenderRequest) (*RenderTask, error)
	GetRenderStatus(ctx context.Context, taskID string) (*RenderTask, error)
	CancelRender(ctx context.Context, taskID string) error
	HealthCheck(ctx context.Context) error
}

// OffsetRequest asks for the offset of one camera against the anchor
type OffsetRequest struct {
	SessionID        string     `json:"session_id"`
	AnchorAngle      string     `json:"anchor_angle"`
	AnchorURL        string     `json:"anchor_url"`
	Angle            string     `json:"angle"`
	AngleURL         string     `json:"angle_url"`
	AnchorRecordedAt *time.Time `json:"anchor_recorded_at,omitempty"`
	AngleRecordedAt  *time.Time `json:"angle_recorded_at,omitempty"`
}

// OffsetResponse is the estimated offset. Silent means no usable audio was
// found; Undetermined means no estimate could be made at all.
type OffsetResponse struct {
	OffsetMs     int64   `json:"offset_ms"`
	Confidence   float64 `json:"confidence"`
	Silent       bool    `json:"silent"`
	Undetermined bool    `json:"undetermined,omitempty"`
}

// RenderCut is one EDL cut resolved to a source file and media time
type RenderCut struct {
	StartMs    int64  `json:"start_ms"`
	EndMs      int64  `json:"end_ms"`
	Angle      string `json:"angle"`
	MediaURL   string `json:"media_url"`
	SourceInMs int64  `json:"source_in_ms"`
}

// RenderRequest submits a locked EDL for rendering
type RenderRequest struct {
	SessionID  string      `json:"session_id"`
	JobID      string      `json:"job_id"`
	EDLVersion int         `json:"edl_version"`
	Format     string      `json:"format"`
	Cuts       []RenderCut `json:"cuts"`
	OutputKey  string      `json:"output_key"`
}

// Render task states reported by the media service
const (
	RenderTaskQueued     = "queued"
	RenderTaskProcessing = "processing"
	RenderTaskCompleted  = "completed"
	RenderTaskFailed     = "failed"
	RenderTaskCancelled  = "cancelled"
)

// RenderTask is the media service's view of a render
type RenderTask struct {
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	Step         string `json:"step,omitempty"`
	VideoURL     string `json:"video_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Done reports whether the task reached a final state
func (t *RenderTask) Done() bool {
	switch t.Status {
	case RenderTaskCompleted, RenderTaskFailed, RenderTaskCancelled:
		return true
	}
	return false
}

// MediaClient implements MediaProcessor over HTTP
type MediaClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewMediaClient creates a new media service client
func NewMediaClient(cfg *config.MediaConfig) *MediaClient {
	return &MediaClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// EstimateOffset runs audio cross-correlation between the anchor and one angle
func (c *MediaClient) EstimateOffset(ctx context.Context, req *OffsetRequest) (*OffsetResponse, error) {
	var result OffsetResponse
	if err := doJSON(ctx, c.httpClient, "media service", http.MethodPost, c.baseURL+"/sync/offset", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartRender submits a render
func (c *MediaClient) StartRender(ctx context.Context, req *RenderRequest) (*RenderTask, error) {
	var result RenderTask
	if err := doJSON(ctx, c.httpClient, "media service", http.MethodPost, c.baseURL+"/render", nil, req, &result); err != nil {
		return nil, err
	}
	if result.TaskID == "" {
		return nil, fmt.Errorf("media service returned no task id")
	}
	return &result, nil
}

// GetRenderStatus polls a submitted render
func (c *MediaClient) GetRenderStatus(ctx context.Context, taskID string) (*RenderTask, error) {
	var result RenderTask
	if err := doJSON(ctx, c.httpClient, "media service", http.MethodGet, c.baseURL+"/render/"+url.PathEscape(taskID), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelRender asks the media service to stop a render
func (c *MediaClient) CancelRender(ctx context.Context, taskID string) error {
	return doJSON(ctx, c.httpClient, "media service", http.MethodDelete, c.baseURL+"/render/"+url.PathEscape(taskID), nil, nil, nil)
}

// HealthCheck checks if the media service is available
func (c *MediaClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *MediaClient) IsConfigured() bool {
	return c.baseURL != ""
}

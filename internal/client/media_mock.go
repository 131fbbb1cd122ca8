package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRenderSteps are the stages a mock render walks through
var MockRenderSteps = []struct {
	Progress int
	Step     string
}{
	{10, "Fetching camera sources"},
	{30, "Conforming cuts"},
	{55, "Encoding video"},
	{75, "Mixing audio"},
	{90, "Packaging output"},
}

// MockMediaClient stands in for the media service in development. Offsets
// come from recording wall-clock times; renders advance one step per
// stepDelay.
type MockMediaClient struct {
	stepDelay time.Duration
	cdnURL    string
	now       func() time.Time

	mu    sync.Mutex
	tasks map[string]*mockRender
}

type mockRender struct {
	req       RenderRequest
	startedAt time.Time
	cancelled bool
}

// MockConfidence is the score given to wall-clock estimates
const MockConfidence = 0.6

// NewMockMediaClient creates a mock media client
func NewMockMediaClient(stepDelay time.Duration, cdnURL string) *MockMediaClient {
	if cdnURL == "" {
		cdnURL = "https://cdn.studio.local"
	}
	return &MockMediaClient{
		stepDelay: stepDelay,
		cdnURL:    cdnURL,
		now:       time.Now,
		tasks:     make(map[string]*mockRender),
	}
}

func (c *MockMediaClient) EstimateOffset(ctx context.Context, req *OffsetRequest) (*OffsetResponse, error) {
	if req.AnchorRecordedAt == nil || req.AngleRecordedAt == nil {
		return &OffsetResponse{Undetermined: true}, nil
	}
	return &OffsetResponse{
		OffsetMs:   req.AngleRecordedAt.Sub(*req.AnchorRecordedAt).Milliseconds(),
		Confidence: MockConfidence,
	}, nil
}

func (c *MockMediaClient) StartRender(ctx context.Context, req *RenderRequest) (*RenderTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New().String()
	c.tasks[id] = &mockRender{req: *req, startedAt: c.now()}
	return &RenderTask{TaskID: id, Status: RenderTaskQueued}, nil
}

func (c *MockMediaClient) GetRenderStatus(ctx context.Context, taskID string) (*RenderTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.tasks[taskID]
	if !ok {
		return nil, classify(&StatusError{Service: "media service", StatusCode: 404, Body: "unknown task " + taskID})
	}
	if r.cancelled {
		return &RenderTask{TaskID: taskID, Status: RenderTaskCancelled}, nil
	}

	step := len(MockRenderSteps)
	if c.stepDelay > 0 {
		step = int(c.now().Sub(r.startedAt) / c.stepDelay)
	}
	if step < len(MockRenderSteps) {
		s := MockRenderSteps[step]
		return &RenderTask{TaskID: taskID, Status: RenderTaskProcessing, Progress: s.Progress, Step: s.Step}, nil
	}

	var duration int64
	if n := len(r.req.Cuts); n > 0 {
		duration = r.req.Cuts[n-1].EndMs
	}
	base := fmt.Sprintf("%s/%s", c.cdnURL, r.req.OutputKey)
	return &RenderTask{
		TaskID:       taskID,
		Status:       RenderTaskCompleted,
		Progress:     100,
		Step:         "Done",
		VideoURL:     base + "/video.mp4",
		ThumbnailURL: base + "/thumbnail.jpg",
		DurationMs:   duration,
	}, nil
}

func (c *MockMediaClient) CancelRender(ctx context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.tasks[taskID]; ok {
		r.cancelled = true
	}
	return nil
}

func (c *MockMediaClient) HealthCheck(ctx context.Context) error { return nil }

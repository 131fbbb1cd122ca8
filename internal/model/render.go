package model

import "time"

// RenderTriggerRequest starts a render of the locked EDL
type RenderTriggerRequest struct {
	Format RenderFormat `json:"format" validate:"omitempty,oneof=mp4_720p mp4_1080p mp4_2160p"`
}

// RenderJobPayload snapshots the EDL version the render was triggered against
type RenderJobPayload struct {
	EDLVersion int          `json:"edlVersion"`
	Format     RenderFormat `json:"format"`
}

// RenderOutput is the result of a completed render job
type RenderOutput struct {
	VideoURL          string     `json:"videoUrl"`
	ThumbnailURL      string     `json:"thumbnailUrl,omitempty"`
	ChaptersURL       string     `json:"chaptersUrl,omitempty"`
	SubtitlesURL      string     `json:"subtitlesUrl,omitempty"`
	DurationMs        int64      `json:"durationMs"`
	RenderStartedAt   *time.Time `json:"renderStartedAt,omitempty"`
	RenderCompletedAt *time.Time `json:"renderCompletedAt,omitempty"`
	RenderDurationMs  int64      `json:"renderDurationMs"`
}

// RenderJob is the render-specific view of a job
type RenderJob struct {
	*Job
	EDLVersion int           `json:"edlVersion"`
	Format     RenderFormat  `json:"format"`
	Output     *RenderOutput `json:"output,omitempty"`
}

// NewRenderJob builds the render view from the generic envelope
func NewRenderJob(job *Job) (*RenderJob, error) {
	var payload RenderJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, err
	}
	view := &RenderJob{Job: job, EDLVersion: payload.EDLVersion, Format: payload.Format}
	if job.Status == JobStatusCompleted && len(job.Result) > 0 {
		var out RenderOutput
		if err := job.DecodeResult(&out); err != nil {
			return nil, err
		}
		view.Output = &out
	}
	return view, nil
}

// RenderProgressResponse represents the status of a render job
type RenderProgressResponse struct {
	JobID       string        `json:"jobId"`
	SessionID   string        `json:"sessionId"`
	Status      JobStatus     `json:"status"`
	Progress    int           `json:"progress"`
	CurrentStep string        `json:"currentStep,omitempty"`
	Error       *string       `json:"error"`
	EDLVersion  int           `json:"edlVersion"`
	Format      RenderFormat  `json:"format"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt"`
	Attempts    int           `json:"attempts"`
	Output      *RenderOutput `json:"output,omitempty"`
}

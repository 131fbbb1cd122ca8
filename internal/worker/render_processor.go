package worker

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/client"
	"github.com/studiocast/studio/internal/edl"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/service"
	"github.com/studiocast/studio/internal/subtitle"
)

// RenderProcessor submits a locked EDL version to the media service, follows
// it to completion and publishes the sidecar chapter and subtitle files.
type RenderProcessor struct {
	renders *service.RenderService
	media   client.MediaProcessor
	storage client.StorageClient
	poll    time.Duration
	logger  hclog.Logger
}

func NewRenderProcessor(renders *service.RenderService, media client.MediaProcessor, storage client.StorageClient, poll time.Duration, logger hclog.Logger) *RenderProcessor {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &RenderProcessor{renders: renders, media: media, storage: storage, poll: poll, logger: logger.Named("render")}
}

// OutputKey is the storage prefix of a render's files
func OutputKey(sessionID, jobID string) string {
	return path.Join("renders", sessionID, jobID)
}

func (p *RenderProcessor) Process(ctx context.Context, job *model.Job, report ReportFunc) (interface{}, error) {
	in, err := p.renders.Prepare(ctx, job)
	if err != nil {
		return nil, err
	}
	started := time.Now().UTC()
	key := OutputKey(job.SessionID, job.ID)

	req, err := renderRequest(in, job.ID, key)
	if err != nil {
		return nil, err
	}

	report(5, "Submitting render")
	task, err := p.media.StartRender(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start render: %w", err)
	}
	logger := p.logger.With("job_id", job.ID, "session_id", job.SessionID, "task_id", task.TaskID)
	logger.Info("render submitted", "edl_version", in.EDL.Version, "format", in.Payload.Format, "cuts", len(req.Cuts))

	task, err = p.follow(ctx, logger, task, report)
	if err != nil {
		return nil, err
	}

	report(92, "Publishing chapters and subtitles")
	out := &model.RenderOutput{
		VideoURL:        task.VideoURL,
		ThumbnailURL:    task.ThumbnailURL,
		DurationMs:      task.DurationMs,
		RenderStartedAt: &started,
	}
	if out.DurationMs == 0 {
		out.DurationMs = in.EDL.DurationMs()
	}
	if err := p.publishSidecars(ctx, in, key, out); err != nil {
		return nil, err
	}

	completed := time.Now().UTC()
	out.RenderCompletedAt = &completed
	out.RenderDurationMs = completed.Sub(started).Milliseconds()
	logger.Info("render finished", "video_url", out.VideoURL, "duration_ms", out.DurationMs, "render_ms", out.RenderDurationMs)
	return out, nil
}

// follow polls the media task until it ends. A cancelled context cancels the
// remote task before returning.
func (p *RenderProcessor) follow(ctx context.Context, logger hclog.Logger, task *client.RenderTask, report ReportFunc) (*client.RenderTask, error) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for !task.Done() {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if err := p.media.CancelRender(cancelCtx, task.TaskID); err != nil {
				logger.Warn("failed to cancel media task", "error", err)
			}
			cancel()
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := p.media.GetRenderStatus(ctx, task.TaskID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return nil, fmt.Errorf("failed to poll render: %w", err)
		}
		task = status
		step := task.Step
		if step == "" {
			step = "Rendering"
		}
		report(5+task.Progress*85/100, step)
	}

	switch task.Status {
	case client.RenderTaskCompleted:
		if task.VideoURL == "" {
			return nil, apperr.Fatal(fmt.Errorf("render task %s completed without a video url", task.TaskID))
		}
		return task, nil
	case client.RenderTaskCancelled:
		return nil, apperr.Fatal(fmt.Errorf("render task %s was cancelled by the media service", task.TaskID))
	default:
		msg := task.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, apperr.Fatal(fmt.Errorf("render task %s failed: %s", task.TaskID, msg))
	}
}

func (p *RenderProcessor) publishSidecars(ctx context.Context, in *service.RenderInput, key string, out *model.RenderOutput) error {
	if len(in.EDL.Chapters) > 0 {
		url, err := p.storage.Upload(ctx, key+"/chapters.txt", strings.NewReader(edl.ChapterList(in.EDL.Chapters)), "text/plain; charset=utf-8")
		if err != nil {
			return fmt.Errorf("failed to upload chapters: %w", err)
		}
		out.ChaptersURL = url
	}

	cues := edl.SubtitleCues(in.EDL.Cuts, in.Session.AnchorAngle, in.Transcripts, in.Offsets())
	if len(cues) > 0 {
		url, err := p.storage.Upload(ctx, key+"/subtitles.vtt", strings.NewReader(subtitle.ToVTT(cues)), "text/vtt; charset=utf-8")
		if err != nil {
			return fmt.Errorf("failed to upload subtitles: %w", err)
		}
		out.SubtitlesURL = url
	}
	return nil
}

// renderRequest resolves each cut to its camera file and media time
func renderRequest(in *service.RenderInput, jobID, key string) (*client.RenderRequest, error) {
	offsets := in.Offsets()
	req := &client.RenderRequest{
		SessionID:  in.Session.ID,
		JobID:      jobID,
		EDLVersion: in.EDL.Version,
		Format:     string(in.Payload.Format),
		OutputKey:  key,
	}
	for _, cut := range in.EDL.Cuts {
		cam, ok := in.Session.Camera(cut.Angle)
		if !ok {
			return nil, apperr.Validationf("cut references unknown angle %q", cut.Angle)
		}
		sourceIn := cut.StartMs - offsets[cut.Angle]
		if sourceIn < 0 {
			sourceIn = 0
		}
		req.Cuts = append(req.Cuts, client.RenderCut{
			StartMs:    cut.StartMs,
			EndMs:      cut.EndMs,
			Angle:      cut.Angle,
			MediaURL:   cam.MediaURL,
			SourceInMs: sourceIn,
		})
	}
	return req, nil
}

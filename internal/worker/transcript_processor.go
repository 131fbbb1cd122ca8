package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/client"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/service"
	"github.com/studiocast/studio/internal/store"
)

// TranscriptProcessor runs speech recognition over one angle's audio
type TranscriptProcessor struct {
	store       store.Store
	transcripts *service.TranscriptService
	recognizer  client.Transcriber
	logger      hclog.Logger
}

func NewTranscriptProcessor(st store.Store, transcripts *service.TranscriptService, recognizer client.Transcriber, logger hclog.Logger) *TranscriptProcessor {
	return &TranscriptProcessor{store: st, transcripts: transcripts, recognizer: recognizer, logger: logger.Named("transcript")}
}

// TranscriptSummary is the job result of a transcript job
type TranscriptSummary struct {
	Angle    string `json:"angle"`
	Language string `json:"language,omitempty"`
	Segments int    `json:"segments"`
}

func (p *TranscriptProcessor) Process(ctx context.Context, job *model.Job, report ReportFunc) (interface{}, error) {
	var payload model.TranscriptJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, apperr.Fatal(err)
	}

	session, err := p.store.GetSession(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}
	cam, ok := session.Camera(payload.Angle)
	if !ok {
		return nil, apperr.Validationf("unknown angle %q", payload.Angle)
	}
	if !cam.HasAudio {
		return nil, apperr.Validationf("angle %q has no audio", payload.Angle)
	}

	report(10, fmt.Sprintf("Transcribing %s", cam.Angle))
	started := time.Now()
	res, err := p.recognizer.Transcribe(ctx, &client.TranscriptionRequest{
		MediaURL:   cam.MediaURL,
		Language:   payload.Language,
		DurationMs: cam.DurationMs,
		Angle:      cam.Angle,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	report(90, "Saving transcript")
	segments := make([]model.TranscriptSegment, 0, len(res.Segments))
	for _, seg := range res.Segments {
		segments = append(segments, model.TranscriptSegment{
			StartMs:    seg.StartMs,
			EndMs:      seg.EndMs,
			Text:       seg.Text,
			Confidence: seg.Confidence,
		})
	}
	language := res.Language
	if language == "" {
		language = payload.Language
	}
	saved, err := p.transcripts.Save(ctx, &model.Transcript{
		SessionID:  session.ID,
		Angle:      cam.Angle,
		Language:   language,
		Segments:   segments,
		JobID:      job.ID,
		ComputedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("transcript computed", "session_id", session.ID, "angle", cam.Angle, "segments", len(saved.Segments), "elapsed", time.Since(started))
	return TranscriptSummary{Angle: saved.Angle, Language: saved.Language, Segments: len(saved.Segments)}, nil
}

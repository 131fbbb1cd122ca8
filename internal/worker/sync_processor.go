package worker

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/client"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/store"
)

// SyncProcessor computes per-angle offsets against the anchor
type SyncProcessor struct {
	store  store.Store
	media  client.MediaProcessor
	logger hclog.Logger
}

func NewSyncProcessor(st store.Store, media client.MediaProcessor, logger hclog.Logger) *SyncProcessor {
	return &SyncProcessor{store: st, media: media, logger: logger.Named("sync")}
}

func (p *SyncProcessor) Process(ctx context.Context, job *model.Job, report ReportFunc) (interface{}, error) {
	var payload model.SyncJobPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, apperr.Fatal(err)
	}

	session, err := p.store.GetSession(ctx, job.SessionID)
	if err != nil {
		return nil, err
	}
	if session.AnchorAngle != payload.AnchorAngle {
		return nil, apperr.Validation("anchor changed since sync was requested",
			fmt.Sprintf("job was computed against %q, session anchor is %q", payload.AnchorAngle, session.AnchorAngle))
	}
	anchor, ok := session.Camera(payload.AnchorAngle)
	if !ok {
		return nil, apperr.Validationf("anchor angle %q has no camera", payload.AnchorAngle)
	}

	method := payload.Method
	if method == "" {
		method = model.SyncMethodAudio
	}
	result := model.NewSyncResult(session.ID, anchor.Angle, method)
	result.JobID = job.ID

	angles := session.NonAnchorAngles()
	report(5, "Preparing sync")
	for i, angle := range angles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cam, _ := session.Camera(angle)
		report(10+80*i/len(angles), fmt.Sprintf("Aligning %s", angle))

		offset, conf, manual, err := p.estimate(ctx, method, session.ID, anchor, cam)
		if err != nil {
			return nil, err
		}
		result.OffsetsMs[angle] = offset
		result.Confidence[angle] = conf
		if manual {
			result.ManualReview[angle] = true
		}
		p.logger.Debug("angle aligned", "session_id", session.ID, "angle", angle, "offset_ms", offset, "confidence", conf, "manual_review", manual)
	}

	report(95, "Saving offsets")
	prev, err := p.store.GetSyncResult(ctx, session.ID)
	switch {
	case err == nil:
		result.Revision = prev.Revision + 1
	case apperr.IsNotFound(err):
		result.Revision = 1
	default:
		return nil, err
	}
	if err := p.store.PutSyncResult(ctx, result); err != nil {
		return nil, err
	}

	p.logger.Info("sync computed", "session_id", session.ID, "method", method, "angles", len(angles), "revision", result.Revision)
	return result, nil
}

// estimate returns offset, confidence and whether the angle must be set by hand
func (p *SyncProcessor) estimate(ctx context.Context, method model.SyncMethod, sessionID string, anchor, cam model.CameraAsset) (int64, float64, bool, error) {
	switch method {
	case model.SyncMethodManual:
		return 0, 0, true, nil

	case model.SyncMethodTimecode:
		if anchor.StartTimecodeMs == nil || cam.StartTimecodeMs == nil {
			return 0, 0, true, nil
		}
		return *cam.StartTimecodeMs - *anchor.StartTimecodeMs, 1, false, nil

	default:
		if !cam.HasAudio || !anchor.HasAudio {
			return 0, 0, true, nil
		}
		resp, err := p.media.EstimateOffset(ctx, &client.OffsetRequest{
			SessionID:        sessionID,
			AnchorAngle:      anchor.Angle,
			AnchorURL:        anchor.MediaURL,
			Angle:            cam.Angle,
			AngleURL:         cam.MediaURL,
			AnchorRecordedAt: anchor.RecordedAt,
			AngleRecordedAt:  cam.RecordedAt,
		})
		if err != nil {
			return 0, 0, false, fmt.Errorf("offset estimation for %s: %w", cam.Angle, err)
		}
		if resp.Silent || resp.Undetermined {
			return 0, 0, true, nil
		}
		return resp.OffsetMs, clamp01(resp.Confidence), false, nil
	}
}

func clamp01(v float64) float64 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

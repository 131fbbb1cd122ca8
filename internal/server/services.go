// Package server assembles the API and worker processes
package server

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/confidence"
	"github.com/studiocast/studio/internal/config"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/queue"
	"github.com/studiocast/studio/internal/service"
	"github.com/studiocast/studio/internal/store"
)

// Services are the domain services shared by the API and the workers
type Services struct {
	Lifecycle   *service.Lifecycle
	Sessions    *service.SessionService
	Sync        *service.SyncService
	EDL         *service.EDLService
	Transcripts *service.TranscriptService
	Renders     *service.RenderService
	Jobs        *service.JobService
}

func NewServices(st store.Store, q *queue.Queue, classifier confidence.Classifier, fps int, logger hclog.Logger) *Services {
	s := &Services{Lifecycle: service.NewLifecycle(st, classifier, logger)}
	s.Sessions = service.NewSessionService(st, q, logger)
	s.Sync = service.NewSyncService(st, q, classifier, logger)
	s.EDL = service.NewEDLService(st, q, classifier, fps, logger)
	s.Transcripts = service.NewTranscriptService(st, q, classifier, logger)
	s.Renders = service.NewRenderService(st, q, s.Lifecycle, logger)
	s.Jobs = service.NewJobService(q, s.Lifecycle, s.Sync, s.EDL, s.Transcripts, s.Renders, logger)
	return s
}

// QueuePolicy converts the queue settings into a retry policy
func QueuePolicy(cfg config.QueueConfig) queue.Policy {
	p := queue.DefaultPolicy()
	p.MaxRetry = cfg.MaxRetry
	if cfg.BackoffBase > 0 {
		p.BackoffBase = cfg.BackoffBase
	}
	if cfg.BackoffCap > 0 {
		p.BackoffCap = cfg.BackoffCap
	}
	if cfg.Retention > 0 {
		p.Retention = cfg.Retention
	}
	for _, t := range model.ValidJobTypes {
		if d, ok := cfg.Timeouts[string(t)]; ok && d > 0 {
			p.Timeouts[t] = d
		}
	}
	return p
}

func classifier(cfg config.ConfidenceConfig) (confidence.Classifier, error) {
	if cfg.High == 0 && cfg.Medium == 0 {
		return confidence.Default, nil
	}
	return confidence.NewClassifier(cfg.High, cfg.Medium)
}

func mediaPoll(cfg config.MediaConfig) time.Duration {
	if cfg.PollInterval > 0 {
		return cfg.PollInterval
	}
	return 2 * time.Second
}

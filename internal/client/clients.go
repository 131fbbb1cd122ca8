package client

import (
	"github.com/studiocast/studio/internal/config"
)

// NewMediaProcessor returns the HTTP media client, or the mock when no
// service URL is configured
func NewMediaProcessor(cfg *config.Config) MediaProcessor {
	if cfg.Media.ServiceURL != "" {
		return NewMediaClient(&cfg.Media)
	}
	return NewMockMediaClient(cfg.Render.MockStepDelay, cfg.R2.PublicURL)
}

// NewTranscriber returns the Groq client, or the mock without an API key
func NewTranscriber(cfg *config.Config) Transcriber {
	groq := NewGroqClient(&cfg.Groq)
	if groq.IsConfigured() {
		return groq
	}
	return MockTranscriber{}
}

// NewStorage returns R2 storage when credentials are present, else memory
func NewStorage(cfg *config.Config) (StorageClient, error) {
	if cfg.R2.AccountID == "" {
		return NewMemoryStorage(cfg.R2.PublicURL), nil
	}
	return NewR2Client(&cfg.R2)
}

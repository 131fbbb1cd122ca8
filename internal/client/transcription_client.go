package client

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/studiocast/studio/internal/config"
	"github.com/studiocast/studio/internal/subtitle"
)

// Transcriber turns one camera's audio into timed segments
type Transcriber interface {
	Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResult, error)
}

// TranscriptionRequest names the media to transcribe
type TranscriptionRequest struct {
	MediaURL   string
	Language   string
	DurationMs int64
	Angle      string
}

// Segment is one recognized span in media time
type Segment struct {
	StartMs    int64
	EndMs      int64
	Text       string
	Confidence float64
}

// TranscriptionResult is the recognizer output
type TranscriptionResult struct {
	Language string
	Segments []Segment
}

// GroqClient handles communication with the Groq speech-to-text API
type GroqClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// verboseTranscription is the verbose_json response body
type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID           int     `json:"id"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		Text         string  `json:"text"`
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// NewGroqClient creates a new Groq API client
func NewGroqClient(cfg *config.GroqConfig) *GroqClient {
	return &GroqClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Transcribe sends the media URL to Whisper and converts the segments
func (c *GroqClient) Transcribe(ctx context.Context, tr *TranscriptionRequest) (*TranscriptionResult, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := [][2]string{
		{"model", c.model},
		{"url", tr.MediaURL},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
	}
	if tr.Language != "" {
		fields = append(fields, [2]string{"language", tr.Language})
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp verboseTranscription
	if err := do(c.httpClient, "groq API", req, &resp); err != nil {
		return nil, err
	}

	result := &TranscriptionResult{Language: resp.Language}
	if result.Language == "" {
		result.Language = tr.Language
	}
	for _, s := range resp.Segments {
		result.Segments = append(result.Segments, Segment{
			StartMs:    subtitle.SecondsToMs(s.Start),
			EndMs:      subtitle.SecondsToMs(s.End),
			Text:       strings.TrimSpace(s.Text),
			Confidence: LogprobConfidence(s.AvgLogprob),
		})
	}
	return result, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != ""
}

// LogprobConfidence maps an average token log-probability onto [0,1]
func LogprobConfidence(avgLogprob float64) float64 {
	if math.IsNaN(avgLogprob) {
		return 0
	}
	p := math.Exp(avgLogprob)
	if p > 1 {
		return 1
	}
	return p
}

// MockTranscriber produces deterministic filler speech for development
type MockTranscriber struct {
	SegmentMs int64
}

var mockPhrases = []string{
	"Welcome back to the studio",
	"Let's take it from the top",
	"That camera angle looks great",
	"Can we get a little more light here",
	"Okay, rolling on three",
	"Nice, let's keep that take",
}

// mockMaxSegments bounds mock output for very long recordings
const mockMaxSegments = 500

func (m MockTranscriber) Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResult, error) {
	step := m.SegmentMs
	if step <= 0 {
		step = 4000
	}
	language := req.Language
	if language == "" {
		language = "en"
	}

	result := &TranscriptionResult{Language: language}
	for i, start := 0, int64(0); start < req.DurationMs && i < mockMaxSegments; i, start = i+1, start+step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + step - step/5
		if end > req.DurationMs {
			end = req.DurationMs
		}
		result.Segments = append(result.Segments, Segment{
			StartMs:    start,
			EndMs:      end,
			Text:       mockPhrases[i%len(mockPhrases)],
			Confidence: 0.55 + float64(i%5)*0.1,
		})
	}
	return result, nil
}

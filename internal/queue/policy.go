package queue

import (
	"math"
	"time"

	"github.com/studiocast/studio/internal/model"
)

// Defaults for the retry and timeout policy
const (
	DefaultMaxRetry    = 3
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffCap  = 2 * time.Minute
	DefaultRetention   = 24 * time.Hour
	DefaultCancelPoll  = time.Second
	DefaultCancelGrace = 15 * time.Second
	DefaultJobTimeout  = 10 * time.Minute
)

// Policy controls retries, timeouts and how long finished tasks are kept
type Policy struct {
	MaxRetry    int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Retention   time.Duration
	Timeouts    map[model.JobType]time.Duration
}

// DefaultPolicy returns the production policy
func DefaultPolicy() Policy {
	return Policy{
		MaxRetry:    DefaultMaxRetry,
		BackoffBase: DefaultBackoffBase,
		BackoffCap:  DefaultBackoffCap,
		Retention:   DefaultRetention,
		Timeouts: map[model.JobType]time.Duration{
			model.JobTypeSync:       10 * time.Minute,
			model.JobTypeEDL:        time.Minute,
			model.JobTypeTranscript: 30 * time.Minute,
			model.JobTypeRender:     60 * time.Minute,
		},
	}
}

// Timeout returns the execution limit for a job type
func (p Policy) Timeout(t model.JobType) time.Duration {
	if d, ok := p.Timeouts[t]; ok && d > 0 {
		return d
	}
	return DefaultJobTimeout
}

// Backoff returns the delay before retry n (0 based): base*2^n capped
func (p Policy) Backoff(n int) time.Duration {
	base := p.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	limit := p.BackoffCap
	if limit <= 0 {
		limit = DefaultBackoffCap
	}
	if n < 0 {
		n = 0
	}
	if n > 30 {
		return limit
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(n)))
	if d > limit {
		return limit
	}
	return d
}

// QueueName is the asynq queue a job type runs on
func QueueName(t model.JobType) string {
	return string(t)
}

// QueueWeights are the asynq queue priorities
func QueueWeights() map[string]int {
	return map[string]int{
		QueueName(model.JobTypeRender):     4,
		QueueName(model.JobTypeTranscript): 3,
		QueueName(model.JobTypeSync):       2,
		QueueName(model.JobTypeEDL):        1,
	}
}

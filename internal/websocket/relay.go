package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/studiocast/studio/internal/model"
)

// JobChannel is the Redis pub/sub channel carrying job updates
const JobChannel = "studio:jobs:updates"

// Relay carries job updates from worker processes to the API process over
// Redis pub/sub. It is the queue's notifier in every process; the API
// process also runs Subscribe to feed its hub.
type Relay struct {
	redis  *redis.Client
	logger hclog.Logger
}

func NewRelay(rdb *redis.Client, logger hclog.Logger) *Relay {
	return &Relay{redis: rdb, logger: logger.Named("relay")}
}

// JobUpdated publishes the job record
func (r *Relay) JobUpdated(job *model.Job) {
	data, err := json.Marshal(job)
	if err != nil {
		r.logger.Error("failed to marshal job", "job_id", job.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.redis.Publish(ctx, JobChannel, data).Err(); err != nil {
		r.logger.Warn("failed to publish job update", "job_id", job.ID, "error", err)
	}
}

// Subscribe forwards published updates to hub until ctx is done
func (r *Relay) Subscribe(ctx context.Context, hub *Hub) error {
	sub := r.redis.Subscribe(ctx, JobChannel)
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var job model.Job
			if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
				r.logger.Warn("dropping malformed job update", "error", err)
				continue
			}
			hub.JobUpdated(&job)
		}
	}
}

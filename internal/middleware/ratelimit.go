package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/studiocast/studio/pkg/response"
)

// RateLimiter counts requests per user in fixed Redis windows
type RateLimiter struct {
	redis  *redis.Client
	logger hclog.Logger
}

func NewRateLimiter(redisClient *redis.Client, logger hclog.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, logger: logger.Named("ratelimit")}
}

// Limit allows maxRequests per user per window. A non-positive max disables it.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || maxRequests <= 0 || rl.redis == nil {
			return c.Next()
		}

		key := fmt.Sprintf("studio:ratelimit:%s:%s", keyPrefix, userID)
		ctx := c.UserContext()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// fail open
			rl.logger.Warn("rate limit check failed", "key", key, "error", err)
			return c.Next()
		}
		if count == 1 {
			if err := rl.redis.Expire(ctx, key, window).Err(); err != nil {
				rl.logger.Warn("failed to set rate limit window", "key", key, "error", err)
			}
		}

		if count > int64(maxRequests) {
			ttl, err := rl.redis.TTL(ctx, key).Result()
			if err != nil || ttl < 0 {
				ttl = window
			}
			c.Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(maxRequests-int(count)))

		return c.Next()
	}
}

// ComputeLimit guards sync, edl and transcript triggers
func (rl *RateLimiter) ComputeLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("compute", maxPerHour, time.Hour)
}

// RenderLimit guards render triggers and retries
func (rl *RateLimiter) RenderLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("render", maxPerHour, time.Hour)
}

package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/studiocast/studio/internal/client"
	"github.com/studiocast/studio/internal/store"
)

type HealthHandler struct {
	store store.Store
	media client.MediaProcessor
}

func NewHealthHandler(st store.Store, media client.MediaProcessor) *HealthHandler {
	return &HealthHandler{store: st, media: media}
}

// Check handles GET /health. The store is required; the media service only
// degrades the status since jobs retry against it.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	result := fiber.Map{"status": "ok", "store": "ok", "media": "ok"}
	status := fiber.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		result["store"] = err.Error()
		result["status"] = "unavailable"
		status = fiber.StatusServiceUnavailable
	}
	if h.media != nil {
		if err := h.media.HealthCheck(ctx); err != nil {
			result["media"] = err.Error()
			if status == fiber.StatusOK {
				result["status"] = "degraded"
			}
		}
	}
	return c.Status(status).JSON(result)
}

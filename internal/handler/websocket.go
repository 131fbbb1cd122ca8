package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/studiocast/studio/internal/service"
	ws "github.com/studiocast/studio/internal/websocket"
	"github.com/studiocast/studio/pkg/response"
)

type WebSocketHandler struct {
	hub  *ws.Hub
	jobs *service.JobService
}

func NewWebSocketHandler(hub *ws.Hub, jobs *service.JobService) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, jobs: jobs}
}

// Upgrade checks the job exists before switching protocols, and stashes its
// current state as the first message
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	job, err := h.jobs.Get(c.Context(), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}
	if msg, err := ws.Message(job); err == nil {
		c.Locals("initial", msg)
	}
	return c.Next()
}

// Stream handles GET /ws/jobs/:jobId
func (h *WebSocketHandler) Stream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		initial, _ := c.Locals("initial").([]byte)
		h.hub.HandleConnection(c, c.Params("jobId"), initial)
	})
}

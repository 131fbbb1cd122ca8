package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/studiocast/studio/internal/middleware"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/service"
	"github.com/studiocast/studio/pkg/response"
)

type TranscriptHandler struct {
	service   *service.TranscriptService
	validator *validator.Validate
}

func NewTranscriptHandler(svc *service.TranscriptService, v *validator.Validate) *TranscriptHandler {
	return &TranscriptHandler{service: svc, validator: v}
}

// Compute handles POST /api/sessions/:sessionId/transcript/compute
func (h *TranscriptHandler) Compute(c *fiber.Ctx) error {
	var req model.TranscriptComputeRequest
	if err := bindOptional(c, h.validator, &req); err != nil {
		return response.FromError(c, err)
	}

	job, err := h.service.Compute(c.Context(), c.Params("sessionId"), req.Angle, req.Language, middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return jobAccepted(c, job)
}

// Search handles GET /api/sessions/:sessionId/transcript/search?q=
func (h *TranscriptHandler) Search(c *fiber.Ctx) error {
	result, err := h.service.Search(c.Context(), c.Params("sessionId"), c.Query("q"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Get handles GET /api/sessions/:sessionId/transcript/:angle
func (h *TranscriptHandler) Get(c *fiber.Ctx) error {
	t, err := h.service.Get(c.Context(), c.Params("sessionId"), c.Params("angle"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, t)
}

// SRT handles GET /api/sessions/:sessionId/transcript/:angle/srt
func (h *TranscriptHandler) SRT(c *fiber.Ctx) error {
	body, err := h.service.SRT(c.Context(), c.Params("sessionId"), c.Params("angle"))
	if err != nil {
		return response.FromError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/x-subrip; charset=utf-8")
	return c.SendString(body)
}

// VTT handles GET /api/sessions/:sessionId/transcript/:angle/vtt
func (h *TranscriptHandler) VTT(c *fiber.Ctx) error {
	body, err := h.service.VTT(c.Context(), c.Params("sessionId"), c.Params("angle"))
	if err != nil {
		return response.FromError(c, err)
	}
	c.Set(fiber.HeaderContentType, "text/vtt; charset=utf-8")
	return c.SendString(body)
}

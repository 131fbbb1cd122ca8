package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/studiocast/studio/internal/middleware"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/service"
	"github.com/studiocast/studio/pkg/response"
)

type RenderHandler struct {
	service   *service.RenderService
	validator *validator.Validate
}

func NewRenderHandler(svc *service.RenderService, v *validator.Validate) *RenderHandler {
	return &RenderHandler{service: svc, validator: v}
}

// Trigger handles POST /api/sessions/:sessionId/render/trigger
func (h *RenderHandler) Trigger(c *fiber.Ctx) error {
	var req model.RenderTriggerRequest
	if err := bindOptional(c, h.validator, &req); err != nil {
		return response.FromError(c, err)
	}

	job, err := h.service.Trigger(c.Context(), c.Params("sessionId"), req.Format, middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return jobAccepted(c, job)
}

// Progress handles GET /api/render/:jobId/progress
func (h *RenderHandler) Progress(c *fiber.Ctx) error {
	result, err := h.service.Progress(c.Context(), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Retry handles POST /api/render/:jobId/retry
func (h *RenderHandler) Retry(c *fiber.Ctx) error {
	job, err := h.service.Retry(c.Context(), c.Params("jobId"), middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return jobAccepted(c, job)
}

// Cancel handles POST /api/render/:jobId/cancel
func (h *RenderHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.Context(), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

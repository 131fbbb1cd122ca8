package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/studiocast/studio/internal/middleware"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/service"
	"github.com/studiocast/studio/pkg/response"
)

type SyncHandler struct {
	service   *service.SyncService
	validator *validator.Validate
}

func NewSyncHandler(svc *service.SyncService, v *validator.Validate) *SyncHandler {
	return &SyncHandler{service: svc, validator: v}
}

// Compute handles POST /api/sessions/:sessionId/sync/compute
func (h *SyncHandler) Compute(c *fiber.Ctx) error {
	var req model.SyncComputeRequest
	if err := bindOptional(c, h.validator, &req); err != nil {
		return response.FromError(c, err)
	}

	job, err := h.service.Compute(c.Context(), c.Params("sessionId"), req.Method, middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return jobAccepted(c, job)
}

// Get handles GET /api/sessions/:sessionId/sync
func (h *SyncHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.Get(c.Context(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Approve handles POST /api/sessions/:sessionId/sync/approve
func (h *SyncHandler) Approve(c *fiber.Ctx) error {
	var req model.ApproveSyncRequest
	if err := bind(c, h.validator, &req); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.service.Approve(c.Context(), c.Params("sessionId"), req.Angle)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Correct handles POST /api/sessions/:sessionId/sync/correct
func (h *SyncHandler) Correct(c *fiber.Ctx) error {
	var req model.CorrectSyncRequest
	if err := bind(c, h.validator, &req); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.service.Correct(c.Context(), c.Params("sessionId"), req.Angle, *req.OffsetMs)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/studiocast/studio/internal/middleware"
	"github.com/studiocast/studio/internal/service"
	"github.com/studiocast/studio/pkg/response"
)

type JobHandler struct {
	service *service.JobService
}

func NewJobHandler(svc *service.JobService) *JobHandler {
	return &JobHandler{service: svc}
}

// Get handles GET /api/jobs/:jobId
func (h *JobHandler) Get(c *fiber.Ctx) error {
	job, err := h.service.Get(c.Context(), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, job)
}

// Retry handles POST /api/jobs/:jobId/retry
func (h *JobHandler) Retry(c *fiber.Ctx) error {
	job, err := h.service.Retry(c.Context(), c.Params("jobId"), middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return jobAccepted(c, job)
}

// Cancel handles POST /api/jobs/:jobId/cancel
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.Context(), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

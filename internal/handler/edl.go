package handler

import (
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/middleware"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/service"
	"github.com/studiocast/studio/pkg/response"
)

type EDLHandler struct {
	service   *service.EDLService
	validator *validator.Validate
}

func NewEDLHandler(svc *service.EDLService, v *validator.Validate) *EDLHandler {
	return &EDLHandler{service: svc, validator: v}
}

// Generate handles POST /api/sessions/:sessionId/edl/generate
func (h *EDLHandler) Generate(c *fiber.Ctx) error {
	job, err := h.service.Generate(c.Context(), c.Params("sessionId"), middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return jobAccepted(c, job)
}

// Get handles GET /api/sessions/:sessionId/edl?version=
func (h *EDLHandler) Get(c *fiber.Ctx) error {
	version := 0
	if raw := c.Query("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return response.FromError(c, apperr.Validation("Invalid version", fmt.Sprintf("version %q is not a number", raw)))
		}
		version = v
	}

	e, err := h.service.Get(c.Context(), c.Params("sessionId"), version)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, e)
}

// Versions handles GET /api/sessions/:sessionId/edl/versions
func (h *EDLHandler) Versions(c *fiber.Ctx) error {
	versions, err := h.service.History(c.Context(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"versions": versions})
}

// UpdateCuts handles PUT /api/sessions/:sessionId/edl/cuts
func (h *EDLHandler) UpdateCuts(c *fiber.Ctx) error {
	var req model.UpdateCutsRequest
	if err := bind(c, h.validator, &req); err != nil {
		return response.FromError(c, err)
	}

	e, err := h.service.UpdateCuts(c.Context(), c.Params("sessionId"), req.BaseVersion, req.Cuts, middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, e)
}

// UpdateChapters handles PUT /api/sessions/:sessionId/edl/chapters
func (h *EDLHandler) UpdateChapters(c *fiber.Ctx) error {
	var req model.UpdateChaptersRequest
	if err := bind(c, h.validator, &req); err != nil {
		return response.FromError(c, err)
	}

	e, err := h.service.UpdateChapters(c.Context(), c.Params("sessionId"), req.BaseVersion, req.Chapters, middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, e)
}

// Lock handles POST /api/sessions/:sessionId/edl/lock
func (h *EDLHandler) Lock(c *fiber.Ctx) error {
	e, err := h.service.Lock(c.Context(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, e)
}

// Unlock handles POST /api/sessions/:sessionId/edl/unlock
func (h *EDLHandler) Unlock(c *fiber.Ctx) error {
	e, err := h.service.Unlock(c.Context(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, e)
}

// Export handles GET /api/sessions/:sessionId/edl/export?format=
func (h *EDLHandler) Export(c *fiber.Ctx) error {
	format := model.EDLFormat(c.Query("format", string(model.EDLFormatJSON)))
	sessionID := c.Params("sessionId")

	body, contentType, err := h.service.Export(c.Context(), sessionID, format)
	if err != nil {
		return response.FromError(c, err)
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, exportFilename(sessionID, format)))
	return c.Send(body)
}

func exportFilename(sessionID string, format model.EDLFormat) string {
	switch format {
	case model.EDLFormatCMX3600:
		return sessionID + ".edl"
	case model.EDLFormatChapters:
		return sessionID + "-chapters.txt"
	default:
		return sessionID + "-edl.json"
	}
}

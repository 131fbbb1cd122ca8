package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/studiocast/studio/internal/middleware"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/internal/service"
	"github.com/studiocast/studio/pkg/response"
)

type SessionHandler struct {
	service   *service.SessionService
	validator *validator.Validate
}

func NewSessionHandler(svc *service.SessionService, v *validator.Validate) *SessionHandler {
	return &SessionHandler{service: svc, validator: v}
}

// Create handles POST /api/sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	var req model.CreateSessionRequest
	if err := bind(c, h.validator, &req); err != nil {
		return response.FromError(c, err)
	}

	session, err := h.service.Create(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, session)
}

// List handles GET /api/sessions
func (h *SessionHandler) List(c *fiber.Ctx) error {
	result, err := h.service.List(c.Context())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Get handles GET /api/sessions/:sessionId
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	session, err := h.service.Get(c.Context(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, session)
}

// Archive handles DELETE /api/sessions/:sessionId
func (h *SessionHandler) Archive(c *fiber.Ctx) error {
	session, err := h.service.Archive(c.Context(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, session)
}

// AddCamera handles POST /api/sessions/:sessionId/cameras
func (h *SessionHandler) AddCamera(c *fiber.Ctx) error {
	var req model.CameraRequest
	if err := bind(c, h.validator, &req); err != nil {
		return response.FromError(c, err)
	}

	session, err := h.service.AddCamera(c.Context(), c.Params("sessionId"), &req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, session)
}

// SetAnchor handles PUT /api/sessions/:sessionId/anchor
func (h *SessionHandler) SetAnchor(c *fiber.Ctx) error {
	var req model.SetAnchorRequest
	if err := bind(c, h.validator, &req); err != nil {
		return response.FromError(c, err)
	}

	session, err := h.service.SetAnchor(c.Context(), c.Params("sessionId"), req.Angle)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, session)
}

// MarkUploaded handles POST /api/sessions/:sessionId/uploaded
func (h *SessionHandler) MarkUploaded(c *fiber.Ctx) error {
	session, err := h.service.MarkUploaded(c.Context(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, session)
}

// StartEditing handles POST /api/sessions/:sessionId/editing
func (h *SessionHandler) StartEditing(c *fiber.Ctx) error {
	session, err := h.service.StartEditing(c.Context(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, session)
}

// Abandon handles POST /api/sessions/:sessionId/abandon
func (h *SessionHandler) Abandon(c *fiber.Ctx) error {
	session, err := h.service.Abandon(c.Context(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, session)
}

// SetOperatorStatus handles PUT /api/sessions/:sessionId/operator-status
func (h *SessionHandler) SetOperatorStatus(c *fiber.Ctx) error {
	var req model.OperatorStatusRequest
	if err := bind(c, h.validator, &req); err != nil {
		return response.FromError(c, err)
	}

	session, err := h.service.SetOperatorStatus(c.Context(), c.Params("sessionId"), req.OperatorStatus)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, session)
}

// Jobs handles GET /api/sessions/:sessionId/jobs
func (h *SessionHandler) Jobs(c *fiber.Ctx) error {
	jobs, err := h.service.Jobs(c.Context(), c.Params("sessionId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"jobs": jobs})
}

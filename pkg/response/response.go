package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/studiocast/studio/internal/apperr"
)

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeServiceError    = "SERVICE_ERROR"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code        string      `json:"code"`
	Message     string      `json:"message"`
	Details     interface{} `json:"details,omitempty"`
	ActiveJobID string      `json:"activeJobId,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, CodeForbidden, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

// Conflict reports a state conflict, naming the job holding the slot when there is one
func Conflict(c *fiber.Ctx, message, activeJobID string) error {
	return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:        CodeConflict,
			Message:     message,
			ActiveJobID: activeJobID,
		},
	})
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func Unavailable(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusServiceUnavailable, CodeUnavailable, message, nil)
}

// FromError writes the response for an error returned by a service
func FromError(c *fiber.Ctx, err error) error {
	var validation *apperr.ValidationError
	var conflict *apperr.ConflictError
	var transient *apperr.TransientError

	switch {
	case errors.As(err, &validation):
		var details interface{}
		if len(validation.Details) > 0 {
			details = validation.Details
		}
		return ValidationError(c, validation.Reason, details)
	case errors.As(err, &conflict):
		return Conflict(c, conflict.Reason, conflict.ActiveJobID)
	case apperr.IsNotFound(err):
		return NotFound(c, err.Error())
	case errors.As(err, &transient):
		return Unavailable(c, err.Error())
	default:
		return ServiceError(c, "Internal server error")
	}
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

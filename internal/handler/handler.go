// Package handler exposes the pipeline over HTTP
package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/studiocast/studio/internal/apperr"
	"github.com/studiocast/studio/internal/model"
	"github.com/studiocast/studio/pkg/response"
)

// bind parses the JSON body into req and validates it
func bind(c *fiber.Ctx, v *validator.Validate, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return apperr.Validation("Invalid request body")
	}
	if err := v.Struct(req); err != nil {
		return apperr.Validation("Validation failed", formatValidationErrors(err)...)
	}
	return nil
}

// bindOptional is bind for endpoints whose body may be omitted
func bindOptional(c *fiber.Ctx, v *validator.Validate, req interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return bind(c, v, req)
}

func formatValidationErrors(err error) []string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []string{err.Error()}
	}
	details := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := e.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if e.Param() != "" {
			details = append(details, fmt.Sprintf("%s: %s=%s", field, e.Tag(), e.Param()))
		} else {
			details = append(details, fmt.Sprintf("%s: %s", field, e.Tag()))
		}
	}
	return details
}

func jobAccepted(c *fiber.Ctx, job *model.Job) error {
	return response.Accepted(c, model.JobAcceptedResponse{
		JobID:     job.ID,
		SessionID: job.SessionID,
		Type:      job.Type,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	})
}

// NewValidator returns the validator used for request bodies, reporting
// fields by their JSON names
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

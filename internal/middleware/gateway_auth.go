package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/studiocast/studio/internal/auth"
	"github.com/studiocast/studio/pkg/response"
)

// Identity headers set by the gateway once it has authorized the caller
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// GatewayAuthMiddleware trusts the gateway's identity headers and fills the
// same locals as bearer authentication, claims included
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(HeaderUserID))
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		setIdentity(c, &auth.Claims{
			UserID: userID,
			Email:  strings.TrimSpace(c.Get(HeaderUserEmail)),
			Name:   strings.TrimSpace(c.Get(HeaderUserName)),
		})
		return c.Next()
	}
}

package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by the auth middlewares.
const (
	LocalUserID         = "user_id"
	LocalUserRoles      = "user_roles"
	LocalDeviceID       = "device_id"
	LocalOTPNotRequired = "otp_not_required"
)

// UserContextMiddleware extracts the identity and roles the gateway forwards as headers.
// Routes under /s/ require a user id.
func UserContextMiddleware(log *slog.Logger) fiber.Handler {
	log = log.With("component", "user_ctx")

	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")

		path := c.Path()
		if strings.HasPrefix(path, "/s/") && userID == "" {
			log.Warn("❌ X-User-ID required but missing on secured route", "path", path)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID: request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalUserRoles, roles)
		c.Locals(LocalOTPNotRequired, strings.EqualFold(c.Get("X-Otp-Not-Required"), "true"))

		log.Debug("👤 user context", "user_id", userID, "roles", roles, "path", path)
		return c.Next()
	}
}

// RequireUser rejects requests without a user id in context.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id, _ := c.Locals(LocalUserID).(string); id == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user context"})
		}
		return c.Next()
	}
}

// RequireAdmin lets through only users carrying the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals(LocalUserRoles).([]string)
		for _, r := range roles {
			if strings.EqualFold(r, "admin") {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
	}
}

package middleware

import (
	"context"
	"log/slog"
	"strings"

	"progression-engine/services"

	"github.com/gofiber/fiber/v2"
)

// TokenValidator checks an end-user access token for a device.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken, deviceID string) (*services.ValidateResponse, error)
}

// SSEAuthMiddleware validates `token` and `device_id` query params, since an
// EventSource cannot send the gateway headers.
//
//	app.Get("/user/notifications/stream", middleware.SSEAuthMiddleware(authClient, log), streamer.StreamUserNotificationsSSE)
func SSEAuthMiddleware(validator TokenValidator, log *slog.Logger) fiber.Handler {
	log = log.With("component", "sse_auth")

	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))

		if accessToken == "" || deviceID == "" {
			log.Warn("❌ missing query params", "path", c.Path(), "has_token", accessToken != "", "device_id", deviceID)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing token or device_id in query",
			})
		}

		resp, err := validator.ValidateToken(c.UserContext(), accessToken, deviceID)
		if err != nil {
			log.Warn("❌ token validation failed", "device_id", deviceID, "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		c.Locals(LocalUserID, resp.UserID)
		c.Locals(LocalDeviceID, resp.DeviceID)
		c.Locals(LocalOTPNotRequired, resp.OTPNotRequiredForDevice)
		c.Locals(LocalUserRoles, resp.Roles)

		log.Info("✅ authenticated stream", "user_id", resp.UserID, "device_id", resp.DeviceID)
		return c.Next()
	}
}

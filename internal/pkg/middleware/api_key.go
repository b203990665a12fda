package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// LocalAdminActor holds the operator name for audit fields.
const LocalAdminActor = "ADMIN_ACTOR"

// AdminAPIKeyMiddleware guards admin routes with a shared key sent as
// X-API-Key or bearer token. Websocket handshakes may pass it as the
// api_key query value instead. An empty key disables the admin surface.
func AdminAPIKeyMiddleware(adminKey string) fiber.Handler {
	adminKey = strings.TrimSpace(adminKey)
	if adminKey == "" {
		log.Warn("[Admin] ADMIN_API_KEY is not set, admin API is disabled")
	}
	return func(c *fiber.Ctx) error {
		if adminKey == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "admin_disabled", "message": "Admin API is not configured"})
		}
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(adminKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		actor := strings.TrimSpace(c.Get("X-Admin-Actor"))
		if actor == "" {
			actor = "admin"
		}
		c.Locals(LocalAdminActor, actor)
		return c.Next()
	}
}

// AdminActor returns the operator name set by AdminAPIKeyMiddleware.
func AdminActor(c *fiber.Ctx) string {
	if v, ok := c.Locals(LocalAdminActor).(string); ok && v != "" {
		return v
	}
	return "admin"
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if websocket.IsWebSocketUpgrade(c) {
		return strings.TrimSpace(c.Query("api_key"))
	}
	return ""
}

package realtime

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// RequireUpgrade rejects plain HTTP requests on websocket routes.
func RequireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "upgrade_required", "message": "Websocket upgrade expected"})
	}
	return c.Next()
}

// AdminHandler streams every event.
func (h *Hub) AdminHandler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		h.Serve(c, AdminTopic)
	})
}

// MemberHandler streams the events of the member in the :id route param.
func (h *Hub) MemberHandler() fiber.Handler {
	upgrade := websocket.New(func(c *websocket.Conn) {
		h.Serve(c, c.Params("id"))
	})
	return func(c *fiber.Ctx) error {
		memberID := strings.TrimSpace(c.Params("id"))
		if memberID == "" || memberID == AdminTopic {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "member id missing"})
		}
		return upgrade(c)
	}
}

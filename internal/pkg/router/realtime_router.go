package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/middleware"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/realtime"
)

type RealtimeRouter struct {
	hub      *realtime.Hub
	adminKey string
}

func (h RealtimeRouter) InstallRouter(app *fiber.App) {
	if h.hub == nil {
		return
	}
	ws := app.Group("/ws", middleware.AdminAPIKeyMiddleware(h.adminKey), realtime.RequireUpgrade)
	ws.Get("/admin", h.hub.AdminHandler())
	ws.Get("/members/:id", h.hub.MemberHandler())
}

func NewRealtimeRouter(hub *realtime.Hub, adminKey string) *RealtimeRouter {
	return &RealtimeRouter{hub: hub, adminKey: adminKey}
}

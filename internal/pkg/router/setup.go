package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Kassenwart/app/controllers"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, deps controllers.Deps, adminKey string) {
	// Webhooks first: they are not rate limited like the API group.
	setup(app,
		NewWebhookRouter(deps),
		NewApiRouter(deps, adminKey),
		NewRealtimeRouter(deps.Hub, adminKey),
	)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

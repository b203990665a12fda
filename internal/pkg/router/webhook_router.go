package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Kassenwart/app/controllers"
)

type WebhookRouter struct {
	webhooks *controllers.WebhookController
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/:provider", h.webhooks.HandleWebhook)
}

func NewWebhookRouter(deps controllers.Deps) *WebhookRouter {
	return &WebhookRouter{webhooks: controllers.NewWebhookController(deps.Billing)}
}

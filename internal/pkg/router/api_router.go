package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/Kassenwart/app/controllers"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/middleware"
)

type ApiRouter struct {
	deps     controllers.Deps
	adminKey string
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    h.deps.RateLimitStorage,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Get("/ping", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
	})

	queries := controllers.NewQueryController(h.deps.Repos)
	payments := controllers.NewPaymentController(h.deps.Billing)

	v1.Get("/invoices/:id", queries.HandleGetInvoice)
	v1.Get("/invoices/:id/payments", queries.HandleListInvoicePayments)
	v1.Post("/invoices/:id/payments", payments.HandleStartPayment)
	v1.Get("/members/:id/invoices", queries.HandleListMemberInvoices)
	v1.Get("/members/:id/debt", queries.HandleGetMemberDebt)

	admin := controllers.NewAdminController(h.deps)
	adminGroup := v1.Group("/admin", middleware.AdminAPIKeyMiddleware(h.adminKey))
	adminGroup.Post("/invoices", admin.HandleIssueInvoice)
	adminGroup.Post("/invoices/:id/mark-paid", admin.HandleMarkPaid)
	adminGroup.Get("/review-items", admin.HandleListReviewItems)
	adminGroup.Post("/review-items/:id/resolve", admin.HandleResolveReviewItem)
	adminGroup.Post("/sweeps/:kind", admin.HandleRunSweep)
	adminGroup.Get("/stats", admin.HandleStats)
	adminGroup.Post("/members/:id/recalculate-debt", admin.HandleRecalculateDebt)
	adminGroup.Get("/webhooks/failed", admin.HandleListFailedWebhooks)
	adminGroup.Post("/webhooks/:id/replay", admin.HandleReplayWebhook)
	adminGroup.Get("/events/recent", admin.HandleRecentEvents)
}

func NewApiRouter(deps controllers.Deps, adminKey string) *ApiRouter {
	return &ApiRouter{deps: deps, adminKey: adminKey}
}

package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/billing"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/settlement"
)

// WebhookController receives provider callbacks.
type WebhookController struct {
	billing *billing.Service
}

func NewWebhookController(svc *billing.Service) *WebhookController {
	return &WebhookController{billing: svc}
}

// HandleWebhook answers 2xx once a delivery is durably handled, 503 for
// transient failures so the provider redelivers, and 4xx for deliveries
// that will never succeed.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	provider := c.Params("provider")
	rawBody := append([]byte(nil), c.BodyRaw()...)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := wc.billing.HandleWebhook(ctx, billing.WebhookRequest{
		Provider: provider,
		Payload:  rawBody,
		Header:   func(k string) string { return c.Get(k) },
		Query:    func(k string) string { return c.Query(k) },
	})
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownProvider):
			return jsonError(c, fiber.StatusNotFound, "unknown_provider", err.Error())
		case errors.Is(err, billing.ErrInvalidSignature):
			return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "Webhook signature verification failed")
		case errors.Is(err, billing.ErrInvalidPayload):
			return jsonError(c, fiber.StatusBadRequest, "invalid_payload", err.Error())
		case errors.Is(err, settlement.ErrInvoiceNotFound):
			// Queued for review; redelivery cannot fix it.
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": false, "error": "invoice_not_found"})
		case settlement.IsTransient(err):
			log.Warnf("[Webhook] transient failure for %s delivery: %v", provider, err)
			return jsonError(c, fiber.StatusServiceUnavailable, "temporarily_unavailable", "Please retry")
		default:
			log.Errorf("[Webhook] %s delivery failed: %v", provider, err)
			return jsonError(c, fiber.StatusInternalServerError, "webhook_processing_failed", "Webhook processing failed")
		}
	}

	if res.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true, "outcome": res.Outcome})
	}
	status := fiber.StatusOK
	if res.Outcome == billing.OutcomeQueuedForReview {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{
		"ok":         true,
		"outcome":    res.Outcome,
		"invoice_id": res.InvoiceID,
		"payment_id": res.PaymentID,
	})
}

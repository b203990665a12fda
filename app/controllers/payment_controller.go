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

// PaymentController opens payment attempts for members.
type PaymentController struct {
	billing *billing.Service
}

func NewPaymentController(svc *billing.Service) *PaymentController {
	return &PaymentController{billing: svc}
}

type startPaymentRequest struct {
	Provider          string `json:"provider" validate:"required,oneof=paypal mercadopago bank_transfer"`
	ExternalReference string `json:"external_reference" validate:"omitempty,max=191"`
}

// HandleStartPayment creates a pending payment the provider will later
// confirm through its webhook.
func (pc *PaymentController) HandleStartPayment(c *fiber.Ctx) error {
	var req startPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payment, err := pc.billing.StartPayment(ctx, c.Params("id"), req.Provider, req.ExternalReference)
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrInvoiceNotFound):
			return jsonError(c, fiber.StatusNotFound, "invoice_not_found", "Invoice not found")
		case errors.Is(err, billing.ErrInvoiceAlreadyPaid):
			return jsonError(c, fiber.StatusConflict, "invoice_already_paid", "Invoice is already paid")
		case errors.Is(err, billing.ErrUnknownProvider):
			return jsonError(c, fiber.StatusBadRequest, "unknown_provider", err.Error())
		default:
			log.Errorf("[Payments] start payment for invoice %s failed: %v", c.Params("id"), err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not start payment")
		}
	}
	return c.Status(fiber.StatusCreated).JSON(payment)
}

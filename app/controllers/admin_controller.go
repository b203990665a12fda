package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/Kassenwart/app/models"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/billing"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/middleware"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/settlement"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/sweeper"
)

// ============================================================================
// ADMIN CONTROLLER - operator actions and review queue
// ============================================================================

type AdminController struct {
	deps Deps
}

func NewAdminController(deps Deps) *AdminController {
	return &AdminController{deps: deps}
}

type issueInvoiceRequest struct {
	InvoiceID  string          `json:"invoice_id" validate:"omitempty,max=64"`
	MemberID   string          `json:"member_id" validate:"required,max=64"`
	MemberName string          `json:"member_name" validate:"omitempty,max=255"`
	Period     string          `json:"period" validate:"required,max=32"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency" validate:"omitempty,len=3"`
	DueDate    time.Time       `json:"due_date" validate:"required"`
}

// HandleIssueInvoice creates a pending invoice and raises the member debt.
func (ac *AdminController) HandleIssueInvoice(c *fiber.Ctx) error {
	var req issueInvoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inv, err := ac.deps.Engine.IssueInvoice(ctx, settlement.IssueInvoiceInput{
		InvoiceID:  req.InvoiceID,
		MemberID:   req.MemberID,
		MemberName: req.MemberName,
		Period:     req.Period,
		Amount:     req.Amount,
		Currency:   req.Currency,
		DueDate:    req.DueDate,
	})
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrInvalidInvoice):
			return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
		case errors.Is(err, settlement.ErrInvoiceExists):
			return jsonError(c, fiber.StatusConflict, "invoice_exists", err.Error())
		default:
			log.Errorf("[Admin] issue invoice for member %s failed: %v", req.MemberID, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not issue invoice")
		}
	}
	return c.Status(fiber.StatusCreated).JSON(inv)
}

type markPaidRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// HandleMarkPaid settles an invoice by hand through the manual provider.
func (ac *AdminController) HandleMarkPaid(c *fiber.Ctx) error {
	var req markPaidRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
		}
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	actor := middleware.AdminActor(c)
	res, err := ac.deps.Billing.MarkPaid(ctx, c.Params("id"), actor, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrInvoiceNotFound):
			return jsonError(c, fiber.StatusNotFound, "invoice_not_found", "Invoice not found")
		case errors.Is(err, billing.ErrInvoiceAlreadyPaid):
			return jsonError(c, fiber.StatusConflict, "invoice_already_paid", "Invoice is already paid")
		case settlement.IsTransient(err):
			return jsonError(c, fiber.StatusServiceUnavailable, "temporarily_unavailable", "Please retry")
		default:
			log.Errorf("[Admin] mark paid %s by %s failed: %v", c.Params("id"), actor, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not mark invoice paid")
		}
	}
	log.Infof("[Admin] invoice %s marked paid by %s (%s)", c.Params("id"), actor, res.Outcome)
	return c.JSON(res)
}

// HandleListReviewItems lists the review queue, open items by default.
func (ac *AdminController) HandleListReviewItems(c *fiber.Ctx) error {
	status := c.Query("status", models.ReviewStatusOpen)
	if status == "all" {
		status = ""
	}
	kind := c.Query("kind")
	page, offset, limit := pagination(c)

	repo := ac.deps.Repos.ReviewItem
	items, err := repo.List(status, kind, offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not list review items")
	}
	total, err := repo.Count(status, kind)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not count review items")
	}
	return c.JSON(fiber.Map{"items": items, "page": page, "per_page": limit, "total": total})
}

type resolveReviewRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

func (ac *AdminController) HandleResolveReviewItem(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid review item id")
	}
	var req resolveReviewRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
		}
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}

	repo := ac.deps.Repos.ReviewItem
	ok, err := repo.Resolve(uint(id), middleware.AdminActor(c), req.Note, time.Now().UTC())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not resolve review item")
	}
	if !ok {
		if _, gerr := repo.GetByID(uint(id)); gerr != nil && isNotFound(gerr) {
			return jsonError(c, fiber.StatusNotFound, "review_item_not_found", "Review item not found")
		}
		return jsonError(c, fiber.StatusConflict, "already_resolved", "Review item is already resolved")
	}
	item, err := repo.GetByID(uint(id))
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load review item")
	}
	return c.JSON(item)
}

// HandleRunSweep runs one pass of a sweep synchronously.
func (ac *AdminController) HandleRunSweep(c *fiber.Ctx) error {
	kind := strings.ToLower(c.Params("kind"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	rep, err := ac.deps.Sweeps.RunNow(ctx, kind)
	if err != nil {
		switch {
		case errors.Is(err, sweeper.ErrUnknownSweep):
			return jsonError(c, fiber.StatusNotFound, "unknown_sweep", "kind must be overdue or reconcile")
		case errors.Is(err, sweeper.ErrSweepBusy):
			return jsonError(c, fiber.StatusConflict, "sweep_busy", "Sweep is already running")
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sweep_failed", "message": err.Error(), "report": rep})
		}
	}
	return c.JSON(rep)
}

// HandleRecalculateDebt repairs a member's total debt from open invoices.
func (ac *AdminController) HandleRecalculateDebt(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	memberID := c.Params("id")
	before, after, err := ac.deps.Engine.RecalculateMemberDebt(ctx, memberID)
	if err != nil {
		if errors.Is(err, settlement.ErrMemberNotFound) {
			return jsonError(c, fiber.StatusNotFound, "member_not_found", "Member not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not recalculate debt")
	}
	return c.JSON(fiber.Map{
		"member_id": memberID,
		"before":    before,
		"after":     after,
		"corrected": !before.Equal(after),
	})
}

// HandleListFailedWebhooks lists inbox deliveries that ended with an error.
func (ac *AdminController) HandleListFailedWebhooks(c *fiber.Ctx) error {
	page, offset, limit := pagination(c)
	repo := ac.deps.Repos.WebhookEvent
	items, err := repo.ListFailed(offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not list webhook events")
	}
	total, err := repo.CountFailed()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not count webhook events")
	}
	return c.JSON(fiber.Map{"items": items, "page": page, "per_page": limit, "total": total})
}

// HandleReplayWebhook processes a stored delivery again.
func (ac *AdminController) HandleReplayWebhook(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Invalid webhook event id")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := ac.deps.Billing.ReplayWebhookEvent(ctx, uint(id))
	if err != nil {
		switch {
		case isNotFound(err):
			return jsonError(c, fiber.StatusNotFound, "webhook_event_not_found", "Webhook event not found")
		case errors.Is(err, billing.ErrInvalidSignature):
			return jsonError(c, fiber.StatusConflict, "invalid_signature", "Deliveries with an invalid signature cannot be replayed")
		case errors.Is(err, billing.ErrInvalidPayload):
			return jsonError(c, fiber.StatusUnprocessableEntity, "invalid_payload", err.Error())
		default:
			return jsonError(c, fiber.StatusInternalServerError, "replay_failed", err.Error())
		}
	}
	return c.JSON(res)
}

// HandleStats reports counters, sweep reports and queue sizes.
func (ac *AdminController) HandleStats(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := fiber.Map{}

	if settlementCounts, err := ac.deps.SettlementCounter.Snapshot(ctx); err == nil {
		out["settlement"] = settlementCounts
	} else {
		log.Warnf("[Admin] settlement counters unavailable: %v", err)
	}
	if sweepCounts, err := ac.deps.SweepCounter.Snapshot(ctx); err == nil {
		out["sweep_counters"] = sweepCounts
	}
	if ac.deps.Sweeps != nil {
		out["sweeps"] = ac.deps.Sweeps.Stats()
	}
	if ac.deps.Dispatcher != nil {
		delivered, failed, dropped := ac.deps.Dispatcher.Stats()
		out["events"] = fiber.Map{"delivered": delivered, "failed": failed, "dropped": dropped}
	}

	repos := ac.deps.Repos
	if invoices, err := repos.Invoice.CountByStatus(); err == nil {
		out["invoices"] = invoices
	}
	if payments, err := repos.Payment.CountByStatus(); err == nil {
		out["payments"] = payments
	}
	if open, err := repos.ReviewItem.Count(models.ReviewStatusOpen, ""); err == nil {
		out["open_review_items"] = open
	}
	if failed, err := repos.WebhookEvent.CountFailed(); err == nil {
		out["failed_webhooks"] = failed
	}
	return c.JSON(out)
}

// HandleRecentEvents returns the latest domain events from the Redis
// notification list.
func (ac *AdminController) HandleRecentEvents(c *fiber.Ctx) error {
	if ac.deps.Notifications == nil {
		return c.JSON(fiber.Map{"items": []any{}})
	}
	n, err := strconv.ParseInt(c.Query("limit", "50"), 10, 64)
	if err != nil || n <= 0 || n > 500 {
		n = 50
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recent, err := ac.deps.Notifications.Recent(ctx, n)
	if err != nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "events_unavailable", "Could not read recent events")
	}
	return c.JSON(fiber.Map{"items": recent})
}

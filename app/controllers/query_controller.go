package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Kassenwart/app/models"
	"github.com/ManuelReschke/Kassenwart/app/repository"
)

// QueryController is the read-only surface for member and admin UIs.
type QueryController struct {
	invoiceRepo repository.InvoiceRepository
	paymentRepo repository.PaymentRepository
	memberRepo  repository.MemberRepository
}

func NewQueryController(repos *repository.Repositories) *QueryController {
	return &QueryController{
		invoiceRepo: repos.Invoice,
		paymentRepo: repos.Payment,
		memberRepo:  repos.Member,
	}
}

// HandleListMemberInvoices lists a member's invoices, optionally by status.
func (qc *QueryController) HandleListMemberInvoices(c *fiber.Ctx) error {
	memberID := c.Params("id")
	status := c.Query("status")
	if status != "" && !models.IsValidInvoiceStatus(status) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_status", "status must be pending, overdue or paid")
	}
	page, offset, limit := pagination(c)

	invoices, err := qc.invoiceRepo.ListByMember(memberID, status, offset, limit)
	if err != nil {
		log.Errorf("[Query] list invoices for member %s: %v", memberID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not list invoices")
	}
	total, err := qc.invoiceRepo.CountByMember(memberID, status)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not count invoices")
	}
	return c.JSON(fiber.Map{
		"items":    invoices,
		"page":     page,
		"per_page": limit,
		"total":    total,
	})
}

func (qc *QueryController) HandleGetInvoice(c *fiber.Ctx) error {
	inv, err := qc.invoiceRepo.GetByID(c.Params("id"))
	if err != nil {
		if isNotFound(err) {
			return jsonError(c, fiber.StatusNotFound, "invoice_not_found", "Invoice not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load invoice")
	}
	return c.JSON(inv)
}

// HandleListInvoicePayments lists every payment attempt of an invoice.
func (qc *QueryController) HandleListInvoicePayments(c *fiber.Ctx) error {
	invoiceID := c.Params("id")
	if _, err := qc.invoiceRepo.GetByID(invoiceID); err != nil {
		if isNotFound(err) {
			return jsonError(c, fiber.StatusNotFound, "invoice_not_found", "Invoice not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load invoice")
	}
	payments, err := qc.paymentRepo.ListByInvoice(invoiceID)
	if err != nil {
		log.Errorf("[Query] list payments for invoice %s: %v", invoiceID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not list payments")
	}
	return c.JSON(fiber.Map{"items": payments})
}

// HandleGetMemberDebt returns the member's running total debt.
func (qc *QueryController) HandleGetMemberDebt(c *fiber.Ctx) error {
	m, err := qc.memberRepo.GetByID(c.Params("id"))
	if err != nil {
		if isNotFound(err) {
			return jsonError(c, fiber.StatusNotFound, "member_not_found", "Member not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load member")
	}
	return c.JSON(fiber.Map{
		"member_id":  m.ID,
		"total_debt": m.TotalDebt,
		"updated_at": m.UpdatedAt,
	})
}

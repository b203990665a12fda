package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
	"github.com/ManuelReschke/Kassenwart/app/repository"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/billing"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/events"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/middleware"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/settlement"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/sweeper"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/testutil"
)

const testAdminKey = "test-admin-key"

type fixture struct {
	app  *fiber.App
	db   *gorm.DB
	deps Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	engine := settlement.NewEngineFromDB(db, events.NopEmitter{})
	store := sweeper.NewStore(db)

	deps := Deps{
		Repos:   repository.NewRepositories(db),
		Billing: billing.NewServiceFromDB(db, engine),
		Engine:  engine,
		Sweeps: sweeper.NewManager(nil, nil,
			sweeper.Schedule{Sweep: sweeper.NewOverdueSweeper(store, nil, 0), Interval: time.Hour},
			sweeper.Schedule{Sweep: sweeper.NewReconcileSweeper(store, engine, 0), Interval: time.Minute},
		),
		Dispatcher: events.NewDispatcher(0),
	}

	app := fiber.New()
	webhooks := NewWebhookController(deps.Billing)
	payments := NewPaymentController(deps.Billing)
	queries := NewQueryController(deps.Repos)
	admin := NewAdminController(deps)

	app.Post("/webhooks/:provider", webhooks.HandleWebhook)
	app.Post("/invoices/:id/payments", payments.HandleStartPayment)
	app.Get("/invoices/:id", queries.HandleGetInvoice)
	app.Get("/invoices/:id/payments", queries.HandleListInvoicePayments)
	app.Get("/members/:id/invoices", queries.HandleListMemberInvoices)
	app.Get("/members/:id/debt", queries.HandleGetMemberDebt)

	adm := app.Group("/admin", middleware.AdminAPIKeyMiddleware(testAdminKey))
	adm.Post("/invoices", admin.HandleIssueInvoice)
	adm.Post("/invoices/:id/mark-paid", admin.HandleMarkPaid)
	adm.Get("/review-items", admin.HandleListReviewItems)
	adm.Post("/review-items/:id/resolve", admin.HandleResolveReviewItem)
	adm.Post("/sweeps/:kind", admin.HandleRunSweep)
	adm.Post("/members/:id/recalculate-debt", admin.HandleRecalculateDebt)
	adm.Get("/webhooks/failed", admin.HandleListFailedWebhooks)
	adm.Post("/webhooks/:id/replay", admin.HandleReplayWebhook)
	adm.Get("/stats", admin.HandleStats)
	adm.Get("/events/recent", admin.HandleRecentEvents)

	return &fixture{app: app, db: db, deps: deps}
}

func (f *fixture) issue(t *testing.T, id, member string, amount int64, due time.Time) {
	t.Helper()
	_, err := f.deps.Engine.IssueInvoice(context.Background(), settlement.IssueInvoiceInput{
		InvoiceID: id,
		MemberID:  member,
		Period:    "P-" + id,
		Amount:    decimal.NewFromInt(amount),
		DueDate:   due,
	})
	require.NoError(t, err)
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, admin bool) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-API-Key", testAdminKey)
		req.Header.Set("X-Admin-Actor", "tester")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func (f *fixture) invoiceStatus(t *testing.T, id string) string {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, f.db.First(&inv, "id = ?", id).Error)
	return inv.Status
}

// assertAmount compares a JSON decimal regardless of scale.
func assertAmount(t *testing.T, want int64, got interface{}) {
	t.Helper()
	raw, ok := got.(string)
	require.True(t, ok, "amount %v is not a string", got)
	d, err := decimal.NewFromString(raw)
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(want)), "want %d, got %s", want, raw)
}

func payPalCapture(eventID, txn, invoiceID, ref string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":%q,"status":"COMPLETED","invoice_id":%q,"custom_id":%q}}`,
		eventID, txn, invoiceID, ref))
}

func TestHandleWebhook_StatusCodes(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "INV-1", "M-1", 10000, time.Now().UTC().Add(24*time.Hour))

	status, body := f.do(t, "POST", "/webhooks/paypal", payPalCapture("WH-1", "TXN-1", "INV-1", ""), false)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "settled", body["outcome"])
	assert.Equal(t, models.InvoiceStatusPaid, f.invoiceStatus(t, "INV-1"))

	status, body = f.do(t, "POST", "/webhooks/paypal", payPalCapture("WH-1", "TXN-1", "INV-1", ""), false)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, "already_settled", body["outcome"])

	status, body = f.do(t, "POST", "/webhooks/paypal", payPalCapture("WH-2", "TXN-2", "NOPE", ""), false)
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, "queued_for_review", body["outcome"])

	status, body = f.do(t, "POST", "/webhooks/stripe", []byte(`{}`), false)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "unknown_provider", body["error"])

	status, body = f.do(t, "POST", "/webhooks/paypal", []byte(`not json`), false)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_payload", body["error"])
}

func TestHandleStartPayment(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "INV-1", "M-1", 10000, time.Now().UTC().Add(24*time.Hour))

	status, body := f.do(t, "POST", "/invoices/INV-1/payments", fiber.Map{"provider": "mercadopago"}, false)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "pending", body["status"])
	assert.NotEmpty(t, body["external_reference"])

	status, _ = f.do(t, "POST", "/invoices/INV-1/payments", fiber.Map{"provider": "manual"}, false)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.do(t, "POST", "/invoices/MISSING/payments", fiber.Map{"provider": "paypal"}, false)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = f.do(t, "POST", "/admin/invoices/INV-1/mark-paid", nil, true)
	require.Equal(t, fiber.StatusOK, status)

	status, body = f.do(t, "POST", "/invoices/INV-1/payments", fiber.Map{"provider": "paypal"}, false)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "invoice_already_paid", body["error"])
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	due := time.Now().UTC().Add(24 * time.Hour)
	f.issue(t, "INV-1", "M-1", 10000, due)
	f.issue(t, "INV-2", "M-1", 2500, due)

	status, body := f.do(t, "GET", "/members/M-1/invoices", nil, false)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 2, body["total"])

	status, body = f.do(t, "GET", "/members/M-1/debt", nil, false)
	require.Equal(t, fiber.StatusOK, status)
	assertAmount(t, 12500, body["total_debt"])

	status, _ = f.do(t, "POST", "/admin/invoices/INV-2/mark-paid", fiber.Map{"note": "cash"}, true)
	require.Equal(t, fiber.StatusOK, status)

	status, body = f.do(t, "GET", "/members/M-1/invoices?status=paid", nil, false)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])

	status, body = f.do(t, "GET", "/members/M-1/debt", nil, false)
	require.Equal(t, fiber.StatusOK, status)
	assertAmount(t, 10000, body["total_debt"])

	status, body = f.do(t, "GET", "/invoices/INV-2/payments", nil, false)
	require.Equal(t, fiber.StatusOK, status)
	items, _ := body["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "manual", items[0].(map[string]interface{})["provider"])

	status, _ = f.do(t, "GET", "/members/M-1/invoices?status=bogus", nil, false)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.do(t, "GET", "/invoices/NOPE", nil, false)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = f.do(t, "GET", "/members/NOPE/debt", nil, false)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAdmin_IssueInvoice(t *testing.T) {
	f := newFixture(t)
	req := fiber.Map{
		"invoice_id": "INV-9",
		"member_id":  "M-9",
		"period":     "2026-10",
		"amount":     "19990",
		"due_date":   time.Now().UTC().Add(72 * time.Hour).Format(time.RFC3339),
	}

	status, body := f.do(t, "POST", "/admin/invoices", req, true)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "pending", body["status"])

	status, body = f.do(t, "POST", "/admin/invoices", req, true)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "invoice_exists", body["error"])

	status, _ = f.do(t, "POST", "/admin/invoices", fiber.Map{"member_id": "M-9"}, true)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = f.do(t, "POST", "/admin/invoices", req, false)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestAdmin_ReviewQueue(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "INV-1", "M-1", 10000, time.Now().UTC().Add(24*time.Hour))

	status, _ := f.do(t, "POST", "/webhooks/paypal", payPalCapture("WH-1", "TXN-1", "INV-1", ""), false)
	require.Equal(t, fiber.StatusOK, status)
	// A second distinct transaction on a paid invoice is a duplicate payment.
	status, body := f.do(t, "POST", "/webhooks/paypal", payPalCapture("WH-2", "TXN-2", "INV-1", ""), false)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "invoice_already_paid", body["outcome"])

	status, body = f.do(t, "GET", "/admin/review-items?kind=duplicate_payment", nil, true)
	require.Equal(t, fiber.StatusOK, status)
	require.EqualValues(t, 1, body["total"])
	item := body["items"].([]interface{})[0].(map[string]interface{})
	id := int(item["id"].(float64))

	path := fmt.Sprintf("/admin/review-items/%d/resolve", id)
	status, body = f.do(t, "POST", path, fiber.Map{"note": "refunded"}, true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "resolved", body["status"])
	assert.Equal(t, "tester", body["resolved_by"])

	status, _ = f.do(t, "POST", path, nil, true)
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = f.do(t, "POST", "/admin/review-items/9999/resolve", nil, true)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAdmin_RunSweep(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "INV-1", "M-1", 10000, time.Now().UTC().Add(-time.Hour))

	status, body := f.do(t, "POST", "/admin/sweeps/overdue", nil, true)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["transitioned"])
	assert.Equal(t, models.InvoiceStatusOverdue, f.invoiceStatus(t, "INV-1"))

	status, body = f.do(t, "POST", "/admin/sweeps/reconcile", nil, true)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 0, body["scanned"])

	status, _ = f.do(t, "POST", "/admin/sweeps/nope", nil, true)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = f.do(t, "GET", "/admin/stats", nil, true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "sweeps")
	assert.Contains(t, body, "invoices")
}

func TestAdmin_RecalculateDebt(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "INV-1", "M-1", 10000, time.Now().UTC().Add(24*time.Hour))
	require.NoError(t, f.db.Model(&models.Member{}).Where("id = ?", "M-1").
		Update("total_debt", decimal.NewFromInt(1)).Error)

	status, body := f.do(t, "POST", "/admin/members/M-1/recalculate-debt", nil, true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["corrected"])
	assertAmount(t, 10000, body["after"])

	status, _ = f.do(t, "POST", "/admin/members/NOPE/recalculate-debt", nil, true)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAdmin_FailedWebhooksAndReplay(t *testing.T) {
	f := newFixture(t)

	status, _ := f.do(t, "POST", "/webhooks/paypal", payPalCapture("WH-1", "TXN-1", "INV-LATE", ""), false)
	require.Equal(t, fiber.StatusAccepted, status)

	status, body := f.do(t, "GET", "/admin/webhooks/failed", nil, true)
	require.Equal(t, fiber.StatusOK, status)
	require.EqualValues(t, 1, body["total"])
	ev := body["items"].([]interface{})[0].(map[string]interface{})
	id := int(ev["id"].(float64))

	// The invoice shows up later; the replay settles it.
	f.issue(t, "INV-LATE", "M-1", 10000, time.Now().UTC().Add(24*time.Hour))
	status, _ = f.do(t, "POST", fmt.Sprintf("/admin/webhooks/%d/replay", id), nil, true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, models.InvoiceStatusPaid, f.invoiceStatus(t, "INV-LATE"))

	status, _ = f.do(t, "POST", "/admin/webhooks/9999/replay", nil, true)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = f.do(t, "GET", "/admin/events/recent", nil, true)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["items"])
}

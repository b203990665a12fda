package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/events"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/testutil"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *gorm.DB, *recordingEmitter) {
	t.Helper()
	db := testutil.NewTestDB(t)
	rec := &recordingEmitter{}
	return NewEngineFromDB(db, rec), db, rec
}

func issueTestInvoice(t *testing.T, e *Engine, id, memberID string, amount int64) *models.Invoice {
	t.Helper()
	inv, err := e.IssueInvoice(context.Background(), IssueInvoiceInput{
		InvoiceID: id,
		MemberID:  memberID,
		Period:    "2026-" + id,
		Amount:    decimal.NewFromInt(amount),
		DueDate:   time.Now().UTC().Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return inv
}

func completedPayment(provider, txn string) *models.Payment {
	return &models.Payment{
		Provider:              provider,
		ProviderTransactionID: &txn,
		Status:                models.PaymentStatusCompleted,
	}
}

func loadInvoice(t *testing.T, db *gorm.DB, id string) models.Invoice {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, db.First(&inv, "id = ?", id).Error)
	return inv
}

func memberDebt(t *testing.T, db *gorm.DB, id string) decimal.Decimal {
	t.Helper()
	var m models.Member
	require.NoError(t, db.First(&m, "id = ?", id).Error)
	return m.TotalDebt
}

func TestSettlePayment_DuplicateDeliveryIsAbsorbed(t *testing.T) {
	e, db, rec := newTestEngine(t)
	ctx := context.Background()
	issueTestInvoice(t, e, "INV-1", "M-1", 50000)
	assert.True(t, decimal.NewFromInt(50000).Equal(memberDebt(t, db, "M-1")))

	first, err := e.SettlePayment(ctx, "INV-1", completedPayment(models.PaymentProviderPayPal, "TXN-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, first.Outcome)
	assert.True(t, first.DebtAdjusted)

	second, err := e.SettlePayment(ctx, "INV-1", completedPayment(models.PaymentProviderPayPal, "TXN-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadySettled, second.Outcome)

	inv := loadInvoice(t, db, "INV-1")
	assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
	assert.NotNil(t, inv.PaidAt)
	assert.True(t, decimal.Zero.Equal(memberDebt(t, db, "M-1")))

	var completed int64
	require.NoError(t, db.Model(&models.Payment{}).Where("invoice_id = ? AND status = ?", "INV-1", models.PaymentStatusCompleted).Count(&completed).Error)
	assert.Equal(t, int64(1), completed)
	assert.Len(t, rec.ofType(events.TypeInvoiceSettled), 1)
}

func TestSettlePayment_RepeatedCallsDecrementOnce(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()
	issueTestInvoice(t, e, "INV-1", "M-1", 300)
	issueTestInvoice(t, e, "INV-2", "M-1", 200)

	for i := 0; i < 5; i++ {
		_, err := e.SettlePayment(ctx, "INV-1", completedPayment(models.PaymentProviderMercadoPago, "MP-9"))
		require.NoError(t, err)
	}

	assert.True(t, decimal.NewFromInt(200).Equal(memberDebt(t, db, "M-1")))

	var adjustments int64
	require.NoError(t, db.Model(&models.DebtAdjustment{}).Where("invoice_id = ? AND reason = ?", "INV-1", models.DebtReasonInvoiceSettled).Count(&adjustments).Error)
	assert.Equal(t, int64(1), adjustments)
}

func TestSettlePayment_ConvergesAfterBulkCompletion(t *testing.T) {
	e, db, rec := newTestEngine(t)
	ctx := context.Background()
	issueTestInvoice(t, e, "INV-3", "M-3", 1500)

	txn := "BT-77"
	payment := &models.Payment{
		InvoiceID:             "INV-3",
		MemberID:              "M-3",
		Provider:              models.PaymentProviderBankTransfer,
		ProviderTransactionID: &txn,
		Amount:                decimal.NewFromInt(1500),
	}
	require.NoError(t, db.Create(payment).Error)
	// Bulk update path that never calls the engine.
	require.NoError(t, db.Model(&models.Payment{}).Where("invoice_id = ?", "INV-3").Update("status", models.PaymentStatusCompleted).Error)

	var stored models.Payment
	require.NoError(t, db.First(&stored, "id = ?", payment.ID).Error)
	res, err := e.SettlePayment(ctx, stored.InvoiceID, &stored)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, res.Outcome)

	assert.Equal(t, models.InvoiceStatusPaid, loadInvoice(t, db, "INV-3").Status)
	assert.True(t, decimal.Zero.Equal(memberDebt(t, db, "M-3")))
	assert.Len(t, rec.ofType(events.TypeInvoiceSettled), 1)
}

func TestSettlePayment_ConcurrentCallersTransitionOnce(t *testing.T) {
	e, db, rec := newTestEngine(t)
	ctx := context.Background()
	issueTestInvoice(t, e, "INV-4", "M-4", 9900)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.SettlePayment(ctx, "INV-4", completedPayment(models.PaymentProviderPayPal, "TXN-4"))
		}(i)
	}
	wg.Wait()

	settled := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if results[i].Outcome == OutcomeSettled {
			settled++
		} else {
			assert.Equal(t, OutcomeAlreadySettled, results[i].Outcome)
		}
	}
	assert.Equal(t, 1, settled)
	assert.True(t, decimal.Zero.Equal(memberDebt(t, db, "M-4")))
	assert.Len(t, rec.ofType(events.TypeInvoiceSettled), 1)
}

func TestSettlePayment_DistinctKeysSamePaymentAreNotDuplicates(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()
	issueTestInvoice(t, e, "INV-5", "M-5", 100)

	// Completed without a transaction id, settled under its payment-id key.
	p := &models.Payment{
		InvoiceID: "INV-5",
		MemberID:  "M-5",
		Provider:  models.PaymentProviderPayPal,
		Status:    models.PaymentStatusCompleted,
		Amount:    decimal.NewFromInt(100),
	}
	require.NoError(t, db.Create(p).Error)
	first, err := e.SettlePayment(ctx, "INV-5", p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, first.Outcome)

	// The provider webhook for the same payment arrives later with its id.
	txn := "CAP-5"
	late := *p
	late.ProviderTransactionID = &txn
	second, err := e.SettlePayment(ctx, "INV-5", &late)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvoiceAlreadyPaid, second.Outcome)
	assert.False(t, second.DuplicatePayment)

	var reviews int64
	require.NoError(t, db.Model(&models.ReviewItem{}).Count(&reviews).Error)
	assert.Equal(t, int64(0), reviews)
}

func TestSettlePayment_SecondPaymentOnPaidInvoiceIsQueued(t *testing.T) {
	e, db, rec := newTestEngine(t)
	ctx := context.Background()
	issueTestInvoice(t, e, "INV-6", "M-6", 700)

	_, err := e.SettlePayment(ctx, "INV-6", completedPayment(models.PaymentProviderPayPal, "TXN-A"))
	require.NoError(t, err)
	res, err := e.SettlePayment(ctx, "INV-6", completedPayment(models.PaymentProviderMercadoPago, "MP-B"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeInvoiceAlreadyPaid, res.Outcome)
	assert.True(t, res.DuplicatePayment)
	assert.True(t, decimal.Zero.Equal(memberDebt(t, db, "M-6")))
	assert.Len(t, rec.ofType(events.TypeInvoiceSettled), 1)

	var item models.ReviewItem
	require.NoError(t, db.Where("kind = ?", models.ReviewKindDuplicatePayment).First(&item).Error)
	assert.Equal(t, "INV-6", item.InvoiceID)
	assert.Equal(t, models.ReviewStatusOpen, item.Status)
}

func TestSettlePayment_AmountMismatchStillSettles(t *testing.T) {
	e, db, _ := newTestEngine(t)
	issueTestInvoice(t, e, "INV-7", "M-7", 1000)

	p := completedPayment(models.PaymentProviderPayPal, "TXN-7")
	p.Amount = decimal.NewFromInt(900)
	res, err := e.SettlePayment(context.Background(), "INV-7", p)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSettled, res.Outcome)
	assert.True(t, res.AmountMismatch)
	assert.True(t, decimal.Zero.Equal(memberDebt(t, db, "M-7")))

	var count int64
	require.NoError(t, db.Model(&models.ReviewItem{}).Where("kind = ?", models.ReviewKindAmountMismatch).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSettlePayment_InvoiceNotFound(t *testing.T) {
	e, db, rec := newTestEngine(t)

	_, err := e.SettlePayment(context.Background(), "INV-404", completedPayment(models.PaymentProviderPayPal, "TXN-404"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvoiceNotFound))
	assert.False(t, IsTransient(err))

	// Ledger insert rolled back with the transaction.
	var ledger int64
	require.NoError(t, db.Model(&models.SettlementRecord{}).Count(&ledger).Error)
	assert.Equal(t, int64(0), ledger)

	var item models.ReviewItem
	require.NoError(t, db.Where("kind = ?", models.ReviewKindInvoiceNotFound).First(&item).Error)
	assert.Equal(t, "paypal:TXN-404", item.Reference)
	assert.Empty(t, rec.ofType(events.TypeInvoiceSettled))
}

type countingCounters struct {
	mu     sync.Mutex
	fields map[string]int
}

func (c *countingCounters) Incr(_ context.Context, field string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fields == nil {
		c.fields = map[string]int{}
	}
	c.fields[field]++
}

func TestSettlePayment_EmptyInvoiceIDIsQueued(t *testing.T) {
	db := testutil.NewTestDB(t)
	counters := &countingCounters{}
	e := NewEngineFromDB(db, nil, WithCounters(counters))

	_, err := e.SettlePayment(context.Background(), "  ", completedPayment(models.PaymentProviderMercadoPago, "MP-9"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvoiceNotFound))
	assert.Equal(t, 1, counters.fields["invoice_not_found"])

	var item models.ReviewItem
	require.NoError(t, db.Where("kind = ?", models.ReviewKindInvoiceNotFound).First(&item).Error)
	assert.Equal(t, "mercadopago:MP-9", item.Reference)
	assert.Empty(t, item.InvoiceID)
}

func TestSettlePayment_RejectsIncompletePayment(t *testing.T) {
	e, _, _ := newTestEngine(t)

	p := completedPayment(models.PaymentProviderPayPal, "TXN-1")
	p.Status = models.PaymentStatusPending
	_, err := e.SettlePayment(context.Background(), "INV-1", p)
	assert.True(t, errors.Is(err, ErrPaymentNotCompleted))

	p.Status = models.PaymentStatusCompleted
	p.Provider = "stripe"
	_, err = e.SettlePayment(context.Background(), "INV-1", p)
	assert.True(t, errors.Is(err, ErrInvalidPayment))
}

func TestSettlePayment_PaidIsTerminal(t *testing.T) {
	e, db, _ := newTestEngine(t)
	issueTestInvoice(t, e, "INV-8", "M-8", 10)
	_, err := e.SettlePayment(context.Background(), "INV-8", completedPayment(models.PaymentProviderPayPal, "TXN-8"))
	require.NoError(t, err)

	// The overdue transition is conditioned on pending and must not match.
	res := db.Model(&models.Invoice{}).
		Where("id = ? AND status = ?", "INV-8", models.InvoiceStatusPending).
		Update("status", models.InvoiceStatusOverdue)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.RowsAffected)
	assert.Equal(t, models.InvoiceStatusPaid, loadInvoice(t, db, "INV-8").Status)
}

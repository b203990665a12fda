package settlement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

func TestIssueInvoice_RaisesDebtOncePerPeriod(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()

	in := IssueInvoiceInput{
		MemberID:   "M-1",
		MemberName: "Ana",
		Period:     "2026-09",
		Amount:     decimal.RequireFromString("12500.50"),
		DueDate:    time.Now().UTC().Add(24 * time.Hour),
	}
	inv, err := e.IssueInvoice(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, models.InvoiceStatusPending, inv.Status)
	assert.Equal(t, "CLP", inv.Currency)

	_, err = e.IssueInvoice(ctx, in)
	assert.True(t, errors.Is(err, ErrInvoiceExists))

	assert.True(t, decimal.RequireFromString("12500.50").Equal(memberDebt(t, db, "M-1")))

	var m models.Member
	require.NoError(t, db.First(&m, "id = ?", "M-1").Error)
	assert.Equal(t, "Ana", m.Name)
}

func TestIssueInvoice_DuplicateKeyOnInsert(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()
	issueTestInvoice(t, e, "INV-1", "M-1", 100)

	// Different period, so the pre-check passes and the insert hits the key.
	_, err := e.IssueInvoice(ctx, IssueInvoiceInput{
		InvoiceID: "INV-1",
		MemberID:  "M-2",
		Period:    "2026-10",
		Amount:    decimal.NewFromInt(40),
		DueDate:   time.Now().UTC().Add(time.Hour),
	})
	assert.True(t, errors.Is(err, ErrInvoiceExists))

	var members int64
	require.NoError(t, db.Model(&models.Member{}).Where("id = ?", "M-2").Count(&members).Error)
	assert.Zero(t, members)
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, IsDuplicateKey(fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})))
	assert.True(t, IsDuplicateKey(gorm.ErrDuplicatedKey))
	assert.False(t, IsDuplicateKey(&mysql.MySQLError{Number: 1213}))
	assert.False(t, IsDuplicateKey(nil))
}

func TestIssueInvoice_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.IssueInvoice(ctx, IssueInvoiceInput{MemberID: "M-1", Period: "2026-09", Amount: decimal.Zero, DueDate: time.Now()})
	assert.True(t, errors.Is(err, ErrInvalidInvoice))

	_, err = e.IssueInvoice(ctx, IssueInvoiceInput{Period: "2026-09", Amount: decimal.NewFromInt(1), DueDate: time.Now()})
	assert.True(t, errors.Is(err, ErrInvalidInvoice))

	_, err = e.IssueInvoice(ctx, IssueInvoiceInput{MemberID: "M-1", Period: "2026-09", Amount: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, ErrInvalidInvoice))
}

func TestRecalculateMemberDebt(t *testing.T) {
	e, db, _ := newTestEngine(t)
	ctx := context.Background()
	issueTestInvoice(t, e, "INV-1", "M-1", 100)
	issueTestInvoice(t, e, "INV-2", "M-1", 250)
	_, err := e.SettlePayment(ctx, "INV-1", completedPayment(models.PaymentProviderPayPal, "TXN-1"))
	require.NoError(t, err)

	// Simulate drift from an out-of-band write.
	require.NoError(t, db.Model(&models.Member{}).Where("id = ?", "M-1").Update("total_debt", decimal.NewFromInt(999)).Error)

	before, after, err := e.RecalculateMemberDebt(ctx, "M-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(999).Equal(before))
	assert.True(t, decimal.NewFromInt(250).Equal(after))
	assert.True(t, decimal.NewFromInt(250).Equal(memberDebt(t, db, "M-1")))

	_, _, err = e.RecalculateMemberDebt(ctx, "M-404")
	assert.True(t, errors.Is(err, ErrMemberNotFound))
}

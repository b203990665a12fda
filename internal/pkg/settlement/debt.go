package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// IssueInvoiceInput describes a new invoice produced by the billing run.
type IssueInvoiceInput struct {
	InvoiceID  string
	MemberID   string
	MemberName string
	Period     string
	Amount     decimal.Decimal
	Currency   string
	IssuedAt   time.Time
	DueDate    time.Time
}

// IssueInvoice creates a pending invoice and raises the member debt by its
// amount in one transaction. One invoice per member and period.
func (e *Engine) IssueInvoice(ctx context.Context, in IssueInvoiceInput) (*models.Invoice, error) {
	inv := &models.Invoice{
		ID:        strings.TrimSpace(in.InvoiceID),
		MemberID:  strings.TrimSpace(in.MemberID),
		Period:    strings.TrimSpace(in.Period),
		AmountDue: in.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(in.Currency)),
		Status:    models.InvoiceStatusPending,
		IssuedAt:  in.IssuedAt.UTC(),
		DueDate:   in.DueDate.UTC(),
	}
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = e.now()
	}
	if inv.Currency == "" {
		inv.Currency = "CLP"
	}
	if err := inv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}

	err := e.store.WithinTx(ctx, func(tx Store) error {
		if _, err := tx.FindInvoiceByPeriod(ctx, inv.MemberID, inv.Period); err == nil {
			return fmt.Errorf("%w: %s %s", ErrInvoiceExists, inv.MemberID, inv.Period)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.EnsureMember(ctx, inv.MemberID, strings.TrimSpace(in.MemberName)); err != nil {
			return fmt.Errorf("failed to ensure member: %w", err)
		}
		if err := tx.CreateInvoice(ctx, inv); err != nil {
			if IsDuplicateKey(err) {
				// Lost the race against a concurrent issue for the same key.
				return fmt.Errorf("%w: %s %s", ErrInvoiceExists, inv.MemberID, inv.Period)
			}
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		if _, err := tx.ApplyDebtAdjustment(ctx, &models.DebtAdjustment{
			InvoiceID: inv.ID,
			Reason:    models.DebtReasonInvoiceIssued,
			MemberID:  inv.MemberID,
			Delta:     inv.AmountDue,
		}); err != nil {
			return fmt.Errorf("failed to adjust member debt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Settlement] issued invoice %s for member %s period %s amount %s", inv.ID, inv.MemberID, inv.Period, inv.AmountDue.String())
	return inv, nil
}

// RecalculateMemberDebt resets the member debt to the sum of the member's
// non-paid invoices and returns the previous and the new value.
func (e *Engine) RecalculateMemberDebt(ctx context.Context, memberID string) (decimal.Decimal, decimal.Decimal, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return decimal.Zero, decimal.Zero, errors.New("member id is required")
	}

	var before, after decimal.Decimal
	err := e.store.WithinTx(ctx, func(tx Store) error {
		member, err := tx.LockMember(ctx, memberID)
		if err != nil {
			return err
		}
		before = member.TotalDebt

		after, err = tx.SumOpenInvoices(ctx, memberID)
		if err != nil {
			return fmt.Errorf("failed to sum open invoices: %w", err)
		}
		return tx.SetMemberDebt(ctx, memberID, after)
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	if !before.Equal(after) {
		log.Warnf("[Settlement] member %s debt corrected from %s to %s", memberID, before.String(), after.String())
	}
	return before, after, nil
}

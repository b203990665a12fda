package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/events"
)

// Outcome describes what a SettlePayment call did.
type Outcome string

const (
	// OutcomeSettled: this call moved the invoice to paid and adjusted debt.
	OutcomeSettled Outcome = "settled"
	// OutcomeAlreadySettled: the (provider, transaction id) pair was seen before.
	OutcomeAlreadySettled Outcome = "already_settled"
	// OutcomeInvoiceAlreadyPaid: new transaction, but the invoice was paid earlier.
	OutcomeInvoiceAlreadyPaid Outcome = "invoice_already_paid"
)

// Result is returned by every successful SettlePayment call.
type Result struct {
	Outcome          Outcome
	InvoiceID        string
	MemberID         string
	PaymentID        string
	Amount           decimal.Decimal
	SettledAt        time.Time
	DebtAdjusted     bool
	DuplicatePayment bool
	AmountMismatch   bool
}

// Counters receives one increment per outcome. Implementations must not block.
type Counters interface {
	Incr(ctx context.Context, name string)
}

type nopCounters struct{}

func (nopCounters) Incr(context.Context, string) {}

// Engine is the only code path that marks an invoice paid.
type Engine struct {
	store    Store
	emitter  events.Emitter
	counters Counters
	now      func() time.Time
}

type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithCounters(c Counters) Option {
	return func(e *Engine) {
		if c != nil {
			e.counters = c
		}
	}
}

// NewEngine creates a settlement engine. A nil emitter discards events.
func NewEngine(store Store, emitter events.Emitter, opts ...Option) *Engine {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	e := &Engine{
		store:    store,
		emitter:  emitter,
		counters: nopCounters{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineFromDB creates an engine on a GORM handle.
func NewEngineFromDB(db *gorm.DB, emitter events.Emitter, opts ...Option) *Engine {
	return NewEngine(NewStore(db), emitter, opts...)
}

// Store exposes the underlying store to collaborators sharing the engine.
func (e *Engine) Store() Store {
	return e.store
}

// SettlePayment applies a completed payment to an invoice. It is safe to
// call any number of times, concurrently, for the same payment: the ledger
// absorbs repeats and the invoice transition is a conditional update, so
// the invoice is paid once and the member debt drops by its amount once.
//
// A zero payment amount means "the full invoice amount".
func (e *Engine) SettlePayment(ctx context.Context, invoiceID string, payment *models.Payment) (*Result, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if payment == nil {
		return nil, fmt.Errorf("%w: nil payment", ErrInvalidPayment)
	}
	if payment.Status != models.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: status %q", ErrPaymentNotCompleted, payment.Status)
	}
	if !models.IsKnownPaymentProvider(payment.Provider) {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidPayment, payment.Provider)
	}
	if payment.ID == "" {
		// Fixed before the transaction so retries reuse the same ledger key.
		payment.ID = uuid.New().String()
	}
	provider, txnID := payment.IdempotencyKey()

	if invoiceID == "" {
		err := fmt.Errorf("%w: empty invoice id", ErrInvoiceNotFound)
		e.invoiceNotFound(ctx, invoiceID, payment.ID, provider, txnID, err)
		return nil, err
	}
	if payment.InvoiceID != "" && payment.InvoiceID != invoiceID {
		return nil, fmt.Errorf("%w: payment %s references invoice %s, not %s", ErrInvalidPayment, payment.ID, payment.InvoiceID, invoiceID)
	}

	now := e.now()

	var res Result
	err := e.store.WithinTx(ctx, func(tx Store) error {
		res = Result{InvoiceID: invoiceID, PaymentID: payment.ID}

		rec := &models.SettlementRecord{
			Provider:              provider,
			ProviderTransactionID: txnID,
			InvoiceID:             invoiceID,
			PaymentID:             payment.ID,
			Amount:                payment.Amount,
		}
		isNew, err := tx.RecordIfNew(ctx, rec)
		if err != nil {
			return fmt.Errorf("failed to record settlement: %w", err)
		}
		if !isNew {
			res.Outcome = OutcomeAlreadySettled
			return nil
		}

		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		res.MemberID = inv.MemberID
		res.Amount = inv.AmountDue

		payment.InvoiceID = invoiceID
		if payment.MemberID == "" {
			payment.MemberID = inv.MemberID
		}
		if payment.Amount.IsZero() {
			payment.Amount = inv.AmountDue
		}

		transitioned, err := tx.MarkInvoicePaid(ctx, invoiceID, payment.ID, now)
		if err != nil {
			return fmt.Errorf("failed to mark invoice paid: %w", err)
		}

		if transitioned {
			res.Outcome = OutcomeSettled
			res.SettledAt = now

			applied, err := tx.ApplyDebtAdjustment(ctx, &models.DebtAdjustment{
				InvoiceID: invoiceID,
				Reason:    models.DebtReasonInvoiceSettled,
				MemberID:  inv.MemberID,
				Delta:     inv.AmountDue.Neg(),
			})
			if err != nil {
				return fmt.Errorf("failed to adjust member debt: %w", err)
			}
			res.DebtAdjusted = applied

			if !payment.Amount.Equal(inv.AmountDue) {
				res.AmountMismatch = true
				if _, err := tx.OpenReviewItem(ctx, &models.ReviewItem{
					Kind:      models.ReviewKindAmountMismatch,
					Reference: payment.ID,
					Provider:  payment.Provider,
					InvoiceID: invoiceID,
					PaymentID: payment.ID,
					Detail:    fmt.Sprintf("paid %s, invoice amount %s", payment.Amount.String(), inv.AmountDue.String()),
				}); err != nil {
					return fmt.Errorf("failed to open review item: %w", err)
				}
			}
		} else {
			res.Outcome = OutcomeInvoiceAlreadyPaid
			if inv.SettledByPaymentID == nil || *inv.SettledByPaymentID != payment.ID {
				res.DuplicatePayment = true
				if _, err := tx.OpenReviewItem(ctx, &models.ReviewItem{
					Kind:      models.ReviewKindDuplicatePayment,
					Reference: payment.ID,
					Provider:  payment.Provider,
					InvoiceID: invoiceID,
					PaymentID: payment.ID,
					Detail:    fmt.Sprintf("%s transaction %s on already paid invoice", provider, txnID),
				}); err != nil {
					return fmt.Errorf("failed to open review item: %w", err)
				}
			}
		}

		if err := tx.MarkPaymentCompleted(ctx, payment, now); err != nil {
			return fmt.Errorf("failed to complete payment: %w", err)
		}
		return tx.SetOutcome(ctx, rec.ID, string(res.Outcome))
	})
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			e.invoiceNotFound(ctx, invoiceID, payment.ID, provider, txnID, err)
		} else {
			e.counters.Incr(ctx, "failed")
		}
		return nil, err
	}

	e.counters.Incr(ctx, string(res.Outcome))
	switch res.Outcome {
	case OutcomeSettled:
		log.Infof("[Settlement] invoice %s paid by %s transaction %s (member %s, amount %s)",
			invoiceID, provider, txnID, res.MemberID, res.Amount.String())
		if res.AmountMismatch {
			log.Warnf("[Settlement] amount mismatch on invoice %s: paid %s, due %s", invoiceID, payment.Amount.String(), res.Amount.String())
		}
		e.emitter.Emit(events.InvoiceSettled(invoiceID, res.MemberID, res.Amount, res.SettledAt))
	case OutcomeInvoiceAlreadyPaid:
		if res.DuplicatePayment {
			log.Warnf("[Settlement] duplicate payment %s (%s %s) for paid invoice %s queued for review", payment.ID, provider, txnID, invoiceID)
		}
	default:
		log.Debugf("[Settlement] %s transaction %s already settled", provider, txnID)
	}
	return &res, nil
}

func (e *Engine) invoiceNotFound(ctx context.Context, invoiceID, paymentID, provider, txnID string, err error) {
	e.counters.Incr(ctx, "invoice_not_found")
	log.Errorf("[Settlement] invoice %q not found for %s transaction %s", invoiceID, provider, txnID)
	e.openReview(ctx, &models.ReviewItem{
		Kind:      models.ReviewKindInvoiceNotFound,
		Reference: provider + ":" + txnID,
		Provider:  provider,
		InvoiceID: invoiceID,
		PaymentID: paymentID,
		Detail:    err.Error(),
	})
}

func (e *Engine) openReview(ctx context.Context, item *models.ReviewItem) {
	if _, err := e.store.OpenReviewItem(ctx, item); err != nil {
		log.Errorf("[Settlement] failed to queue %s review for %s: %v", item.Kind, item.Reference, err)
	}
}

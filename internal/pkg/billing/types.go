package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// ObservedStatus is the payment state reported by a provider, normalized.
type ObservedStatus string

const (
	StatusCompleted ObservedStatus = "completed"
	StatusPending   ObservedStatus = "pending"
	StatusFailed    ObservedStatus = "failed"
	StatusCancelled ObservedStatus = "cancelled"
	// StatusUnsupported covers refunds, chargebacks and other transitions
	// this service does not act on.
	StatusUnsupported ObservedStatus = "unsupported"
)

// InvoiceRef points at an invoice directly or through the external
// reference stored on the originating payment.
type InvoiceRef struct {
	InvoiceID         string
	ExternalReference string
}

// PaymentEvent is the canonical, provider-neutral shape of a callback.
type PaymentEvent struct {
	Provider              string
	ProviderTransactionID string
	ProviderEventID       string
	EventType             string
	InvoiceRef            InvoiceRef
	Amount                decimal.Decimal
	Currency              string
	ObservedStatus        ObservedStatus
	OccurredAt            time.Time
	Raw                   []byte
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// IngestOutcome summarizes what happened to a canonical event.
type IngestOutcome string

const (
	OutcomeSettled            IngestOutcome = "settled"
	OutcomeAlreadySettled     IngestOutcome = "already_settled"
	OutcomeInvoiceAlreadyPaid IngestOutcome = "invoice_already_paid"
	OutcomeStatusUpdated      IngestOutcome = "status_updated"
	OutcomeIgnored            IngestOutcome = "ignored"
	OutcomeQueuedForReview    IngestOutcome = "queued_for_review"
)

// IngestResult is returned by Service.Ingest.
type IngestResult struct {
	Outcome   IngestOutcome
	InvoiceID string
	PaymentID string
}

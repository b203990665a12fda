package billing

import "errors"

var (
	// ErrUnresolvableReference: the event names no invoice or payment we know.
	// Such events are queued for manual review, never dropped.
	ErrUnresolvableReference = errors.New("unresolvable invoice reference")
	ErrUnknownProvider       = errors.New("unknown payment provider")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrInvalidPayload        = errors.New("invalid webhook payload")
	ErrInvoiceAlreadyPaid    = errors.New("invoice is already paid")
)

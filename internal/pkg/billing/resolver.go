package billing

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// resolution is the invoice an event applies to and, when one exists, the
// payment record it continues.
type resolution struct {
	InvoiceID string
	Payment   *models.Payment
}

// resolve looks the event up by provider transaction id first, then by the
// external reference stored when the payment was started, then by a plain
// invoice id.
func (s *Service) resolve(ctx context.Context, ev *PaymentEvent) (*resolution, error) {
	if ev.ProviderTransactionID != "" {
		p, err := s.repo.FindPaymentByProviderTransaction(ctx, ev.Provider, ev.ProviderTransactionID)
		if err == nil {
			return &resolution{InvoiceID: p.InvoiceID, Payment: p}, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}

	if ref := ev.InvoiceRef.ExternalReference; ref != "" {
		p, err := s.repo.FindPaymentByExternalReference(ctx, ref)
		switch {
		case err == nil:
			// The attempt already carries another transaction: this is a
			// second payment for the same invoice, not a continuation.
			if txn := p.TransactionID(); txn != "" && txn != ev.ProviderTransactionID {
				return &resolution{InvoiceID: p.InvoiceID}, nil
			}
			return &resolution{InvoiceID: p.InvoiceID, Payment: p}, nil
		case !isNotFound(err):
			return nil, err
		}
	}

	if id := ev.InvoiceRef.InvoiceID; id != "" {
		inv, err := s.repo.GetInvoice(ctx, id)
		if err == nil {
			return &resolution{InvoiceID: inv.ID}, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %s transaction %q (invoice %q, reference %q)", ErrUnresolvableReference,
		ev.Provider, ev.ProviderTransactionID, ev.InvoiceRef.InvoiceID, ev.InvoiceRef.ExternalReference)
}

// reviewReference identifies an unresolvable event in the review queue.
func reviewReference(ev *PaymentEvent) string {
	switch {
	case ev.ProviderTransactionID != "":
		return ev.Provider + ":" + ev.ProviderTransactionID
	case ev.ProviderEventID != "":
		return ev.Provider + ":event:" + ev.ProviderEventID
	case ev.InvoiceRef.ExternalReference != "":
		return ev.Provider + ":ref:" + ev.InvoiceRef.ExternalReference
	default:
		return ev.Provider + ":invoice:" + ev.InvoiceRef.InvoiceID
	}
}

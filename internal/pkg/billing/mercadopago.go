package billing

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// mercadoPagoPayment is the payment resource as returned by /v1/payments.
// The notification relay posts the full resource, not the bare id notice.
type mercadoPagoPayment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	TransactionAmount json.Number `json:"transaction_amount"`
	CurrencyID        string      `json:"currency_id"`
	DateApproved      string      `json:"date_approved"`
	DateLastUpdated   string      `json:"date_last_updated"`
	Metadata          struct {
		InvoiceID string `json:"invoice_id"`
	} `json:"metadata"`
	Action string `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// MercadoPagoMapper maps MercadoPago payment resources.
type MercadoPagoMapper struct{}

func (MercadoPagoMapper) Provider() string { return models.PaymentProviderMercadoPago }

func (MercadoPagoMapper) Map(payload []byte) (*PaymentEvent, error) {
	var p mercadoPagoPayment
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, invalidPayload("mercadopago: %v", err)
	}
	if p.ID.String() == "" {
		if p.Data.ID.String() != "" {
			return nil, invalidPayload("mercadopago: notification for payment %s carries no payment resource", p.Data.ID.String())
		}
		return nil, invalidPayload("mercadopago: id missing")
	}

	ev := &PaymentEvent{
		Provider:              models.PaymentProviderMercadoPago,
		ProviderTransactionID: p.ID.String(),
		ProviderEventID:       p.ID.String() + ":" + strings.ToLower(p.Status),
		EventType:             "payment." + strings.ToLower(p.Status),
		ObservedStatus:        mercadoPagoStatus(p.Status),
		Currency:              strings.ToUpper(p.CurrencyID),
		InvoiceRef: InvoiceRef{
			InvoiceID:         strings.TrimSpace(p.Metadata.InvoiceID),
			ExternalReference: strings.TrimSpace(p.ExternalReference),
		},
		OccurredAt: parseTimeOr(time.Now().UTC(), p.DateApproved, p.DateLastUpdated),
		Raw:        payload,
	}
	if v := p.TransactionAmount.String(); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, invalidPayload("mercadopago: transaction_amount %q", v)
		}
		ev.Amount = amount
	}
	return ev, nil
}

func mercadoPagoStatus(status string) ObservedStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved":
		return StatusCompleted
	case "pending", "in_process", "authorized", "in_mediation":
		return StatusPending
	case "rejected":
		return StatusFailed
	case "cancelled":
		return StatusCancelled
	}
	// refunded, charged_back
	return StatusUnsupported
}

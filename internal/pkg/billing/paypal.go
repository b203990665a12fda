package billing

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

type payPalWebhook struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	CreateTime string         `json:"create_time"`
	Resource   payPalResource `json:"resource"`
}

type payPalResource struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id"`
	// Merchant invoice number; we send our invoice id.
	InvoiceID string `json:"invoice_id"`
	Amount    struct {
		CurrencyCode string `json:"currency_code"`
		Value        string `json:"value"`
	} `json:"amount"`
	UpdateTime        string `json:"update_time"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

// PayPalMapper maps PAYMENT.CAPTURE.* webhook events.
type PayPalMapper struct{}

func (PayPalMapper) Provider() string { return models.PaymentProviderPayPal }

func (PayPalMapper) Map(payload []byte) (*PaymentEvent, error) {
	var wh payPalWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, invalidPayload("paypal: %v", err)
	}
	if strings.TrimSpace(wh.Resource.ID) == "" {
		return nil, invalidPayload("paypal: resource.id missing")
	}

	ev := &PaymentEvent{
		Provider:              models.PaymentProviderPayPal,
		ProviderTransactionID: strings.TrimSpace(wh.Resource.ID),
		ProviderEventID:       strings.TrimSpace(wh.ID),
		EventType:             wh.EventType,
		ObservedStatus:        payPalStatus(wh.EventType, wh.Resource.Status),
		Currency:              strings.ToUpper(wh.Resource.Amount.CurrencyCode),
		InvoiceRef: InvoiceRef{
			InvoiceID:         strings.TrimSpace(wh.Resource.InvoiceID),
			ExternalReference: firstNonEmpty(wh.Resource.CustomID, wh.Resource.SupplementaryData.RelatedIDs.OrderID),
		},
		OccurredAt: parseTimeOr(time.Now().UTC(), wh.Resource.UpdateTime, wh.CreateTime),
		Raw:        payload,
	}
	if v := strings.TrimSpace(wh.Resource.Amount.Value); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, invalidPayload("paypal: amount %q", v)
		}
		ev.Amount = amount
	}
	return ev, nil
}

func payPalStatus(eventType, resourceStatus string) ObservedStatus {
	switch strings.ToUpper(strings.TrimSpace(eventType)) {
	case "PAYMENT.CAPTURE.COMPLETED":
		return StatusCompleted
	case "PAYMENT.CAPTURE.PENDING":
		return StatusPending
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		return StatusFailed
	case "CHECKOUT.ORDER.VOIDED":
		return StatusCancelled
	case "PAYMENT.CAPTURE.REFUNDED", "PAYMENT.CAPTURE.REVERSED":
		return StatusUnsupported
	}
	// Fall back to the resource status for unknown event types.
	switch strings.ToUpper(strings.TrimSpace(resourceStatus)) {
	case "COMPLETED":
		return StatusCompleted
	case "PENDING":
		return StatusPending
	case "DECLINED", "FAILED":
		return StatusFailed
	}
	return StatusUnsupported
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func parseTimeOr(def time.Time, values ...string) time.Time {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC()
		}
	}
	return def
}

package billing

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// bankTransferConfirmation is posted by the bank reconciliation import.
type bankTransferConfirmation struct {
	ConfirmationID string          `json:"confirmation_id"`
	InvoiceID      string          `json:"invoice_id"`
	Reference      string          `json:"reference"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	ConfirmedAt    string          `json:"confirmed_at"`
}

type BankTransferMapper struct{}

func (BankTransferMapper) Provider() string { return models.PaymentProviderBankTransfer }

func (BankTransferMapper) Map(payload []byte) (*PaymentEvent, error) {
	var c bankTransferConfirmation
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, invalidPayload("bank_transfer: %v", err)
	}
	if strings.TrimSpace(c.ConfirmationID) == "" {
		return nil, invalidPayload("bank_transfer: confirmation_id missing")
	}

	var status ObservedStatus
	switch strings.ToLower(strings.TrimSpace(c.Status)) {
	case "confirmed", "completed":
		status = StatusCompleted
	case "rejected", "returned":
		status = StatusFailed
	case "pending":
		status = StatusPending
	default:
		status = StatusUnsupported
	}

	return &PaymentEvent{
		Provider:              models.PaymentProviderBankTransfer,
		ProviderTransactionID: strings.TrimSpace(c.ConfirmationID),
		ProviderEventID:       strings.TrimSpace(c.ConfirmationID) + ":" + string(status),
		EventType:             "transfer." + string(status),
		ObservedStatus:        status,
		Amount:                c.Amount,
		Currency:              strings.ToUpper(c.Currency),
		InvoiceRef: InvoiceRef{
			InvoiceID:         strings.TrimSpace(c.InvoiceID),
			ExternalReference: strings.TrimSpace(c.Reference),
		},
		OccurredAt: parseTimeOr(time.Now().UTC(), c.ConfirmedAt),
		Raw:        payload,
	}, nil
}

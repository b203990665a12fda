package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// NewManualEvent synthesizes the canonical event for an administrative
// "mark as paid" action. Each call gets a fresh transaction id.
func NewManualEvent(invoiceID, actor, note string) *PaymentEvent {
	now := time.Now().UTC()
	raw, _ := json.Marshal(map[string]string{
		"actor":     actor,
		"note":      note,
		"marked_at": now.Format(time.RFC3339),
	})
	return &PaymentEvent{
		Provider:              models.PaymentProviderManual,
		ProviderTransactionID: "manual-" + uuid.New().String(),
		EventType:             "manual.mark_paid",
		InvoiceRef:            InvoiceRef{InvoiceID: invoiceID},
		ObservedStatus:        StatusCompleted,
		OccurredAt:            now,
		Raw:                   raw,
	}
}

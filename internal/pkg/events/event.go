package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type names an outbound domain event.
type Type string

const (
	TypeInvoiceSettled Type = "invoice.settled"
	TypeInvoiceOverdue Type = "invoice.overdue"
)

// Event is the payload delivered to notification and UI-refresh consumers.
type Event struct {
	Type       Type            `json:"type"`
	InvoiceID  string          `json:"invoice_id"`
	MemberID   string          `json:"member_id"`
	Amount     decimal.Decimal `json:"amount"`
	SettledAt  *time.Time      `json:"settled_at,omitempty"`
	DueDate    *time.Time      `json:"due_date,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// InvoiceSettled builds the event emitted after an invoice transitions to paid.
func InvoiceSettled(invoiceID, memberID string, amount decimal.Decimal, settledAt time.Time) Event {
	at := settledAt.UTC()
	return Event{
		Type:       TypeInvoiceSettled,
		InvoiceID:  invoiceID,
		MemberID:   memberID,
		Amount:     amount,
		SettledAt:  &at,
		OccurredAt: at,
	}
}

// InvoiceOverdue builds the event emitted once per pending to overdue transition.
func InvoiceOverdue(invoiceID, memberID string, amount decimal.Decimal, dueDate time.Time) Event {
	due := dueDate.UTC()
	return Event{
		Type:       TypeInvoiceOverdue,
		InvoiceID:  invoiceID,
		MemberID:   memberID,
		Amount:     amount,
		DueDate:    &due,
		OccurredAt: time.Now().UTC(),
	}
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DebtReasonInvoiceIssued  = "invoice_issued"
	DebtReasonInvoiceSettled = "invoice_settled"
)

// DebtAdjustment marks that the debt change for an invoice transition was
// applied. Unique on (invoice_id, reason), so each change happens once.
type DebtAdjustment struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	InvoiceID string          `gorm:"type:varchar(64);not null;index:ux_debt_adjustments_invoice_reason,unique,priority:1" json:"invoice_id"`
	Reason    string          `gorm:"type:varchar(32);not null;index:ux_debt_adjustments_invoice_reason,unique,priority:2" json:"reason"`
	MemberID  string          `gorm:"type:varchar(64);not null;index" json:"member_id"`
	Delta     decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"delta"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

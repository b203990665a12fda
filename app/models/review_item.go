package models

import "time"

const (
	ReviewKindUnresolvableReference = "unresolvable_reference"
	ReviewKindInvoiceNotFound       = "invoice_not_found"
	ReviewKindDuplicatePayment      = "duplicate_payment"
	ReviewKindAmountMismatch        = "amount_mismatch"
	ReviewKindStuckSettlement       = "stuck_settlement"
)

const (
	ReviewStatusOpen     = "open"
	ReviewStatusResolved = "resolved"
)

// ReviewItem is an entry in the operator queue for manual reconciliation.
// Reference identifies the subject (payment id, transaction id, ...) and is
// unique per kind so repeated detections do not pile up.
type ReviewItem struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Kind       string     `gorm:"type:varchar(32);not null;index:ux_review_items_kind_reference,unique,priority:1;index" json:"kind"`
	Reference  string     `gorm:"type:varchar(191);not null;index:ux_review_items_kind_reference,unique,priority:2" json:"reference"`
	Provider   string     `gorm:"type:varchar(20);not null;default:''" json:"provider"`
	InvoiceID  string     `gorm:"type:varchar(64);not null;default:'';index" json:"invoice_id"`
	PaymentID  string     `gorm:"type:varchar(64);not null;default:''" json:"payment_id"`
	Detail     string     `gorm:"type:text" json:"detail"`
	Status     string     `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	ResolvedBy string     `gorm:"type:varchar(100);not null;default:''" json:"resolved_by"`
	ResolvedAt *time.Time `gorm:"type:timestamp;default:null" json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

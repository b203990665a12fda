package models

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	InvoiceStatusPending = "pending"
	InvoiceStatusOverdue = "overdue"
	InvoiceStatusPaid    = "paid"
)

// Invoice is a billing document for one member and one period.
// Paid is terminal; only the settlement engine may set it.
type Invoice struct {
	ID                 string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	MemberID           string          `gorm:"type:varchar(64);not null;index:ux_invoices_member_period,unique,priority:1;index:idx_invoices_member_status,priority:1" json:"member_id" validate:"required,max=64"`
	Period             string          `gorm:"type:varchar(32);not null;index:ux_invoices_member_period,unique,priority:2" json:"period" validate:"required,max=32"`
	AmountDue          decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount_due"`
	Currency           string          `gorm:"type:varchar(3);not null;default:'CLP'" json:"currency" validate:"omitempty,len=3"`
	Status             string          `gorm:"type:varchar(16);not null;default:'pending';index:idx_invoices_status_due,priority:1;index:idx_invoices_member_status,priority:2" json:"status" validate:"omitempty,oneof=pending overdue paid"`
	IssuedAt           time.Time       `gorm:"type:timestamp;not null" json:"issued_at"`
	DueDate            time.Time       `gorm:"type:timestamp;not null;index:idx_invoices_status_due,priority:2" json:"due_date" validate:"required"`
	PaidAt             *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	OverdueAt          *time.Time      `gorm:"type:timestamp;default:null" json:"overdue_at,omitempty"`
	SettledByPaymentID *string         `gorm:"type:varchar(64);default:null" json:"settled_by_payment_id,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.Status == "" {
		i.Status = InvoiceStatusPending
	}
	return nil
}

func (i *Invoice) Validate() error {
	v := validator.New()
	if err := v.Struct(i); err != nil {
		return err
	}
	if !i.AmountDue.IsPositive() {
		return errors.New("amount_due must be positive")
	}
	return nil
}

func (i *Invoice) IsPaid() bool {
	return i.Status == InvoiceStatusPaid
}

// IsValidInvoiceStatus reports whether s is a known invoice status.
func IsValidInvoiceStatus(s string) bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusOverdue, InvoiceStatusPaid:
		return true
	}
	return false
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PaymentProviderPayPal       = "paypal"
	PaymentProviderMercadoPago  = "mercadopago"
	PaymentProviderManual       = "manual"
	PaymentProviderBankTransfer = "bank_transfer"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

// Payment records one payment attempt against an invoice. Completed is terminal.
type Payment struct {
	ID                    string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	InvoiceID             string          `gorm:"type:varchar(64);not null;index" json:"invoice_id"`
	MemberID              string          `gorm:"type:varchar(64);not null;index" json:"member_id"`
	Provider              string          `gorm:"type:varchar(20);not null;index:ux_payments_provider_txn,unique,priority:1" json:"provider"`
	ProviderTransactionID *string         `gorm:"type:varchar(191);default:null;index:ux_payments_provider_txn,unique,priority:2" json:"provider_transaction_id,omitempty"`
	ExternalReference     *string         `gorm:"type:varchar(191);default:null;uniqueIndex" json:"external_reference,omitempty"`
	Amount                decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Status                string          `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	RawMetadata           datatypes.JSON  `json:"raw_metadata,omitempty"`
	CompletedAt           *time.Time      `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = PaymentStatusPending
	}
	return nil
}

// TransactionID returns the provider transaction id or "".
func (p *Payment) TransactionID() string {
	if p.ProviderTransactionID == nil {
		return ""
	}
	return *p.ProviderTransactionID
}

// IdempotencyKey is the ledger key for this payment. Payments completed
// without a provider transaction id fall back to their own id.
func (p *Payment) IdempotencyKey() (string, string) {
	if txn := p.TransactionID(); txn != "" {
		return p.Provider, txn
	}
	return p.Provider, "payment:" + p.ID
}

func IsKnownPaymentProvider(provider string) bool {
	switch provider {
	case PaymentProviderPayPal, PaymentProviderMercadoPago, PaymentProviderManual, PaymentProviderBankTransfer:
		return true
	}
	return false
}

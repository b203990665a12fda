package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SettlementOutcomeSettled            = "settled"
	SettlementOutcomeInvoiceAlreadyPaid = "invoice_already_paid"
)

// SettlementRecord is the idempotency ledger row. The unique index on
// (provider, provider_transaction_id) absorbs duplicate deliveries.
type SettlementRecord struct {
	ID                    uint            `gorm:"primaryKey" json:"id"`
	Provider              string          `gorm:"type:varchar(20);not null;index:ux_settlement_records_provider_txn,unique,priority:1" json:"provider"`
	ProviderTransactionID string          `gorm:"type:varchar(191);not null;index:ux_settlement_records_provider_txn,unique,priority:2" json:"provider_transaction_id"`
	InvoiceID             string          `gorm:"type:varchar(64);not null;index" json:"invoice_id"`
	PaymentID             string          `gorm:"type:varchar(64);not null;index" json:"payment_id"`
	Amount                decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Outcome               string          `gorm:"type:varchar(32);not null;default:''" json:"outcome"`
	CreatedAt             time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Member holds the debt ledger of one member.
// TotalDebt is the sum of amounts due of all non-paid invoices.
type Member struct {
	ID        string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string          `gorm:"type:varchar(255)" json:"name"`
	TotalDebt decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"total_debt"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// InvoiceRepository is the read side of invoices. Writes go through the
// settlement engine and the sweepers.
type InvoiceRepository interface {
	GetByID(id string) (*models.Invoice, error)
	ListByMember(memberID, status string, offset, limit int) ([]models.Invoice, error)
	CountByMember(memberID, status string) (int64, error)
	List(status string, offset, limit int) ([]models.Invoice, error)
	CountByStatus() (map[string]int64, error)
}

// PaymentRepository defines the read operations on payments
type PaymentRepository interface {
	GetByID(id string) (*models.Payment, error)
	ListByInvoice(invoiceID string) ([]models.Payment, error)
	CountByStatus() (map[string]int64, error)
}

// MemberRepository defines member lookups
type MemberRepository interface {
	GetByID(id string) (*models.Member, error)
	List(offset, limit int) ([]models.Member, error)
	Count() (int64, error)
}

// ReviewItemRepository backs the operator review queue
type ReviewItemRepository interface {
	GetByID(id uint) (*models.ReviewItem, error)
	List(status, kind string, offset, limit int) ([]models.ReviewItem, error)
	Count(status, kind string) (int64, error)
	Resolve(id uint, resolvedBy, note string, at time.Time) (bool, error)
}

// WebhookEventRepository gives access to the raw webhook inbox
type WebhookEventRepository interface {
	GetByID(id uint) (*models.BillingWebhookEvent, error)
	ListFailed(offset, limit int) ([]models.BillingWebhookEvent, error)
	CountFailed() (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Invoice      InvoiceRepository
	Payment      PaymentRepository
	Member       MemberRepository
	ReviewItem   ReviewItemRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Invoice:      NewInvoiceRepository(db),
		Payment:      NewPaymentRepository(db),
		Member:       NewMemberRepository(db),
		ReviewItem:   NewReviewItemRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}

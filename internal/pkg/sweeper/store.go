package sweeper

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// Store is the narrow read/update surface the sweepers need.
type Store interface {
	ListDuePending(ctx context.Context, now time.Time, afterID string, limit int) ([]models.Invoice, error)
	MarkOverdue(ctx context.Context, invoiceID string, at time.Time) (bool, error)
	ListUnsettledCompleted(ctx context.Context, afterID string, limit int) ([]models.Payment, error)
	InvoiceStatus(ctx context.Context, invoiceID string) (string, error)
	OpenReviewItem(ctx context.Context, item *models.ReviewItem) (bool, error)
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) ListDuePending(ctx context.Context, now time.Time, afterID string, limit int) ([]models.Invoice, error) {
	var out []models.Invoice
	err := s.db.WithContext(ctx).
		Where("status = ? AND due_date < ? AND id > ?", models.InvoiceStatusPending, now, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkOverdue only moves pending invoices; a concurrent settlement wins.
func (s *gormStore) MarkOverdue(ctx context.Context, invoiceID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ?", invoiceID, models.InvoiceStatusPending).
		Updates(map[string]interface{}{
			"status":     models.InvoiceStatusOverdue,
			"overdue_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListUnsettledCompleted skips payments already waiting in the review queue
// as stuck; they come back once the item is resolved.
func (s *gormStore) ListUnsettledCompleted(ctx context.Context, afterID string, limit int) ([]models.Payment, error) {
	var out []models.Payment
	queued := s.db.Model(&models.ReviewItem{}).
		Select("1").
		Where("review_items.kind = ? AND review_items.reference = payments.id AND review_items.status = ?",
			models.ReviewKindStuckSettlement, models.ReviewStatusOpen)
	err := s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("payments.*").
		Joins("JOIN invoices ON invoices.id = payments.invoice_id").
		Where("payments.status = ? AND invoices.status <> ? AND payments.id > ?",
			models.PaymentStatusCompleted, models.InvoiceStatusPaid, afterID).
		Where("NOT EXISTS (?)", queued).
		Order("payments.id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *gormStore) InvoiceStatus(ctx context.Context, invoiceID string) (string, error) {
	var status string
	err := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Pluck("status", &status).Error
	return status, err
}

func (s *gormStore) OpenReviewItem(ctx context.Context, item *models.ReviewItem) (bool, error) {
	if item.Status == "" {
		item.Status = models.ReviewStatusOpen
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "reference"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, outcome, processingError string) error
	GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error)

	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	FindPaymentByProviderTransaction(ctx context.Context, provider, txnID string) (*models.Payment, error)
	FindPaymentByExternalReference(ctx context.Context, ref string) (*models.Payment, error)
	CreatePayment(ctx context.Context, p *models.Payment) error
	UpdatePaymentStatusIfNotCompleted(ctx context.Context, id, status, txnID string) (bool, error)

	OpenReviewItem(ctx context.Context, item *models.ReviewItem) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, outcome, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"outcome":          outcome,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error) {
	var ev models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).First(&ev, id).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *gormRepository) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) FindPaymentByProviderTransaction(ctx context.Context, provider, txnID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_transaction_id = ?", provider, txnID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) FindPaymentByExternalReference(ctx context.Context, ref string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("external_reference = ?", ref).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) CreatePayment(ctx context.Context, p *models.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// UpdatePaymentStatusIfNotCompleted never downgrades a completed payment.
func (r *gormRepository) UpdatePaymentStatusIfNotCompleted(ctx context.Context, id, status, txnID string) (bool, error) {
	updates := map[string]interface{}{"status": status}
	if txnID != "" {
		updates["provider_transaction_id"] = txnID
	}
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status <> ?", id, models.PaymentStatusCompleted).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) OpenReviewItem(ctx context.Context, item *models.ReviewItem) (bool, error) {
	if item.Status == "" {
		item.Status = models.ReviewStatusOpen
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "reference"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

type webhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) GetByID(id uint) (*models.BillingWebhookEvent, error) {
	var ev models.BillingWebhookEvent
	if err := r.db.First(&ev, id).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListFailed returns deliveries whose last processing ended with an error
func (r *webhookEventRepository) ListFailed(offset, limit int) ([]models.BillingWebhookEvent, error) {
	var out []models.BillingWebhookEvent
	err := r.db.Where("processing_error <> ''").
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

func (r *webhookEventRepository) CountFailed() (int64, error) {
	var count int64
	err := r.db.Model(&models.BillingWebhookEvent{}).Where("processing_error <> ''").Count(&count).Error
	return count, err
}

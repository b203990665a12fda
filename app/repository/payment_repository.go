package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) GetByID(id string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListByInvoice returns all payment attempts of an invoice, oldest first
func (r *paymentRepository) ListByInvoice(invoiceID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("invoice_id = ?", invoiceID).Order("created_at ASC").Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) CountByStatus() (map[string]int64, error) {
	return countByStatus(r.db.Model(&models.Payment{}))
}

package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// invoiceRepository implements the InvoiceRepository interface
type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository instance
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

// GetByID retrieves an invoice by its ID
func (r *invoiceRepository) GetByID(id string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.Where("id = ?", id).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListByMember returns a member's invoices, newest due date first. An
// empty status lists all of them.
func (r *invoiceRepository) ListByMember(memberID, status string, offset, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	q := r.db.Where("member_id = ?", memberID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("due_date DESC").Offset(offset).Limit(limit).Find(&invoices).Error
	return invoices, err
}

func (r *invoiceRepository) CountByMember(memberID, status string) (int64, error) {
	var count int64
	q := r.db.Model(&models.Invoice{}).Where("member_id = ?", memberID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&count).Error
	return count, err
}

// List returns invoices across members
func (r *invoiceRepository) List(status string, offset, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	q := r.db.Model(&models.Invoice{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("due_date DESC").Offset(offset).Limit(limit).Find(&invoices).Error
	return invoices, err
}

// CountByStatus returns invoice counts grouped by status
func (r *invoiceRepository) CountByStatus() (map[string]int64, error) {
	return countByStatus(r.db.Model(&models.Invoice{}))
}

type statusCount struct {
	Status string
	Count  int64
}

func countByStatus(q *gorm.DB) (map[string]int64, error) {
	var rows []statusCount
	if err := q.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

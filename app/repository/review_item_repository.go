package repository

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

type reviewItemRepository struct {
	db *gorm.DB
}

// NewReviewItemRepository creates a new review queue repository instance
func NewReviewItemRepository(db *gorm.DB) ReviewItemRepository {
	return &reviewItemRepository{db: db}
}

func (r *reviewItemRepository) GetByID(id uint) (*models.ReviewItem, error) {
	var item models.ReviewItem
	if err := r.db.First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *reviewItemRepository) filtered(status, kind string) *gorm.DB {
	q := r.db.Model(&models.ReviewItem{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	return q
}

// List returns review items, oldest first so the queue is worked in order
func (r *reviewItemRepository) List(status, kind string, offset, limit int) ([]models.ReviewItem, error) {
	var items []models.ReviewItem
	err := r.filtered(status, kind).Order("created_at ASC, id ASC").Offset(offset).Limit(limit).Find(&items).Error
	return items, err
}

func (r *reviewItemRepository) Count(status, kind string) (int64, error) {
	var count int64
	err := r.filtered(status, kind).Count(&count).Error
	return count, err
}

// Resolve closes an open item. It reports false when the item was already
// resolved or does not exist.
func (r *reviewItemRepository) Resolve(id uint, resolvedBy, note string, at time.Time) (bool, error) {
	item, err := r.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if item.Status != models.ReviewStatusOpen {
		return false, nil
	}

	updates := map[string]interface{}{
		"status":      models.ReviewStatusResolved,
		"resolved_by": strings.TrimSpace(resolvedBy),
		"resolved_at": at,
	}
	if note = strings.TrimSpace(note); note != "" {
		updates["detail"] = strings.TrimSpace(item.Detail + "\nresolution: " + note)
	}
	res := r.db.Model(&models.ReviewItem{}).
		Where("id = ? AND status = ?", id, models.ReviewStatusOpen).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

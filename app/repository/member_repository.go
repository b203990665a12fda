package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository creates a new member repository instance
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

// GetByID retrieves a member with its current total debt
func (r *memberRepository) GetByID(id string) (*models.Member, error) {
	var m models.Member
	if err := r.db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *memberRepository) List(offset, limit int) ([]models.Member, error) {
	var members []models.Member
	err := r.db.Order("id ASC").Offset(offset).Limit(limit).Find(&members).Error
	return members, err
}

func (r *memberRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Member{}).Count(&count).Error
	return count, err
}

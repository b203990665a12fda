package settlement

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// RecordIfNew inserts the ledger marker for (provider, transaction id).
// The unique index decides; there is no read before the write, so two
// concurrent deliveries cannot both see the pair as new.
func (s *gormStore) RecordIfNew(ctx context.Context, rec *models.SettlementRecord) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_transaction_id"},
		},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *gormStore) SetOutcome(ctx context.Context, recordID uint, outcome string) error {
	return s.db.WithContext(ctx).Model(&models.SettlementRecord{}).
		Where("id = ?", recordID).
		Update("outcome", outcome).Error
}

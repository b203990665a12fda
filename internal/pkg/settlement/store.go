package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// Store is the persistence boundary of the engine. Every status change is
// a conditional update on a single row; uniqueness is enforced by indexes.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	RecordIfNew(ctx context.Context, rec *models.SettlementRecord) (bool, error)
	SetOutcome(ctx context.Context, recordID uint, outcome string) error

	LockInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error)
	MarkInvoicePaid(ctx context.Context, invoiceID, paymentID string, at time.Time) (bool, error)
	CreateInvoice(ctx context.Context, inv *models.Invoice) error
	FindInvoiceByPeriod(ctx context.Context, memberID, period string) (*models.Invoice, error)

	EnsureMember(ctx context.Context, memberID, name string) error
	LockMember(ctx context.Context, memberID string) (*models.Member, error)
	ApplyDebtAdjustment(ctx context.Context, adj *models.DebtAdjustment) (bool, error)
	SumOpenInvoices(ctx context.Context, memberID string) (decimal.Decimal, error)
	SetMemberDebt(ctx context.Context, memberID string, total decimal.Decimal) error

	MarkPaymentCompleted(ctx context.Context, p *models.Payment, at time.Time) error
	OpenReviewItem(ctx context.Context, item *models.ReviewItem) (bool, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a Store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func (s *gormStore) LockInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", invoiceID).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// MarkInvoicePaid reports true only when this call moved the invoice to paid.
func (s *gormStore) MarkInvoicePaid(ctx context.Context, invoiceID, paymentID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status <> ?", invoiceID, models.InvoiceStatusPaid).
		Updates(map[string]interface{}{
			"status":                models.InvoiceStatusPaid,
			"paid_at":               at,
			"settled_by_payment_id": paymentID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	return s.db.WithContext(ctx).Create(inv).Error
}

func (s *gormStore) FindInvoiceByPeriod(ctx context.Context, memberID, period string) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).Where("member_id = ? AND period = ?", memberID, period).First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *gormStore) EnsureMember(ctx context.Context, memberID, name string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&models.Member{ID: memberID, Name: name, TotalDebt: decimal.Zero}).Error
}

func (s *gormStore) LockMember(ctx context.Context, memberID string) (*models.Member, error) {
	var m models.Member
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", memberID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ApplyDebtAdjustment inserts the (invoice, reason) marker and changes the
// member debt only when the marker is new.
func (s *gormStore) ApplyDebtAdjustment(ctx context.Context, adj *models.DebtAdjustment) (bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "invoice_id"}, {Name: "reason"}},
		DoNothing: true,
	}).Create(adj)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if err := s.EnsureMember(ctx, adj.MemberID, ""); err != nil {
		return false, err
	}
	if err := db.Model(&models.Member{}).
		Where("id = ?", adj.MemberID).
		Update("total_debt", gorm.Expr("total_debt + ?", adj.Delta)).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (s *gormStore) SumOpenInvoices(ctx context.Context, memberID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Select("COALESCE(SUM(amount_due), 0)").
		Where("member_id = ? AND status <> ?", memberID, models.InvoiceStatusPaid).
		Row().Scan(&total)
	return total, err
}

func (s *gormStore) SetMemberDebt(ctx context.Context, memberID string, total decimal.Decimal) error {
	return s.db.WithContext(ctx).Model(&models.Member{}).
		Where("id = ?", memberID).
		Update("total_debt", total).Error
}

// MarkPaymentCompleted is an idempotent set: an already completed payment
// is left alone, a missing one is created as completed.
func (s *gormStore) MarkPaymentCompleted(ctx context.Context, p *models.Payment, at time.Time) error {
	db := s.db.WithContext(ctx)

	updates := map[string]interface{}{
		"status":       models.PaymentStatusCompleted,
		"completed_at": at,
	}
	if p.ProviderTransactionID != nil && *p.ProviderTransactionID != "" {
		updates["provider_transaction_id"] = *p.ProviderTransactionID
	}
	if !p.Amount.IsZero() {
		updates["amount"] = p.Amount
	}
	if len(p.RawMetadata) > 0 {
		updates["raw_metadata"] = p.RawMetadata
	}

	res := db.Model(&models.Payment{}).
		Where("id = ? AND status <> ?", p.ID, models.PaymentStatusCompleted).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		p.Status = models.PaymentStatusCompleted
		p.CompletedAt = &at
		return nil
	}

	var count int64
	if err := db.Model(&models.Payment{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	p.Status = models.PaymentStatusCompleted
	p.CompletedAt = &at
	return db.Create(p).Error
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

package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/mapato/taxcore/internal/payment/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.PaymentEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, filing_id, external_ref, amount, source, status, paid_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_ref) DO NOTHING`,
		event.ID,
		event.FilingID,
		event.ExternalRef,
		event.Amount,
		event.Source,
		event.Status,
		event.PaidAt,
		event.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByRef(ctx context.Context, db *gorm.DB, externalRef string) (*domain.PaymentEvent, error) {
	var event domain.PaymentEvent
	err := db.WithContext(ctx).Where("external_ref = ?", externalRef).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, event *domain.PaymentEvent) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events SET status = ?, paid_at = ? WHERE id = ?`,
		event.Status,
		event.PaidAt,
		event.ID,
	).Error
}

func (r *repo) ListByFiling(ctx context.Context, db *gorm.DB, filingID snowflake.ID) ([]*domain.PaymentEvent, error) {
	var events []*domain.PaymentEvent
	err := db.WithContext(ctx).
		Where("filing_id = ?", filingID).
		Order("created_at asc, id asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) SumConfirmedByFiling(ctx context.Context, db *gorm.DB, filingID snowflake.ID) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := db.WithContext(ctx).Model(&domain.PaymentEvent{}).
		Select("SUM(amount)").
		Where("filing_id = ? AND status = ?", filingID, domain.StatusConfirmed).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

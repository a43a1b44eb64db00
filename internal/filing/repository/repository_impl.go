package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mapato/taxcore/internal/filing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, filing *domain.Filing) error {
	return db.WithContext(ctx).Create(filing).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Filing, error) {
	var item domain.Filing
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Filing, error) {
	stmt := db.WithContext(ctx)
	// SQLite locks the whole database per write transaction and does not
	// parse FOR UPDATE.
	if db.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var item domain.Filing
	err := stmt.Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, filing *domain.Filing) error {
	filing.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Save(filing).Error
}

func (r *repo) HasOpenFiling(ctx context.Context, db *gorm.DB, taxpayerID snowflake.ID, year int, filingType string, excludeIDs ...snowflake.ID) (bool, error) {
	stmt := db.WithContext(ctx).Model(&domain.Filing{}).
		Where("taxpayer_id = ? AND year = ? AND filing_type = ?", taxpayerID, year, filingType).
		Where("status NOT IN ?", []domain.Status{domain.StatusRejected, domain.StatusSuperseded})
	if len(excludeIDs) > 0 {
		stmt = stmt.Where("id NOT IN ?", excludeIDs)
	}

	var count int64
	if err := stmt.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Filing, error) {
	var filings []*domain.Filing
	stmt := db.WithContext(ctx).Model(&domain.Filing{}).
		Where("taxpayer_id = ?", filter.TaxpayerID)

	if filter.Year > 0 {
		stmt = stmt.Where("year = ?", filter.Year)
	}
	if filter.FilingType != "" {
		stmt = stmt.Where("filing_type = ?", filter.FilingType)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&filings).Error; err != nil {
		return nil, err
	}
	return filings, nil
}

func (r *repo) ListOverdueCandidates(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.Filing, error) {
	var filings []*domain.Filing
	stmt := db.WithContext(ctx).Model(&domain.Filing{}).
		Where("overdue = ?", false).
		Where("status NOT IN ?", []domain.Status{domain.StatusPaid, domain.StatusRejected, domain.StatusSuperseded}).
		Where("tax_due > paid_total").
		Where("due_date < ?", now.UTC()).
		Order("due_date asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&filings).Error; err != nil {
		return nil, err
	}
	return filings, nil
}

func (r *repo) ListSyncPending(ctx context.Context, db *gorm.DB, limit int) ([]*domain.Filing, error) {
	var filings []*domain.Filing
	stmt := db.WithContext(ctx).Model(&domain.Filing{}).
		Where("sync_pending = ?", true).
		Order("updated_at asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&filings).Error; err != nil {
		return nil, err
	}
	return filings, nil
}

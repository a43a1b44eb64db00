package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/mapato/taxcore/internal/amendment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, amendment *domain.Amendment) error {
	return db.WithContext(ctx).Create(amendment).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Amendment, error) {
	var item domain.Amendment
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListByFiling(ctx context.Context, db *gorm.DB, originalFilingID snowflake.ID) ([]*domain.Amendment, error) {
	var amendments []*domain.Amendment
	err := db.WithContext(ctx).
		Where("original_filing_id = ?", originalFilingID).
		Order("created_at desc, id desc").
		Find(&amendments).Error
	if err != nil {
		return nil, err
	}
	return amendments, nil
}

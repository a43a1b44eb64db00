package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/mapato/taxcore/internal/taxpayer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, taxpayer *domain.Taxpayer) error {
	return db.WithContext(ctx).Create(taxpayer).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Taxpayer, error) {
	var item domain.Taxpayer
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByPIN(ctx context.Context, db *gorm.DB, pin string) (*domain.Taxpayer, error) {
	var item domain.Taxpayer
	err := db.WithContext(ctx).Where("pin = ?", strings.ToUpper(strings.TrimSpace(pin))).First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, taxpayer *domain.Taxpayer) error {
	return db.WithContext(ctx).Save(taxpayer).Error
}

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, taxpayer *Taxpayer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Taxpayer, error)
	FindByPIN(ctx context.Context, db *gorm.DB, pin string) (*Taxpayer, error)
	Update(ctx context.Context, db *gorm.DB, taxpayer *Taxpayer) error
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	GetByPIN(ctx context.Context, pin string) (*Response, error)
	Deactivate(ctx context.Context, id string) (*Response, error)
}

type RegisterRequest struct {
	PIN   string `json:"pin"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Response struct {
	ID        string    `json:"id"`
	PIN       string    `json:"pin"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func ToResponse(t *Taxpayer) *Response {
	if t == nil {
		return nil
	}
	return &Response{
		ID:        t.ID.String(),
		PIN:       t.PIN,
		Name:      t.Name,
		Email:     t.Email,
		IsActive:  t.IsActive,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidPIN   = errors.New("invalid_pin")
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrNotFound     = errors.New("not_found")
	ErrPINExists    = errors.New("pin_exists")
)

// pinPattern matches a revenue authority PIN: a letter, nine digits and a
// trailing letter, e.g. P051234567A.
var pinPattern = regexp.MustCompile(`^[A-Z]\d{9}[A-Z]$`)

// Taxpayer is a registered filer identified by their authority PIN.
type Taxpayer struct {
	ID snowflake.ID `gorm:"primaryKey"`

	PIN   string `gorm:"column:pin;type:text;not null;uniqueIndex"`
	Name  string `gorm:"type:text;not null"`
	Email string `gorm:"type:text;not null"`

	IsActive bool `gorm:"column:is_active;not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Taxpayer) TableName() string { return "taxpayers" }

func (t *Taxpayer) Validate() error {
	if !ValidPIN(t.PIN) {
		return ErrInvalidPIN
	}
	if strings.TrimSpace(t.Name) == "" {
		return ErrInvalidName
	}
	if !strings.Contains(t.Email, "@") {
		return ErrInvalidEmail
	}
	return nil
}

// ValidPIN reports whether pin is structurally valid.
func ValidPIN(pin string) bool {
	return pinPattern.MatchString(strings.TrimSpace(pin))
}

package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidFiling = errors.New("invalid_filing")
	ErrInvalidRef    = errors.New("invalid_external_ref")
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrInvalidSource = errors.New("invalid_source")
	ErrEventNotFound = errors.New("payment_event_not_found")
	// ErrNotPayable marks a filing with no submission receipt yet, the
	// authority has nothing to take payment against.
	ErrNotPayable = errors.New("filing_not_payable")
)

// Payment channels accepted by the authority.
const (
	SourceMpesa = "mpesa"
	SourceBank  = "bank"
	SourceCard  = "card"
)

// Payment event statuses. Only confirmed amounts count toward a
// filing's paid total.
const (
	StatusInitiated = "initiated"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// PaymentEvent is one payment against a filing, keyed by the channel's
// external reference. Replays of the same reference are absorbed, never
// double counted.
type PaymentEvent struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	FilingID snowflake.ID `gorm:"column:filing_id;not null;index"`

	ExternalRef string          `gorm:"column:external_ref;type:text;not null;uniqueIndex"`
	Amount      decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Source      string          `gorm:"type:text;not null"`
	Status      string          `gorm:"type:text;not null"`

	PaidAt    *time.Time `gorm:"column:paid_at"`
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentEvent) TableName() string { return "payment_events" }

// ValidSource reports whether the payment channel is recognized.
func ValidSource(source string) bool {
	switch source {
	case SourceMpesa, SourceBank, SourceCard:
		return true
	default:
		return false
	}
}

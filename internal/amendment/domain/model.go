package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidReason       = errors.New("invalid_reason")
	ErrNotFound            = errors.New("not_found")
	ErrNotAmendable        = errors.New("filing_not_amendable")
	ErrNoChanges           = errors.New("no_changes")
	ErrAmendmentInProgress = errors.New("amendment_in_progress")
)

// Amendment links an accepted filing to the draft revision that corrects
// it. The original is only superseded once the authority accepts the
// replacement.
type Amendment struct {
	ID snowflake.ID `gorm:"primaryKey"`

	TaxpayerID       snowflake.ID `gorm:"column:taxpayer_id;not null;index"`
	OriginalFilingID snowflake.ID `gorm:"column:original_filing_id;not null;index"`
	AmendedFilingID  snowflake.ID `gorm:"column:amended_filing_id;not null"`

	Reason string `gorm:"type:text;not null"`

	// Diff records the changed fields as {"field": {"old": ..., "new": ...}}.
	Diff datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Amendment) TableName() string { return "amendments" }

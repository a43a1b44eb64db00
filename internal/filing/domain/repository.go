package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter narrows a filing query.
type ListFilter struct {
	TaxpayerID snowflake.ID
	Year       int
	FilingType string
	Status     Status
	Cursor     *Cursor
	Limit      int
}

// Cursor is the keyset position for filing pagination.
type Cursor struct {
	CreatedAt time.Time
	ID        snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, filing *Filing) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Filing, error)
	// FindByIDForUpdate locks the row for the enclosing transaction.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Filing, error)
	Update(ctx context.Context, db *gorm.DB, filing *Filing) error
	// HasOpenFiling reports whether an open filing already exists for
	// the taxpayer, year and type, excluding the given ids. An amendment
	// excludes both itself and the filing it supersedes.
	HasOpenFiling(ctx context.Context, db *gorm.DB, taxpayerID snowflake.ID, year int, filingType string, excludeIDs ...snowflake.ID) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Filing, error)
	// ListOverdueCandidates returns unpaid non-terminal filings past due
	// that are not yet flagged overdue.
	ListOverdueCandidates(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Filing, error)
	// ListSyncPending returns filings with an unresolved submission
	// outcome awaiting reconciliation.
	ListSyncPending(ctx context.Context, db *gorm.DB, limit int) ([]*Filing, error)
}

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mapato/taxcore/internal/deduction"
	filingdomain "github.com/mapato/taxcore/internal/filing/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, amendment *Amendment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Amendment, error)
	ListByFiling(ctx context.Context, db *gorm.DB, originalFilingID snowflake.ID) ([]*Amendment, error)
}

type Service interface {
	// CreateAmendment opens a draft revision of an accepted or paid
	// filing. The draft is submitted through the usual filing workflow.
	CreateAmendment(ctx context.Context, req CreateAmendmentRequest) (*CreateAmendmentResponse, error)
	Get(ctx context.Context, id string) (*Response, error)
	ListByFiling(ctx context.Context, filingID string) ([]Response, error)
}

type CreateAmendmentRequest struct {
	FilingID string `json:"filing_id"`
	Reason   string `json:"reason"`

	GrossIncome *decimal.Decimal   `json:"gross_income,omitempty"`
	Category    *string            `json:"category,omitempty"`
	Claims      *[]deduction.Claim `json:"deductions,omitempty"`
	FormsData   map[string]any     `json:"forms_data,omitempty"`
}

type Response struct {
	ID               string         `json:"id"`
	TaxpayerID       string         `json:"taxpayer_id"`
	OriginalFilingID string         `json:"original_filing_id"`
	AmendedFilingID  string         `json:"amended_filing_id"`
	Reason           string         `json:"reason"`
	Status           string         `json:"status"`
	Diff             map[string]any `json:"diff,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// DeriveStatus reports where an amendment stands by reading the replacing
// filing's lifecycle. The amendment row itself carries no state.
func DeriveStatus(s filingdomain.Status) string {
	switch s {
	case filingdomain.StatusDraft, filingdomain.StatusReady:
		return "draft"
	case filingdomain.StatusSubmitted:
		return "submitted"
	case filingdomain.StatusRejected:
		return "rejected"
	default:
		return "accepted"
	}
}

// CreateAmendmentResponse carries the amendment record and the new draft.
type CreateAmendmentResponse struct {
	Amendment Response               `json:"amendment"`
	Draft     *filingdomain.Response `json:"draft"`
}

package domain

import (
	"context"
	"time"

	"github.com/mapato/taxcore/internal/deduction"
	"github.com/mapato/taxcore/internal/validation"
	"github.com/mapato/taxcore/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

type Service interface {
	CreateDraft(ctx context.Context, req CreateDraftRequest) (*Response, error)
	UpdateDraft(ctx context.Context, req UpdateDraftRequest) (*Response, error)
	Validate(ctx context.Context, id string) (*validation.Result, error)
	Compute(ctx context.Context, id string) (*Response, error)

	// MarkReady validates and assesses a draft. Zero error findings
	// moves it to ready, the gate for submission.
	MarkReady(ctx context.Context, id string) (*Response, error)
	Submit(ctx context.Context, id string) (*Response, error)
	SyncStatus(ctx context.Context, id string) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)

	// Settle reconciles the completed payment total against the
	// liability. An exact settlement closes the filing; an overpaid
	// one is flagged and held for manual resolution.
	Settle(ctx context.Context, id string, paidTotal decimal.Decimal) (*Response, error)

	// MarkOverdue flags unpaid filings past their due date. The flag is
	// advisory, submission and payment stay possible. It returns the
	// number of filings flagged.
	MarkOverdue(ctx context.Context, batchSize int) (int, error)

	// SyncPendingBatch reconciles filings left with an indeterminate
	// submission outcome. It returns the number of filings resolved.
	SyncPendingBatch(ctx context.Context, batchSize int) (int, error)
}

type CreateDraftRequest struct {
	TaxpayerID  string            `json:"taxpayer_id"`
	Year        int               `json:"year"`
	FilingType  string            `json:"filing_type"`
	Category    string            `json:"category,omitempty"`
	GrossIncome decimal.Decimal   `json:"gross_income"`
	Claims      []deduction.Claim `json:"deductions,omitempty"`
	FormsData   map[string]any    `json:"forms_data,omitempty"`
}

type UpdateDraftRequest struct {
	ID          string             `json:"id"`
	GrossIncome *decimal.Decimal   `json:"gross_income,omitempty"`
	Category    *string            `json:"category,omitempty"`
	Claims      *[]deduction.Claim `json:"deductions,omitempty"`
	FormsData   map[string]any     `json:"forms_data,omitempty"`
}

type ListRequest struct {
	pagination.Pagination
	TaxpayerID string
	Year       int
	FilingType string
	Status     string
}

type ListResponse struct {
	pagination.PageInfo
	Filings []Response `json:"filings"`
}

type Response struct {
	ID         string `json:"id"`
	TaxpayerID string `json:"taxpayer_id"`
	Year       int    `json:"year"`
	FilingType string `json:"filing_type"`
	Category   string `json:"category,omitempty"`

	Status       Status  `json:"status"`
	Revision     int     `json:"revision"`
	SupersedesID *string `json:"supersedes_id,omitempty"`

	Currency           string `json:"currency"`
	GrossIncome        string `json:"gross_income"`
	TaxableIncome      string `json:"taxable_income"`
	TaxDue             string `json:"tax_due"`
	PaidTotal          string `json:"paid_total"`
	OverpaymentFlagged bool   `json:"overpayment_flagged"`

	ExternalRef  string `json:"external_ref,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`
	SyncPending  bool   `json:"sync_pending"`
	Overdue      bool   `json:"overdue"`

	DueDate     time.Time  `json:"due_date"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func ToResponse(f *Filing) *Response {
	if f == nil {
		return nil
	}
	resp := &Response{
		ID:                 f.ID.String(),
		TaxpayerID:         f.TaxpayerID.String(),
		Year:               f.Year,
		FilingType:         f.FilingType,
		Category:           f.Category,
		Status:             f.Status,
		Revision:           f.Revision,
		Currency:           f.Currency,
		GrossIncome:        f.GrossIncome.StringFixed(2),
		TaxableIncome:      f.TaxableIncome.StringFixed(2),
		TaxDue:             f.TaxDue.StringFixed(2),
		PaidTotal:          f.PaidTotal.StringFixed(2),
		OverpaymentFlagged: f.OverpaymentFlagged,
		ExternalRef:        f.ExternalRef,
		RejectReason:       f.RejectReason,
		SyncPending:        f.SyncPending,
		Overdue:            f.Overdue,
		DueDate:            f.DueDate,
		SubmittedAt:        f.SubmittedAt,
		AcceptedAt:         f.AcceptedAt,
		PaidAt:             f.PaidAt,
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.UpdatedAt,
	}
	if f.SupersedesID != nil {
		s := f.SupersedesID.String()
		resp.SupersedesID = &s
	}
	return resp
}

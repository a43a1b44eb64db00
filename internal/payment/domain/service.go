package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	filingdomain "github.com/mapato/taxcore/internal/filing/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert writes the event unless its external ref is already known.
	// It reports whether a row was written.
	Insert(ctx context.Context, db *gorm.DB, event *PaymentEvent) (bool, error)
	FindByRef(ctx context.Context, db *gorm.DB, externalRef string) (*PaymentEvent, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, event *PaymentEvent) error
	ListByFiling(ctx context.Context, db *gorm.DB, filingID snowflake.ID) ([]*PaymentEvent, error)
	// SumConfirmedByFiling totals the confirmed amounts for a filing.
	// Initiated and failed events carry no weight.
	SumConfirmedByFiling(ctx context.Context, db *gorm.DB, filingID snowflake.ID) (decimal.Decimal, error)
}

type Service interface {
	// RecordPayment stores an already-settled payment reported by a
	// channel and reconciles the filing.
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*RecordPaymentResponse, error)
	// InitiatePayment opens a payment with the authority and stores the
	// initiated event under the issued registration number.
	InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResponse, error)
	// ConfirmPayment polls the authority for the payment's outcome and,
	// on confirmation, reconciles the filing.
	ConfirmPayment(ctx context.Context, externalRef string) (*RecordPaymentResponse, error)
	ListByFiling(ctx context.Context, filingID string) ([]Response, error)
}

type RecordPaymentRequest struct {
	FilingID    string          `json:"filing_id"`
	ExternalRef string          `json:"external_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

type InitiatePaymentRequest struct {
	FilingID string          `json:"filing_id"`
	Amount   decimal.Decimal `json:"amount"`
	Source   string          `json:"source"`
}

// InitiatePaymentResponse carries the stored initiated event and the
// authority's payment instructions.
type InitiatePaymentResponse struct {
	Event        Response  `json:"event"`
	Instructions string    `json:"instructions"`
	Expiry       time.Time `json:"expiry"`
}

type Response struct {
	ID          string     `json:"id"`
	FilingID    string     `json:"filing_id"`
	ExternalRef string     `json:"external_ref"`
	Amount      string     `json:"amount"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RecordPaymentResponse carries the stored event and the filing state
// after reconciliation. Duplicate reports a replayed external ref.
type RecordPaymentResponse struct {
	Event     Response               `json:"event"`
	Duplicate bool                   `json:"duplicate"`
	Filing    *filingdomain.Response `json:"filing"`
}

func ToResponse(e *PaymentEvent) Response {
	return Response{
		ID:          e.ID.String(),
		FilingID:    e.FilingID.String(),
		ExternalRef: e.ExternalRef,
		Amount:      e.Amount.StringFixed(2),
		Source:      e.Source,
		Status:      e.Status,
		PaidAt:      e.PaidAt,
		CreatedAt:   e.CreatedAt,
	}
}

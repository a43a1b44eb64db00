package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable marks transient authority failures, safe to retry.
	ErrUnavailable = errors.New("gateway_unavailable")
	// ErrIndeterminate marks submissions whose outcome is unknown: the
	// request may or may not have reached the authority.
	ErrIndeterminate = errors.New("gateway_indeterminate")
	ErrRejected      = errors.New("gateway_rejected")
	ErrUnknownRef    = errors.New("gateway_unknown_ref")
	ErrInvalidPIN    = errors.New("gateway_invalid_pin")
)

// Submission statuses reported by the authority.
const (
	StatusReceived = "received"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Payment statuses reported by the authority.
const (
	PaymentInitiated = "initiated"
	PaymentConfirmed = "confirmed"
	PaymentFailed    = "failed"
)

// Submission is the filing payload sent to the revenue authority.
type Submission struct {
	FilingID   string
	Revision   int
	PIN        string
	Year       int
	FilingType string
	TaxDue     decimal.Decimal
	FormsData  []byte
}

// Receipt acknowledges a submission.
type Receipt struct {
	Ref        string
	ReceivedAt time.Time
}

// StatusResult reports the authority-side state of a submission.
type StatusResult struct {
	Ref       string
	Status    string
	Reason    string
	CheckedAt time.Time
}

// PaymentRequest asks the authority to open a payment against a
// received filing.
type PaymentRequest struct {
	FilingRef string
	Amount    decimal.Decimal
	Method    string
}

// PaymentSlip carries the registration number and channel instructions
// the taxpayer pays against.
type PaymentSlip struct {
	Ref          string
	Instructions string
	Expiry       time.Time
}

// PaymentResult reports the authority-side state of a payment.
type PaymentResult struct {
	Ref       string
	Status    string
	CheckedAt time.Time
}

// Gateway talks to the revenue authority e-filing system.
type Gateway interface {
	SubmitFiling(ctx context.Context, sub Submission) (*Receipt, error)
	FilingStatus(ctx context.Context, ref string) (*StatusResult, error)
	ValidatePIN(ctx context.Context, pin string) error
	InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentSlip, error)
	ConfirmPayment(ctx context.Context, ref string) (*PaymentResult, error)
}

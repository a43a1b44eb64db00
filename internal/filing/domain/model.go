package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status is the lifecycle state of a filing.
type Status string

const (
	// StatusDraft filings are editable and not yet with the authority.
	StatusDraft Status = "draft"
	// StatusReady filings passed validation and may be submitted. Any
	// edit demotes them back to draft.
	StatusReady Status = "ready"
	// StatusSubmitted filings are with the authority awaiting an outcome.
	StatusSubmitted Status = "submitted"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusPaid      Status = "paid"
	// StatusSuperseded filings were replaced by an accepted amendment.
	StatusSuperseded Status = "superseded"
)

// transitions holds the only legal state moves. Everything else is an
// InvalidTransitionError. Overdue is not a state, it is an advisory flag
// that co-exists with any non-terminal status.
var transitions = map[Status][]Status{
	StatusDraft:      {StatusReady},
	StatusReady:      {StatusDraft, StatusSubmitted},
	StatusSubmitted:  {StatusAccepted, StatusRejected},
	StatusAccepted:   {StatusPaid, StatusSuperseded},
	StatusPaid:       {StatusSuperseded},
	StatusRejected:   {},
	StatusSuperseded: {},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a forbidden state move.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid_transition: %s -> %s", e.From, e.To)
}

// Filing is one tax return revision for a taxpayer, year and type.
type Filing struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	TaxpayerID snowflake.ID `gorm:"column:taxpayer_id;not null;index"`

	Year       int    `gorm:"not null"`
	FilingType string `gorm:"column:filing_type;type:text;not null"`
	Category   string `gorm:"type:text"`

	Status   Status `gorm:"type:text;not null"`
	Revision int    `gorm:"not null;default:0"`

	// SupersedesID links a revision to the filing it replaces, either a
	// rejected submission or an amended return.
	SupersedesID *snowflake.ID `gorm:"column:supersedes_id"`

	Currency      string          `gorm:"type:text;not null"`
	GrossIncome   decimal.Decimal `gorm:"column:gross_income;type:numeric(15,2);not null"`
	TaxableIncome decimal.Decimal `gorm:"column:taxable_income;type:numeric(15,2);not null"`
	TaxDue        decimal.Decimal `gorm:"column:tax_due;type:numeric(15,2);not null"`
	PaidTotal     decimal.Decimal `gorm:"column:paid_total;type:numeric(15,2);not null"`

	// OverpaymentFlagged marks filings whose completed payments exceed
	// the liability. The excess is never clamped away.
	OverpaymentFlagged bool `gorm:"column:overpayment_flagged;not null;default:false"`

	FormsData        datatypes.JSON `gorm:"column:forms_data;type:jsonb"`
	Deductions       datatypes.JSON `gorm:"type:jsonb"`
	Assessment       datatypes.JSON `gorm:"type:jsonb"`
	ValidationResult datatypes.JSON `gorm:"column:validation_result;type:jsonb"`

	ExternalRef  string `gorm:"column:external_ref;type:text"`
	RejectReason string `gorm:"column:reject_reason;type:text"`

	// SyncPending marks a submission with an indeterminate authority
	// outcome awaiting reconciliation.
	SyncPending bool `gorm:"column:sync_pending;not null;default:false"`

	// Overdue is advisory late-filing metadata. It never blocks
	// submission or payment.
	Overdue bool `gorm:"not null;default:false"`

	DueDate     time.Time  `gorm:"column:due_date;not null"`
	SubmittedAt *time.Time `gorm:"column:submitted_at"`
	AcceptedAt  *time.Time `gorm:"column:accepted_at"`
	PaidAt      *time.Time `gorm:"column:paid_at"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Filing) TableName() string { return "filings" }

// Editable reports whether the filing still accepts changes. A ready
// filing is editable, the edit moves it back to draft.
func (f *Filing) Editable() bool {
	return f.Status == StatusDraft || f.Status == StatusReady
}

// Open reports whether the filing still counts against the one-active-
// filing-per-period rule.
func (f *Filing) Open() bool {
	switch f.Status {
	case StatusRejected, StatusSuperseded:
		return false
	default:
		return true
	}
}

// DueDateFor returns the statutory filing deadline for a tax year: the
// last day of June in the following year.
func DueDateFor(year int) time.Time {
	return time.Date(year+1, time.June, 30, 23, 59, 59, 0, time.UTC)
}

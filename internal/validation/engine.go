package validation

import (
	"context"
	"time"

	"github.com/mapato/taxcore/internal/calculator"
	"github.com/mapato/taxcore/internal/deduction"
	obsmetrics "github.com/mapato/taxcore/internal/observability/metrics"
	"github.com/mapato/taxcore/internal/ratetable"
	taxpayerdomain "github.com/mapato/taxcore/internal/taxpayer/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Finding severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Finding is a single rule violation or caution on a filing.
type Finding struct {
	Field    string `json:"field"`
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Result is the outcome of validating a filing. Valid means no
// error-severity findings; warnings do not block submission.
type Result struct {
	Valid    bool      `json:"valid"`
	Findings []Finding `json:"findings,omitempty"`
}

// Input carries the filing fields the rules inspect.
type Input struct {
	PIN         string
	Year        int
	FilingType  string
	GrossIncome decimal.Decimal
	Category    string
	Claims      []deduction.Claim
	FormsData   map[string]any
	DueDate     time.Time

	// TaxDue is the stored liability, nil when the filing has never
	// been assessed. A stored figure must survive recomputation.
	TaxDue *decimal.Decimal
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Tables     *ratetable.Store
	Calculator *calculator.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Engine runs the pre-submission rule set.
type Engine struct {
	log        *zap.Logger
	tables     *ratetable.Store
	calc       *calculator.Service
	obsMetrics *obsmetrics.Metrics
}

func NewEngine(p Params) *Engine {
	return &Engine{
		log:        p.Log.Named("validation.engine"),
		tables:     p.Tables,
		calc:       p.Calculator,
		obsMetrics: p.ObsMetrics,
	}
}

var Module = fx.Module("validation",
	fx.Provide(NewEngine),
)

// Validate runs every rule and collects findings. Rules never short
// circuit, a filer sees all problems at once.
func (e *Engine) Validate(ctx context.Context, in Input) *Result {
	var findings []Finding

	add := func(field, code, severity, message string) {
		findings = append(findings, Finding{
			Field:    field,
			Code:     code,
			Severity: severity,
			Message:  message,
		})
	}

	if !taxpayerdomain.ValidPIN(in.PIN) {
		add("pin", "invalid_pin", SeverityError, "taxpayer PIN is not a valid authority PIN")
	}

	table, err := e.tables.ForYear(in.Year)
	if err != nil {
		add("year", "tax_year_not_supported", SeverityError, "no rate table published for this tax year")
	}

	if !calculator.ValidType(in.FilingType) {
		add("filing_type", "unsupported_filing_type", SeverityError, "filing type is not assessable")
	}

	if in.GrossIncome.IsNegative() {
		add("gross_income", "negative_income", SeverityError, "gross income cannot be negative")
	}

	if in.FilingType == calculator.TypeWithholding && table != nil {
		if _, ok := table.WithholdingRate(in.Category); !ok {
			add("category", "unknown_withholding_category", SeverityError, "withholding category has no published rate")
		}
	}

	totalClaims := decimal.Zero
	for _, claim := range in.Claims {
		if !deduction.ValidKind(claim.Kind) {
			add("deductions", "invalid_deduction_kind", SeverityError, "unknown deduction kind "+claim.Kind)
			continue
		}
		if claim.Amount.IsNegative() {
			add("deductions", "negative_deduction", SeverityError, "deduction amounts cannot be negative")
			continue
		}
		totalClaims = totalClaims.Add(claim.Amount)
	}

	if len(in.Claims) > 0 && in.FilingType != calculator.TypeIndividual {
		add("deductions", "deductions_not_allowed", SeverityError, "deductions apply to individual filings only")
	}

	if totalClaims.GreaterThan(in.GrossIncome) {
		add("deductions", "claims_exceed_income", SeverityWarning, "claimed deductions exceed gross income")
	}

	if len(in.FormsData) == 0 {
		add("forms_data", "empty_forms", SeverityWarning, "no declaration forms attached")
	}

	if in.DueDate.IsZero() {
		add("due_date", "missing_due_date", SeverityError, "filing carries no statutory deadline")
	} else if !in.DueDate.After(time.Date(in.Year, time.December, 31, 23, 59, 59, 0, time.UTC)) {
		add("due_date", "due_date_inside_tax_year", SeverityError, "deadline falls before the tax year closes")
	}

	// A stored liability is only trusted if a fresh assessment agrees
	// with it. Anything else means the figure was edited by hand.
	if in.TaxDue != nil {
		assessment, err := e.calc.Compute(ctx, calculator.ComputeRequest{
			Year:        in.Year,
			FilingType:  in.FilingType,
			GrossIncome: in.GrossIncome,
			Category:    in.Category,
			Claims:      in.Claims,
		})
		if err == nil && !assessment.NetLiability.Equal(*in.TaxDue) {
			add("tax_due", "liability_mismatch", SeverityError, "stored liability does not match a fresh assessment")
		}
	}

	result := &Result{Findings: findings}
	result.Valid = true
	for _, f := range findings {
		if f.Severity == SeverityError {
			result.Valid = false
			if e.obsMetrics != nil {
				e.obsMetrics.RecordValidationFailure(ctx, f.Code)
			}
		}
	}

	return result
}

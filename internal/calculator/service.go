package calculator

import (
	"context"

	"github.com/mapato/taxcore/internal/deduction"
	obsmetrics "github.com/mapato/taxcore/internal/observability/metrics"
	"github.com/mapato/taxcore/internal/ratetable"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Tables     *ratetable.Store
	Deductions *deduction.Engine
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service resolves the rate table for a year and produces liability
// assessments.
type Service struct {
	log        *zap.Logger
	tables     *ratetable.Store
	deductions *deduction.Engine
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("calculator.service"),
		tables:     p.Tables,
		deductions: p.Deductions,
		obsMetrics: p.ObsMetrics,
	}
}

// ComputeRequest describes one liability computation.
type ComputeRequest struct {
	Year        int
	FilingType  string
	GrossIncome decimal.Decimal

	// Category selects the withholding rate for TypeWithholding.
	Category string

	Claims []deduction.Claim
}

// Assessment is the full liability result for a filing.
type Assessment struct {
	Year       int    `json:"year"`
	FilingType string `json:"filing_type"`
	Currency   string `json:"currency"`

	GrossIncome   decimal.Decimal `json:"gross_income"`
	TaxableIncome decimal.Decimal `json:"taxable_income"`

	Breakdown  []BracketTax        `json:"breakdown,omitempty"`
	Deductions []deduction.Applied `json:"deductions,omitempty"`

	GrossTax        decimal.Decimal `json:"gross_tax"`
	PersonalRelief  decimal.Decimal `json:"personal_relief"`
	InsuranceRelief decimal.Decimal `json:"insurance_relief"`
	NetLiability    decimal.Decimal `json:"net_liability"`
}

// Compute assesses the liability for a filing. Reliefs never take the net
// liability below zero.
func (s *Service) Compute(ctx context.Context, req ComputeRequest) (*Assessment, error) {
	table, err := s.tables.ForYear(req.Year)
	if err != nil {
		return nil, err
	}
	if req.GrossIncome.IsNegative() {
		return nil, ErrInvalidIncome
	}

	assessment := &Assessment{
		Year:          req.Year,
		FilingType:    req.FilingType,
		Currency:      table.Currency,
		GrossIncome:   req.GrossIncome,
		TaxableIncome: req.GrossIncome,
	}

	switch req.FilingType {
	case TypeIndividual:
		applied, err := s.deductions.Apply(table, req.GrossIncome, req.Claims)
		if err != nil {
			return nil, err
		}
		breakdown, gross, err := Graduated(table, applied.TaxableIncome)
		if err != nil {
			return nil, err
		}

		net := gross.Sub(applied.TotalRelief)
		if net.IsNegative() {
			net = decimal.Zero
		}

		assessment.TaxableIncome = applied.TaxableIncome
		assessment.Breakdown = breakdown
		assessment.Deductions = applied.Applied
		assessment.GrossTax = gross
		assessment.PersonalRelief = applied.PersonalRelief
		assessment.InsuranceRelief = applied.InsuranceRelief
		assessment.NetLiability = net

	case TypeVAT, TypeTurnover, TypeRental, TypeCapitalGains, TypeWithholding:
		if len(req.Claims) > 0 {
			return nil, ErrClaimsNotAllowed
		}

		var tax decimal.Decimal
		switch req.FilingType {
		case TypeVAT:
			tax, err = Flat(table.VATRate, req.GrossIncome)
		case TypeTurnover:
			tax, err = Flat(table.TurnoverRate, req.GrossIncome)
		case TypeRental:
			tax, err = Flat(table.RentalRate, req.GrossIncome)
		case TypeCapitalGains:
			tax, err = Flat(table.CapitalGainsRate, req.GrossIncome)
		case TypeWithholding:
			tax, err = Withholding(table, req.Category, req.GrossIncome)
		}
		if err != nil {
			return nil, err
		}

		assessment.GrossTax = tax
		assessment.NetLiability = tax

	default:
		return nil, ErrUnsupportedFilingType
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLiabilityComputed(ctx, req.FilingType)
	}

	return assessment, nil
}

// ValidType reports whether the filing type is assessable.
func ValidType(filingType string) bool {
	switch filingType {
	case TypeIndividual, TypeVAT, TypeTurnover, TypeRental, TypeCapitalGains, TypeWithholding:
		return true
	default:
		return false
	}
}

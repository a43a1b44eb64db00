package ratetable

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrYearNotSupported = errors.New("tax_year_not_supported")
	ErrInvalidTable     = errors.New("invalid_rate_table")
)

// Withholding income categories.
const (
	WithholdingDividends        = "dividends"
	WithholdingInterest         = "interest"
	WithholdingRent             = "rent"
	WithholdingProfessionalFees = "professional_fees"
)

// Bracket is one graduated income band. A nil UpperBound means the band
// is open-ended.
type Bracket struct {
	UpperBound *decimal.Decimal
	Rate       decimal.Decimal
}

// Table holds every published rate and cap for a single tax year.
// Tables are immutable once loaded.
type Table struct {
	Year     int
	Currency string

	Brackets []Bracket

	PersonalRelief      decimal.Decimal
	InsuranceReliefRate decimal.Decimal
	InsuranceReliefCap  decimal.Decimal
	MortgageInterestCap decimal.Decimal
	PensionCap          decimal.Decimal

	VATRate          decimal.Decimal
	TurnoverRate     decimal.Decimal
	RentalRate       decimal.Decimal
	CapitalGainsRate decimal.Decimal

	Withholding map[string]decimal.Decimal
}

// Validate checks structural soundness of a table before it is published
// to the calculator.
func (t *Table) Validate() error {
	if t == nil || t.Year < 2000 {
		return ErrInvalidTable
	}
	if len(t.Brackets) == 0 {
		return ErrInvalidTable
	}

	one := decimal.NewFromInt(1)
	prev := decimal.Zero
	for i, b := range t.Brackets {
		if b.Rate.IsNegative() || b.Rate.GreaterThan(one) {
			return ErrInvalidTable
		}
		if b.UpperBound == nil {
			// Only the last band may be open-ended.
			if i != len(t.Brackets)-1 {
				return ErrInvalidTable
			}
			continue
		}
		if i == 0 {
			if !b.UpperBound.IsPositive() {
				return ErrInvalidTable
			}
		} else if !b.UpperBound.GreaterThan(prev) {
			return ErrInvalidTable
		}
		prev = *b.UpperBound
	}

	for _, v := range []decimal.Decimal{
		t.PersonalRelief,
		t.InsuranceReliefCap,
		t.MortgageInterestCap,
		t.PensionCap,
	} {
		if v.IsNegative() {
			return ErrInvalidTable
		}
	}
	for _, v := range []decimal.Decimal{
		t.InsuranceReliefRate,
		t.VATRate,
		t.TurnoverRate,
		t.RentalRate,
		t.CapitalGainsRate,
	} {
		if v.IsNegative() || v.GreaterThan(one) {
			return ErrInvalidTable
		}
	}
	for _, v := range t.Withholding {
		if v.IsNegative() || v.GreaterThan(one) {
			return ErrInvalidTable
		}
	}

	return nil
}

// WithholdingRate returns the rate for an income category, or false when
// the category is not withholdable.
func (t *Table) WithholdingRate(category string) (decimal.Decimal, bool) {
	rate, ok := t.Withholding[category]
	return rate, ok
}

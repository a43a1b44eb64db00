package calculator

import (
	"errors"

	"github.com/mapato/taxcore/internal/ratetable"
	"github.com/shopspring/decimal"
)

var (
	ErrUnsupportedFilingType = errors.New("unsupported_filing_type")
	ErrInvalidIncome         = errors.New("invalid_income")
	ErrUnknownCategory       = errors.New("unknown_withholding_category")
	ErrClaimsNotAllowed      = errors.New("deductions_not_allowed")
)

// Filing types the calculator can assess.
const (
	TypeIndividual   = "individual"
	TypeVAT          = "vat"
	TypeTurnover     = "turnover"
	TypeRental       = "rental"
	TypeCapitalGains = "capital_gains"
	TypeWithholding  = "withholding"
)

// BracketTax is one band's contribution to a graduated assessment.
type BracketTax struct {
	LowerBound decimal.Decimal  `json:"lower_bound"`
	UpperBound *decimal.Decimal `json:"upper_bound,omitempty"`
	Rate       decimal.Decimal  `json:"rate"`
	Amount     decimal.Decimal  `json:"amount"`
	Tax        decimal.Decimal  `json:"tax"`
}

// Graduated walks taxable income through the year's bands. Each band's
// contribution is rounded half-up to 2 decimal places and the total is
// the exact sum of the breakdown.
func Graduated(table *ratetable.Table, taxable decimal.Decimal) ([]BracketTax, decimal.Decimal, error) {
	if taxable.IsNegative() {
		return nil, decimal.Zero, ErrInvalidIncome
	}

	var breakdown []BracketTax
	total := decimal.Zero
	lower := decimal.Zero

	for _, bracket := range table.Brackets {
		if !taxable.GreaterThan(lower) {
			break
		}

		upper := taxable
		if bracket.UpperBound != nil && bracket.UpperBound.LessThan(taxable) {
			upper = *bracket.UpperBound
		}

		amount := upper.Sub(lower)
		tax := amount.Mul(bracket.Rate).Round(2)

		entry := BracketTax{
			LowerBound: lower,
			Rate:       bracket.Rate,
			Amount:     amount,
			Tax:        tax,
		}
		if bracket.UpperBound != nil {
			bound := *bracket.UpperBound
			entry.UpperBound = &bound
		}
		breakdown = append(breakdown, entry)
		total = total.Add(tax)

		if bracket.UpperBound == nil {
			break
		}
		lower = *bracket.UpperBound
	}

	return breakdown, total, nil
}

// Flat computes a single-rate tax rounded half-up to 2 decimal places.
func Flat(rate, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrInvalidIncome
	}
	return amount.Mul(rate).Round(2), nil
}

// Withholding computes tax withheld at source for a category.
func Withholding(table *ratetable.Table, category string, amount decimal.Decimal) (decimal.Decimal, error) {
	rate, ok := table.WithholdingRate(category)
	if !ok {
		return decimal.Zero, ErrUnknownCategory
	}
	return Flat(rate, amount)
}

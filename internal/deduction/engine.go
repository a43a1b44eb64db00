package deduction

import (
	"errors"
	"strings"

	"github.com/mapato/taxcore/internal/ratetable"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidKind   = errors.New("invalid_deduction_kind")
	ErrInvalidAmount = errors.New("invalid_deduction_amount")
)

// Deduction kinds. Income deductions reduce taxable income, premium kinds
// convert into a tax relief instead.
const (
	KindMortgageInterest = "mortgage_interest"
	KindPension          = "pension"
	KindStatutoryHealth  = "statutory_health"
	KindStatutoryPension = "statutory_pension"
	KindInsurancePremium = "insurance"
	KindOther            = "other"
)

// Claim is a single deduction claimed on a filing.
type Claim struct {
	Kind   string
	Amount decimal.Decimal
}

// Applied records how a claim was settled against the year's caps.
type Applied struct {
	Kind    string          `json:"kind"`
	Claimed decimal.Decimal `json:"claimed"`
	Allowed decimal.Decimal `json:"allowed"`
	Capped  bool            `json:"capped"`
}

// Result is the outcome of applying claims to a gross income.
type Result struct {
	TaxableIncome   decimal.Decimal `json:"taxable_income"`
	Applied         []Applied       `json:"applied"`
	PersonalRelief  decimal.Decimal `json:"personal_relief"`
	InsuranceRelief decimal.Decimal `json:"insurance_relief"`
	TotalRelief     decimal.Decimal `json:"total_relief"`
}

// Engine applies deduction caps and computes reliefs for a tax year.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Apply settles claims against the table's caps. Income deductions never
// push taxable income below zero, and insurance premiums become a relief
// at the table's rate subject to the annual cap.
func (e *Engine) Apply(table *ratetable.Table, grossIncome decimal.Decimal, claims []Claim) (*Result, error) {
	if grossIncome.IsNegative() {
		return nil, ErrInvalidAmount
	}

	result := &Result{
		TaxableIncome:  grossIncome,
		PersonalRelief: table.PersonalRelief,
	}

	premiums := decimal.Zero
	totals := map[string]decimal.Decimal{}

	for _, claim := range claims {
		kind := strings.ToLower(strings.TrimSpace(claim.Kind))
		if !ValidKind(kind) {
			return nil, ErrInvalidKind
		}
		if claim.Amount.IsNegative() {
			return nil, ErrInvalidAmount
		}
		totals[kind] = totals[kind].Add(claim.Amount)
	}

	// Deterministic order so stored results are reproducible.
	for _, kind := range orderedKinds {
		claimed, ok := totals[kind]
		if !ok {
			continue
		}

		if kind == KindInsurancePremium {
			premiums = claimed
			continue
		}

		allowed := claimed
		capped := false
		switch kind {
		case KindMortgageInterest:
			if allowed.GreaterThan(table.MortgageInterestCap) {
				allowed = table.MortgageInterestCap
				capped = true
			}
		case KindPension:
			if allowed.GreaterThan(table.PensionCap) {
				allowed = table.PensionCap
				capped = true
			}
		}

		// Deductions cannot take taxable income negative.
		if allowed.GreaterThan(result.TaxableIncome) {
			allowed = result.TaxableIncome
			capped = true
		}

		result.TaxableIncome = result.TaxableIncome.Sub(allowed)
		result.Applied = append(result.Applied, Applied{
			Kind:    kind,
			Claimed: claimed,
			Allowed: allowed,
			Capped:  capped,
		})
	}

	if premiums.IsPositive() {
		relief := premiums.Mul(table.InsuranceReliefRate).Round(2)
		capped := false
		if relief.GreaterThan(table.InsuranceReliefCap) {
			relief = table.InsuranceReliefCap
			capped = true
		}
		result.InsuranceRelief = relief
		result.Applied = append(result.Applied, Applied{
			Kind:    KindInsurancePremium,
			Claimed: premiums,
			Allowed: relief,
			Capped:  capped,
		})
	}

	result.TotalRelief = result.PersonalRelief.Add(result.InsuranceRelief)

	return result, nil
}

var orderedKinds = []string{
	KindMortgageInterest,
	KindPension,
	KindStatutoryHealth,
	KindStatutoryPension,
	KindOther,
	KindInsurancePremium,
}

// ValidKind reports whether kind names a supported deduction.
func ValidKind(kind string) bool {
	switch kind {
	case KindMortgageInterest, KindPension, KindStatutoryHealth,
		KindStatutoryPension, KindInsurancePremium, KindOther:
		return true
	default:
		return false
	}
}

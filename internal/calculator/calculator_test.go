package calculator

import (
	"context"
	"testing"

	"github.com/mapato/taxcore/internal/config"
	"github.com/mapato/taxcore/internal/deduction"
	"github.com/mapato/taxcore/internal/ratetable"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := ratetable.NewStore(config.Config{}, zap.NewNop())
	require.NoError(t, err)
	return NewService(Params{
		Log:        zap.NewNop(),
		Tables:     store,
		Deductions: deduction.NewEngine(),
	})
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestGraduatedBreakdown(t *testing.T) {
	store, err := ratetable.NewStore(config.Config{}, zap.NewNop())
	require.NoError(t, err)
	table, err := store.ForYear(2024)
	require.NoError(t, err)

	tests := []struct {
		name    string
		taxable string
		total   string
		bands   int
	}{
		{"zero income", "0", "0", 0},
		{"first band only", "100000", "10000", 1},
		{"exact band edge", "288000", "28800", 1},
		{"one shilling into second band", "288001", "28800.25", 2},
		{"three bands", "400000", "57400", 3},
		{"top marginal band", "10000000", "3047400", 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			breakdown, total, err := Graduated(table, amount(tc.taxable))
			require.NoError(t, err)
			require.Len(t, breakdown, tc.bands)
			require.True(t, total.Equal(amount(tc.total)), "got %s", total.String())

			// Total must be the exact sum of the band contributions.
			sum := decimal.Zero
			for _, band := range breakdown {
				sum = sum.Add(band.Tax)
			}
			require.True(t, total.Equal(sum))
		})
	}
}

func TestComputeIndividualWithRelief(t *testing.T) {
	svc := newTestService(t)

	assessment, err := svc.Compute(context.Background(), ComputeRequest{
		Year:        2024,
		FilingType:  TypeIndividual,
		GrossIncome: amount("400000"),
	})
	require.NoError(t, err)

	require.True(t, assessment.GrossTax.Equal(amount("57400")))
	require.True(t, assessment.PersonalRelief.Equal(amount("28800")))
	require.True(t, assessment.NetLiability.Equal(amount("28600")))
}

func TestComputeReliefFloorsAtZero(t *testing.T) {
	svc := newTestService(t)

	assessment, err := svc.Compute(context.Background(), ComputeRequest{
		Year:        2024,
		FilingType:  TypeIndividual,
		GrossIncome: amount("100000"),
	})
	require.NoError(t, err)

	// Gross tax 10,000 is below the 28,800 personal relief.
	require.True(t, assessment.GrossTax.Equal(amount("10000")))
	require.True(t, assessment.NetLiability.IsZero())
}

func TestComputeIndividualWithDeductions(t *testing.T) {
	svc := newTestService(t)

	assessment, err := svc.Compute(context.Background(), ComputeRequest{
		Year:        2024,
		FilingType:  TypeIndividual,
		GrossIncome: amount("700000"),
		Claims: []deduction.Claim{
			{Kind: deduction.KindMortgageInterest, Amount: amount("400000")},
		},
	})
	require.NoError(t, err)

	// Mortgage interest capped at 300,000 leaves 400,000 taxable.
	require.True(t, assessment.TaxableIncome.Equal(amount("400000")))
	require.True(t, assessment.NetLiability.Equal(amount("28600")))
	require.Len(t, assessment.Deductions, 1)
}

func TestComputeFlatTypes(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		filingType string
		category   string
		income     string
		tax        string
	}{
		{TypeVAT, "", "250000", "40000"},
		{TypeTurnover, "", "1000000", "30000"},
		{TypeRental, "", "480000", "36000"},
		{TypeCapitalGains, "", "2000000", "300000"},
		{TypeWithholding, ratetable.WithholdingDividends, "100000", "5000"},
		{TypeWithholding, ratetable.WithholdingRent, "100000", "10000"},
	}

	for _, tc := range tests {
		t.Run(tc.filingType+"/"+tc.category, func(t *testing.T) {
			assessment, err := svc.Compute(context.Background(), ComputeRequest{
				Year:        2024,
				FilingType:  tc.filingType,
				GrossIncome: amount(tc.income),
				Category:    tc.category,
			})
			require.NoError(t, err)
			require.True(t, assessment.NetLiability.Equal(amount(tc.tax)), "got %s", assessment.NetLiability.String())
		})
	}
}

func TestComputeErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Compute(ctx, ComputeRequest{Year: 1999, FilingType: TypeIndividual, GrossIncome: amount("100")})
	require.ErrorIs(t, err, ratetable.ErrYearNotSupported)

	_, err = svc.Compute(ctx, ComputeRequest{Year: 2024, FilingType: "payroll", GrossIncome: amount("100")})
	require.ErrorIs(t, err, ErrUnsupportedFilingType)

	_, err = svc.Compute(ctx, ComputeRequest{Year: 2024, FilingType: TypeIndividual, GrossIncome: amount("-1")})
	require.ErrorIs(t, err, ErrInvalidIncome)

	_, err = svc.Compute(ctx, ComputeRequest{Year: 2024, FilingType: TypeWithholding, Category: "royalties", GrossIncome: amount("100")})
	require.ErrorIs(t, err, ErrUnknownCategory)

	_, err = svc.Compute(ctx, ComputeRequest{
		Year:        2024,
		FilingType:  TypeVAT,
		GrossIncome: amount("100"),
		Claims:      []deduction.Claim{{Kind: deduction.KindOther, Amount: amount("10")}},
	})
	require.ErrorIs(t, err, ErrClaimsNotAllowed)
}

func TestComputeMonotonicInIncome(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	samples := []string{
		"0", "1", "24000", "287999", "288000", "288001", "350000",
		"388000", "388001", "1000000", "6000000", "6000001", "9600000",
		"9600001", "25000000",
	}

	prev := decimal.NewFromInt(-1)
	for _, income := range samples {
		assessment, err := svc.Compute(ctx, ComputeRequest{
			Year:        2024,
			FilingType:  TypeIndividual,
			GrossIncome: amount(income),
		})
		require.NoError(t, err, "income %s", income)
		require.True(t, assessment.NetLiability.GreaterThanOrEqual(prev),
			"liability dropped at income %s: %s < %s",
			income, assessment.NetLiability.String(), prev.String())
		prev = assessment.NetLiability
	}
}

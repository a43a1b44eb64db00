package deduction

import (
	"testing"

	"github.com/mapato/taxcore/internal/config"
	"github.com/mapato/taxcore/internal/ratetable"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testTable(t *testing.T) *ratetable.Table {
	t.Helper()
	store, err := ratetable.NewStore(config.Config{}, zap.NewNop())
	require.NoError(t, err)
	table, err := store.ForYear(2024)
	require.NoError(t, err)
	return table
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApplyMortgageCap(t *testing.T) {
	engine := NewEngine()
	table := testTable(t)

	result, err := engine.Apply(table, amount("1000000"), []Claim{
		{Kind: KindMortgageInterest, Amount: amount("450000")},
	})
	require.NoError(t, err)

	// Claimed above the 300,000 cap.
	require.True(t, result.TaxableIncome.Equal(amount("700000")), result.TaxableIncome.String())
	require.Len(t, result.Applied, 1)
	require.True(t, result.Applied[0].Capped)
	require.True(t, result.Applied[0].Allowed.Equal(amount("300000")))
}

func TestApplyInsuranceReliefCap(t *testing.T) {
	engine := NewEngine()
	table := testTable(t)

	// 15% of 500,000 is 75,000, above the 60,000 cap.
	result, err := engine.Apply(table, amount("1000000"), []Claim{
		{Kind: KindInsurancePremium, Amount: amount("500000")},
	})
	require.NoError(t, err)

	// Premiums do not reduce taxable income.
	require.True(t, result.TaxableIncome.Equal(amount("1000000")))
	require.True(t, result.InsuranceRelief.Equal(amount("60000")))
	require.True(t, result.TotalRelief.Equal(amount("88800")))
}

func TestApplyInsuranceReliefUnderCap(t *testing.T) {
	engine := NewEngine()
	table := testTable(t)

	result, err := engine.Apply(table, amount("1000000"), []Claim{
		{Kind: KindInsurancePremium, Amount: amount("100000")},
	})
	require.NoError(t, err)
	require.True(t, result.InsuranceRelief.Equal(amount("15000")))
}

func TestApplyNeverNegativeTaxable(t *testing.T) {
	engine := NewEngine()
	table := testTable(t)

	result, err := engine.Apply(table, amount("100000"), []Claim{
		{Kind: KindPension, Amount: amount("90000")},
		{Kind: KindOther, Amount: amount("50000")},
	})
	require.NoError(t, err)
	require.True(t, result.TaxableIncome.IsZero(), result.TaxableIncome.String())
}

func TestApplyAggregatesSameKind(t *testing.T) {
	engine := NewEngine()
	table := testTable(t)

	result, err := engine.Apply(table, amount("1000000"), []Claim{
		{Kind: KindPension, Amount: amount("150000")},
		{Kind: KindPension, Amount: amount("150000")},
	})
	require.NoError(t, err)

	// Aggregate 300,000 claimed against the 240,000 cap.
	require.Len(t, result.Applied, 1)
	require.True(t, result.Applied[0].Capped)
	require.True(t, result.TaxableIncome.Equal(amount("760000")))
}

func TestApplyRejectsBadInput(t *testing.T) {
	engine := NewEngine()
	table := testTable(t)

	_, err := engine.Apply(table, amount("1000"), []Claim{{Kind: "loan", Amount: amount("10")}})
	require.ErrorIs(t, err, ErrInvalidKind)

	_, err = engine.Apply(table, amount("1000"), []Claim{{Kind: KindOther, Amount: amount("-10")}})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = engine.Apply(table, amount("-1"), nil)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

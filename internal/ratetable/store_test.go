package ratetable

import (
	"testing"

	"github.com/mapato/taxcore/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreLoadsEmbeddedDefaults(t *testing.T) {
	store, err := NewStore(config.Config{}, zap.NewNop())
	require.NoError(t, err)

	table, err := store.ForYear(2024)
	require.NoError(t, err)
	require.Equal(t, 2024, table.Year)
	require.Equal(t, "KES", table.Currency)
	require.Len(t, table.Brackets, 5)

	require.True(t, table.PersonalRelief.Equal(decimal.NewFromInt(28800)))
	require.True(t, table.VATRate.Equal(decimal.RequireFromString("0.16")))
	require.Nil(t, table.Brackets[len(table.Brackets)-1].UpperBound)

	rate, ok := table.WithholdingRate(WithholdingInterest)
	require.True(t, ok)
	require.True(t, rate.Equal(decimal.RequireFromString("0.15")))

	_, ok = table.WithholdingRate("royalties")
	require.False(t, ok)
}

func TestStoreUnknownYear(t *testing.T) {
	store, err := NewStore(config.Config{}, zap.NewNop())
	require.NoError(t, err)

	_, err = store.ForYear(1999)
	require.ErrorIs(t, err, ErrYearNotSupported)
}

func TestTableValidate(t *testing.T) {
	upper := func(v int64) *decimal.Decimal {
		d := decimal.NewFromInt(v)
		return &d
	}

	base := func() *Table {
		return &Table{
			Year: 2024,
			Brackets: []Bracket{
				{UpperBound: upper(288000), Rate: decimal.RequireFromString("0.10")},
				{Rate: decimal.RequireFromString("0.35")},
			},
		}
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Table)
	}{
		{"no brackets", func(tb *Table) { tb.Brackets = nil }},
		{"negative rate", func(tb *Table) { tb.Brackets[0].Rate = decimal.NewFromInt(-1) }},
		{"rate above one", func(tb *Table) { tb.Brackets[0].Rate = decimal.NewFromInt(2) }},
		{"open band not last", func(tb *Table) { tb.Brackets[0].UpperBound = nil }},
		{"non increasing bounds", func(tb *Table) {
			tb.Brackets = []Bracket{
				{UpperBound: upper(288000), Rate: decimal.RequireFromString("0.10")},
				{UpperBound: upper(100000), Rate: decimal.RequireFromString("0.25")},
				{Rate: decimal.RequireFromString("0.30")},
			}
		}},
		{"negative relief", func(tb *Table) { tb.PersonalRelief = decimal.NewFromInt(-5) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			table := base()
			tc.mutate(table)
			require.ErrorIs(t, table.Validate(), ErrInvalidTable)
		})
	}
}

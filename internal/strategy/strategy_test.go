package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateArithmeticGrid(t *testing.T) {
	// 10 grids over [2000, 3000] with 1000 USDT total.
	calc, err := Calculate(d("3000"), d("2000"), 10, d("1000"), 2)
	require.NoError(t, err)

	assert.True(t, calc.GridSpacing.Equal(d("100")), "spacing = (3000-2000)/10")
	assert.True(t, calc.InvestmentPerLevel.Equal(d("100")), "per level = 1000/10")
	require.Len(t, calc.Levels, 11, "count+1 levels")

	// Level 1 is the lower bound, the last level is the upper bound.
	assert.Equal(t, 1, calc.Levels[0].LevelIndex)
	assert.True(t, calc.Levels[0].Price.Equal(d("2000")))
	assert.Equal(t, 11, calc.Levels[10].LevelIndex)
	assert.True(t, calc.Levels[10].Price.Equal(d("3000")))

	// Interior levels are evenly spaced.
	for i := 1; i < len(calc.Levels); i++ {
		diff := calc.Levels[i].Price.Sub(calc.Levels[i-1].Price)
		assert.True(t, diff.Equal(d("100")), "level %d spacing", i)
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	a, err := Calculate(d("3000"), d("2000"), 10, d("1000"), 2)
	require.NoError(t, err)
	b, err := Calculate(d("3000"), d("2000"), 10, d("1000"), 2)
	require.NoError(t, err)

	require.Len(t, b.Levels, len(a.Levels))
	for i := range a.Levels {
		assert.True(t, a.Levels[i].Price.Equal(b.Levels[i].Price))
	}
	assert.True(t, a.GridSpacing.Equal(b.GridSpacing))
	assert.True(t, a.InvestmentPerLevel.Equal(b.InvestmentPerLevel))
}

func TestCalculateRoundsToPricePrecision(t *testing.T) {
	// (1000-100)/7 is not exact; prices must respect the precision.
	calc, err := Calculate(d("1000"), d("100"), 7, d("700"), 2)
	require.NoError(t, err)
	for _, level := range calc.Levels {
		assert.True(t, level.Price.Exponent() >= -2, "level %d price %s has too many decimals", level.LevelIndex, level.Price)
	}
}

func TestCalculateValidation(t *testing.T) {
	tests := []struct {
		name       string
		upper      string
		lower      string
		count      int
		investment string
	}{
		{"upper equals lower", "2000", "2000", 10, "1000"},
		{"upper below lower", "1000", "2000", 10, "1000"},
		{"count below minimum", "3000", "2000", MinGridCount - 1, "1000"},
		{"count above maximum", "3000", "2000", MaxGridCount + 1, "1000"},
		{"zero investment", "3000", "2000", 10, "0"},
		{"negative investment", "3000", "2000", 10, "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc, err := Calculate(d(tt.upper), d(tt.lower), tt.count, d(tt.investment), 2)
			assert.Error(t, err)
			assert.Nil(t, calc)
		})
	}
}

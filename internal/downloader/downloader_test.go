package downloader

import (
	"testing"

	"binance-grid-trader/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSuggestedGridCount(t *testing.T) {
	// [2000, 3000]: mid 2500, target spacing 12.5, 1000/12.5 = 80.
	assert.Equal(t, 80, suggestedGridCount(d("3000"), d("2000")))

	// A narrow range floors to the minimum.
	assert.Equal(t, strategy.MinGridCount, suggestedGridCount(d("100.5"), d("100")))

	// A very wide range is capped at the maximum.
	assert.Equal(t, strategy.MaxGridCount, suggestedGridCount(d("10000"), d("100")))

	// Degenerate input never panics.
	assert.Equal(t, strategy.MinGridCount, suggestedGridCount(d("0"), d("0")))
}

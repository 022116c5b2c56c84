// Package strategy implements the deterministic arithmetic grid calculator
// and the order planner that turns grid levels into exchange-legal orders.
package strategy

import (
	"binance-grid-trader/internal/errs"

	"github.com/shopspring/decimal"
)

const (
	// MinGridCount and MaxGridCount bound the accepted grid density.
	MinGridCount = 5
	MaxGridCount = 100

	// investmentScale is the fixed scale for per-level investment amounts.
	investmentScale = 8
)

// LevelPlan is one computed price level. Index 1 is the lowest price.
type LevelPlan struct {
	LevelIndex int
	Price      decimal.Decimal
}

// Calculation is the immutable result of a grid computation.
type Calculation struct {
	GridSpacing        decimal.Decimal
	InvestmentPerLevel decimal.Decimal
	Levels             []LevelPlan
}

// Calculate partitions [lower, upper] into gridCount evenly spaced intervals
// and returns gridCount+1 price levels plus the per-level investment.
// It is pure: identical inputs always produce identical output.
func Calculate(upper, lower decimal.Decimal, gridCount int, totalInvestment decimal.Decimal, pricePrecision int) (*Calculation, error) {
	if upper.LessThanOrEqual(lower) {
		return nil, errs.Validationf("upper price must be greater than lower price")
	}
	if gridCount < MinGridCount || gridCount > MaxGridCount {
		return nil, errs.Validationf("grid count must be between %d and %d", MinGridCount, MaxGridCount)
	}
	if !totalInvestment.IsPositive() {
		return nil, errs.Validationf("total investment must be greater than zero")
	}

	count := decimal.NewFromInt(int64(gridCount))
	spacing := upper.Sub(lower).Div(count)
	investmentPerLevel := totalInvestment.Div(count)

	levels := make([]LevelPlan, 0, gridCount+1)
	for i := 0; i <= gridCount; i++ {
		price := lower.Add(spacing.Mul(decimal.NewFromInt(int64(i))))
		levels = append(levels, LevelPlan{
			LevelIndex: i + 1,
			Price:      price.Round(int32(pricePrecision)),
		})
	}

	return &Calculation{
		GridSpacing:        spacing.Round(int32(pricePrecision)),
		InvestmentPerLevel: investmentPerLevel.Round(investmentScale),
		Levels:             levels,
	}, nil
}

package strategy

import (
	"binance-grid-trader/internal/errs"
	"binance-grid-trader/internal/models"

	"github.com/shopspring/decimal"
)

// PrecisionRules captures the exchange constraints for one symbol.
type PrecisionRules struct {
	TickSize       decimal.Decimal
	StepSize       decimal.Decimal
	MinQty         decimal.Decimal
	PricePrecision int
	QtyPrecision   int
}

// RulesFromSymbol extracts the planner constraints from live symbol metadata.
func RulesFromSymbol(info *models.SymbolInfo) PrecisionRules {
	return PrecisionRules{
		TickSize:       info.TickSize,
		StepSize:       info.StepSize,
		MinQty:         info.MinQty,
		PricePrecision: info.PricePrecision,
		QtyPrecision:   info.QtyPrecision,
	}
}

// OrderPlan is a concrete order instruction ready for the exchange.
// It is transient: produced here, consumed immediately by the caller.
type OrderPlan struct {
	LevelIndex int
	Side       models.Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
}

// Planner converts grid levels into exchange-legal order plans.
// All rounding is floor/truncate, never round-to-nearest, so the exchange
// can never reject a plan for exceeding balance or lot constraints.
type Planner struct {
	rules PrecisionRules
}

// NewPlanner returns a planner bound to one symbol's precision rules.
func NewPlanner(rules PrecisionRules) *Planner {
	return &Planner{rules: rules}
}

// GenerateInitialBuys produces one BUY plan for every level except the
// highest. A quantity that floors to zero or below the symbol minimum is an
// error, not a silent clamp.
func (p *Planner) GenerateInitialBuys(levels []LevelPlan, investmentPerLevel decimal.Decimal) ([]OrderPlan, error) {
	if len(levels) < 2 {
		return nil, errs.Validationf("at least two grid levels are required")
	}

	plans := make([]OrderPlan, 0, len(levels)-1)
	for _, level := range levels[:len(levels)-1] {
		price := p.floorPrice(level.Price)
		if !price.IsPositive() {
			return nil, errs.Validationf("level %d price %s is not positive after quantization", level.LevelIndex, level.Price)
		}
		quantity := p.floorQuantity(investmentPerLevel.Div(price))
		if !quantity.IsPositive() {
			return nil, errs.Validationf("level %d quantity floors to zero (investment %s at price %s)", level.LevelIndex, investmentPerLevel, price)
		}
		if quantity.LessThan(p.rules.MinQty) {
			return nil, errs.Validationf("level %d quantity %s is below the symbol minimum %s", level.LevelIndex, quantity, p.rules.MinQty)
		}
		plans = append(plans, OrderPlan{
			LevelIndex: level.LevelIndex,
			Side:       models.Buy,
			Price:      price,
			Quantity:   quantity,
		})
	}
	return plans, nil
}

// ComputePairedSell finds the nearest level strictly above the filled buy
// and returns a SELL plan for exactly the filled quantity. The second return
// is false when the buy was at the top level: a legitimate terminal state,
// not an error.
func (p *Planner) ComputePairedSell(buyLevelIndex int, buyQuantity decimal.Decimal, levels []LevelPlan) (*OrderPlan, bool) {
	var next *LevelPlan
	for i := range levels {
		level := levels[i]
		if level.LevelIndex <= buyLevelIndex {
			continue
		}
		if next == nil || level.LevelIndex < next.LevelIndex {
			next = &levels[i]
		}
	}
	if next == nil {
		return nil, false
	}

	// The quantity is carried unchanged from the buy fill: the sell must
	// never invent or drop inventory.
	return &OrderPlan{
		LevelIndex: next.LevelIndex,
		Side:       models.Sell,
		Price:      p.floorPrice(next.Price),
		Quantity:   buyQuantity,
	}, true
}

// floorPrice quantizes a price down to the tick size and price precision.
func (p *Planner) floorPrice(price decimal.Decimal) decimal.Decimal {
	return floorToStep(price, p.rules.TickSize, p.rules.PricePrecision)
}

// floorQuantity quantizes a quantity down to the step size and qty precision.
func (p *Planner) floorQuantity(quantity decimal.Decimal) decimal.Decimal {
	return floorToStep(quantity, p.rules.StepSize, p.rules.QtyPrecision)
}

// floorToStep floors value to an integer multiple of step, then truncates to
// the given number of decimal places.
func floorToStep(value, step decimal.Decimal, precision int) decimal.Decimal {
	if step.IsPositive() {
		value = value.Div(step).Floor().Mul(step)
	}
	return value.Truncate(int32(precision))
}

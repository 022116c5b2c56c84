// Package pairing places the counter SELL order for every filled BUY.
// Pairing is idempotent: a BUY is paired at most once over its lifetime,
// and the link is recorded on the SELL so retries and sweeps can never
// duplicate it.
package pairing

import (
	"sync"
	"time"

	"binance-grid-trader/internal/errs"
	"binance-grid-trader/internal/exchange"
	"binance-grid-trader/internal/models"
	"binance-grid-trader/internal/persistence"
	"binance-grid-trader/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine creates paired SELL orders one level above filled BUYs.
type Engine struct {
	client exchange.Client
	levels persistence.GridLevelRepository
	orders persistence.OrderRepository
	logger *zap.Logger

	// pairMu serializes the paired-check / place / persist sequence so
	// concurrent callers (stream events and sweeps) cannot both pass the
	// absence check for the same BUY.
	pairMu sync.Mutex

	mu       sync.Mutex
	planners map[string]*strategy.Planner
}

// NewEngine wires the engine to the exchange and the repositories.
func NewEngine(client exchange.Client, levels persistence.GridLevelRepository, orders persistence.OrderRepository, logger *zap.Logger) *Engine {
	return &Engine{
		client:   client,
		levels:   levels,
		orders:   orders,
		logger:   logger,
		planners: make(map[string]*strategy.Planner),
	}
}

// Pair places the SELL counterpart for a filled BUY order and returns it.
// It is safe to call any number of times for the same BUY, concurrently
// or not: calls are serialized, and once a SELL referencing the BUY
// exists every later call returns (nil, nil). A BUY at the top level has
// no level above it and is left unpaired.
func (e *Engine) Pair(buy *models.Order) (*models.Order, error) {
	if buy.Side != models.Buy {
		e.logger.Warn("pairing skipped, not a buy order", zap.String("order_id", buy.ID))
		return nil, nil
	}
	if buy.Status != models.OrderStatusFilled {
		e.logger.Warn("pairing skipped, order not filled", zap.String("order_id", buy.ID), zap.String("status", string(buy.Status)))
		return nil, nil
	}
	if !buy.FilledQuantity.IsPositive() {
		return nil, errs.Validationf("order %s has no filled quantity", buy.ID)
	}

	e.pairMu.Lock()
	defer e.pairMu.Unlock()

	paired, err := e.alreadyPaired(buy)
	if err != nil {
		return nil, err
	}
	if paired {
		e.logger.Debug("buy order already paired, skipping", zap.String("order_id", buy.ID))
		return nil, nil
	}

	gridLevels, err := e.levels.GetByGridID(buy.GridID)
	if err != nil {
		return nil, err
	}
	levelPlans := make([]strategy.LevelPlan, 0, len(gridLevels))
	for _, level := range gridLevels {
		levelPlans = append(levelPlans, strategy.LevelPlan{LevelIndex: level.LevelIndex, Price: level.Price})
	}

	planner, err := e.plannerFor(buy.Symbol)
	if err != nil {
		return nil, err
	}
	plan, ok := planner.ComputePairedSell(buy.LevelIndex, buy.FilledQuantity, levelPlans)
	if !ok {
		e.logger.Debug("buy order at top level, no sell to pair", zap.String("order_id", buy.ID), zap.Int("level", buy.LevelIndex))
		return nil, nil
	}

	exchangeOrderID, err := e.client.PlaceOrder(buy.Symbol, plan.Side, models.OrderTypeLimit, plan.Quantity, plan.Price)
	if err != nil {
		// Nothing is persisted on failure; the sweep picks this BUY up
		// again on its next pass.
		e.logger.Error("paired sell placement failed",
			zap.String("buy_order_id", buy.ID),
			zap.Int("level", plan.LevelIndex),
			zap.Error(err))
		return nil, err
	}

	now := time.Now().UTC()
	sell := &models.Order{
		ID:              models.NewID(),
		GridID:          buy.GridID,
		LevelIndex:      plan.LevelIndex,
		Symbol:          buy.Symbol,
		Side:            models.Sell,
		Type:            models.OrderTypeLimit,
		Price:           plan.Price,
		Quantity:        plan.Quantity,
		FilledQuantity:  decimal.Zero,
		Status:          models.OrderStatusNew,
		PairedOrderID:   buy.ID,
		ExchangeOrderID: exchangeOrderID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.orders.Create(sell); err != nil {
		return nil, err
	}

	e.logger.Info("paired sell placed",
		zap.String("buy_order_id", buy.ID),
		zap.String("sell_order_id", sell.ID),
		zap.String("price", plan.Price.String()),
		zap.String("quantity", plan.Quantity.String()))
	return sell, nil
}

// Sweep pairs every filled BUY in the grid that has no SELL yet. It is
// the recovery path for pairings missed while the process was down or
// that failed at placement time. Returns the number of SELLs created.
func (e *Engine) Sweep(gridID string) (int, error) {
	unpaired, err := e.orders.FindFilledBuysWithoutPair(gridID)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, buy := range unpaired {
		sell, err := e.Pair(buy)
		if err != nil {
			// Keep sweeping: other BUYs are independent.
			e.logger.Error("sweep pairing failed", zap.String("order_id", buy.ID), zap.Error(err))
			continue
		}
		if sell != nil {
			created++
		}
	}
	if created > 0 {
		e.logger.Info("sweep placed missing sell orders", zap.String("grid_id", gridID), zap.Int("created", created))
	}
	return created, nil
}

func (e *Engine) alreadyPaired(buy *models.Order) (bool, error) {
	orders, err := e.orders.GetByGridID(buy.GridID)
	if err != nil {
		return false, err
	}
	for _, order := range orders {
		if order.Side == models.Sell && order.PairedOrderID == buy.ID {
			return true, nil
		}
	}
	return false, nil
}

// plannerFor builds (and caches) a planner from the symbol's exchange
// trading rules.
func (e *Engine) plannerFor(symbol string) (*strategy.Planner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if planner, ok := e.planners[symbol]; ok {
		return planner, nil
	}
	info, err := e.client.GetSymbolInfo(symbol)
	if err != nil {
		return nil, err
	}
	planner := strategy.NewPlanner(strategy.RulesFromSymbol(info))
	e.planners[symbol] = planner
	return planner, nil
}

// Package grid orchestrates the lifecycle of a grid instance: validated
// all-or-nothing start, controlled stop, and status reporting.
package grid

import (
	"errors"
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

var (
	// priceBuffer widens the accepted price band around the configured
	// range; a current price outside [lower*(1-B), upper*(1+B)] points at
	// a misconfigured grid.
	priceBuffer = decimal.NewFromFloat(0.5)

	// maxInvestment caps the quote amount a single grid may commit.
	maxInvestment = decimal.NewFromInt(100000)
)

// Config carries the validated user parameters for one grid.
type Config struct {
	TradingPair     string
	UpperPrice      decimal.Decimal
	LowerPrice      decimal.Decimal
	GridCount       int
	TotalInvestment decimal.Decimal
	QuoteAsset      string
}

// Coordinator owns grid start/stop. Start and Stop are serialized by a
// mutex so two concurrent starts cannot both pass the conflict check.
type Coordinator struct {
	client exchange.Client
	grids  persistence.GridRepository
	levels persistence.GridLevelRepository
	orders persistence.OrderRepository
	trades persistence.TradeRepository
	logger *zap.Logger

	mu sync.Mutex
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(client exchange.Client, store *persistence.Store, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		client: client,
		grids:  store.Grids,
		levels: store.Levels,
		orders: store.Orders,
		trades: store.Trades,
		logger: logger,
	}
}

// newCoordinatorForTest allows tests to inject repository doubles.
func newCoordinatorForTest(client exchange.Client, grids persistence.GridRepository, levels persistence.GridLevelRepository, orders persistence.OrderRepository, trades persistence.TradeRepository, logger *zap.Logger) *Coordinator {
	return &Coordinator{client: client, grids: grids, levels: levels, orders: orders, trades: trades, logger: logger}
}

// Start validates the configuration against live exchange state, persists
// the grid and its levels, and places every initial BUY sequentially.
// Any placement failure rolls the whole operation back: no partial grid,
// no partial orders.
func (c *Coordinator) Start(cfg Config) (*models.Grid, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.grids.FindActive()
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, &errs.ConflictError{Message: "grid trading already running"}
	}

	symbolInfo, err := c.client.GetSymbolInfo(cfg.TradingPair)
	if err != nil {
		var notFound *errs.ResourceNotFoundError
		if errors.As(err, &notFound) {
			return nil, errs.Validationf("trading pair %s not found or not supported", cfg.TradingPair)
		}
		return nil, err
	}

	// Price band guard against misconfigured ranges.
	currentPrice, err := c.client.GetPrice(cfg.TradingPair)
	if err != nil {
		return nil, err
	}
	if currentPrice.IsPositive() {
		one := decimal.NewFromInt(1)
		acceptableLower := cfg.LowerPrice.Mul(one.Sub(priceBuffer))
		acceptableUpper := cfg.UpperPrice.Mul(one.Add(priceBuffer))
		if currentPrice.LessThan(acceptableLower) || currentPrice.GreaterThan(acceptableUpper) {
			c.logger.Warn("current price is outside grid bounds",
				zap.String("price", currentPrice.String()),
				zap.String("lower", cfg.LowerPrice.String()),
				zap.String("upper", cfg.UpperPrice.String()))
			return nil, errs.Validationf("current market price (%s) is too far from the grid range [%s, %s]", currentPrice, cfg.LowerPrice, cfg.UpperPrice)
		}
	}

	if cfg.TotalInvestment.GreaterThan(maxInvestment) {
		return nil, errs.Validationf("total investment (%s %s) exceeds the maximum allowed (%s %s)", cfg.TotalInvestment, cfg.QuoteAsset, maxInvestment, cfg.QuoteAsset)
	}

	// Only BUY orders are placed up front, so only the quote balance is
	// checked; SELL orders are funded by the fills themselves.
	available, err := c.quoteBalance(cfg.QuoteAsset)
	if err != nil {
		return nil, err
	}
	if available.LessThan(cfg.TotalInvestment) {
		return nil, &errs.InsufficientBalanceError{
			Message:   "insufficient balance for initial BUY orders",
			Required:  cfg.TotalInvestment.String(),
			Available: available.String(),
			Asset:     cfg.QuoteAsset,
		}
	}

	calc, err := strategy.Calculate(cfg.UpperPrice, cfg.LowerPrice, cfg.GridCount, cfg.TotalInvestment, symbolInfo.PricePrecision)
	if err != nil {
		return nil, err
	}
	planner := strategy.NewPlanner(strategy.RulesFromSymbol(symbolInfo))
	plans, err := planner.GenerateInitialBuys(calc.Levels, calc.InvestmentPerLevel)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	g := &models.Grid{
		ID:                 models.NewID(),
		TradingPair:        cfg.TradingPair,
		UpperPrice:         cfg.UpperPrice,
		LowerPrice:         cfg.LowerPrice,
		GridCount:          cfg.GridCount,
		GridSpacing:        calc.GridSpacing,
		TotalInvestment:    cfg.TotalInvestment,
		InvestmentPerLevel: calc.InvestmentPerLevel,
		Status:             models.GridStatusRunning,
		CreatedAt:          now,
		StartedAt:          now,
	}
	if err := c.grids.Create(g); err != nil {
		return nil, err
	}

	levels := make([]*models.GridLevel, 0, len(calc.Levels))
	for _, level := range calc.Levels {
		levels = append(levels, &models.GridLevel{
			ID:         models.NewID(),
			GridID:     g.ID,
			LevelIndex: level.LevelIndex,
			Price:      level.Price,
		})
	}
	if err := c.levels.CreateMany(levels); err != nil {
		c.rollback(g, nil)
		return nil, err
	}

	// Sequential placement: only acknowledged orders are persisted, each
	// tagged with its exchange order id.
	placed := make([]*models.Order, 0, len(plans))
	for _, plan := range plans {
		exchangeOrderID, err := c.client.PlaceOrder(cfg.TradingPair, plan.Side, models.OrderTypeLimit, plan.Quantity, plan.Price)
		if err != nil {
			c.logger.Error("initial order placement failed, rolling back grid",
				zap.Int("level", plan.LevelIndex),
				zap.Error(err))
			c.rollback(g, placed)
			return nil, errs.Validationf("failed to place order at level %d: %v", plan.LevelIndex, err)
		}
		placed = append(placed, &models.Order{
			ID:              models.NewID(),
			GridID:          g.ID,
			LevelIndex:      plan.LevelIndex,
			Symbol:          cfg.TradingPair,
			Side:            plan.Side,
			Type:            models.OrderTypeLimit,
			Price:           plan.Price,
			Quantity:        plan.Quantity,
			FilledQuantity:  decimal.Zero,
			Status:          models.OrderStatusNew,
			ExchangeOrderID: exchangeOrderID,
			CreatedAt:       time.Now().UTC(),
			UpdatedAt:       time.Now().UTC(),
		})
	}
	if err := c.orders.CreateMany(placed); err != nil {
		c.rollback(g, placed)
		return nil, err
	}

	c.logger.Info("grid started",
		zap.String("grid_id", g.ID),
		zap.String("pair", g.TradingPair),
		zap.Int("initial_buys", len(placed)))
	return g, nil
}

// rollback undoes a partially started grid: cancels any exchange orders
// that were already acknowledged (best effort) and removes the persisted
// grid and levels.
func (c *Coordinator) rollback(g *models.Grid, placed []*models.Order) {
	for _, order := range placed {
		if err := c.client.CancelOrder(order.Symbol, order.ExchangeOrderID); err != nil {
			c.logger.Error("rollback: cancel order failed",
				zap.Int64("exchange_order_id", order.ExchangeOrderID),
				zap.Error(err))
		}
	}
	if err := c.levels.DeleteByGridID(g.ID); err != nil {
		c.logger.Error("rollback: delete levels failed", zap.Error(err))
	}
	if err := c.grids.Delete(g.ID); err != nil {
		c.logger.Error("rollback: delete grid failed", zap.Error(err))
	}
}

// Stop marks the grid STOPPED and, when requested, cancels its pending
// orders. Cancellation is attempted independently per order: one failing
// order never blocks cleanup of the rest.
func (c *Coordinator) Stop(gridID string, cancelOrders bool) (*models.Grid, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, err := c.grids.Find(gridID)
	if err != nil {
		return nil, 0, err
	}
	if g == nil {
		return nil, 0, errs.NotFoundf("grid %s not found", gridID)
	}

	now := time.Now().UTC()
	g.Status = models.GridStatusStopped
	g.StoppedAt = &now
	if err := c.grids.Update(g); err != nil {
		return nil, 0, err
	}

	cancelled := 0
	if cancelOrders {
		pending, err := c.orders.GetPendingOrders(gridID)
		if err != nil {
			return g, 0, err
		}
		for _, order := range pending {
			if order.ExchangeOrderID != 0 {
				if err := c.client.CancelOrder(order.Symbol, order.ExchangeOrderID); err != nil {
					// Logged and skipped: the order may already be gone on
					// the exchange side.
					c.logger.Error("cancel order failed",
						zap.String("order_id", order.ID),
						zap.Int64("exchange_order_id", order.ExchangeOrderID),
						zap.Error(err))
					continue
				}
			}
			order.Status = models.OrderStatusCancelled
			order.UpdatedAt = time.Now().UTC()
			if err := c.orders.Update(order); err != nil {
				c.logger.Error("mark order cancelled failed", zap.String("order_id", order.ID), zap.Error(err))
				continue
			}
			cancelled++
		}
	}

	c.logger.Info("grid stopped", zap.String("grid_id", g.ID), zap.Int("cancelled_orders", cancelled))
	return g, cancelled, nil
}

func (c *Coordinator) quoteBalance(asset string) (decimal.Decimal, error) {
	balances, err := c.client.GetBalances()
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b.Free, nil
		}
	}
	return decimal.Zero, nil
}

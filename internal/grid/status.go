package grid

import (
	"time"

	"binance-grid-trader/internal/errs"
	"binance-grid-trader/internal/models"

	"github.com/shopspring/decimal"
)

// Statistics aggregates the trading activity of one grid.
type Statistics struct {
	TotalTrades      int
	BuyTrades        int
	SellTrades       int
	ActiveOrders     int
	TotalBuyCost     decimal.Decimal
	TotalSellRevenue decimal.Decimal
	TotalFees        decimal.Decimal
	Profit           decimal.Decimal
	ProfitPercentage decimal.Decimal
}

// Status is a point-in-time snapshot of a grid and its statistics.
type Status struct {
	Grid         *models.Grid
	Levels       []*models.GridLevel
	Orders       []*models.Order
	CurrentPrice decimal.Decimal
	Statistics   Statistics
	Runtime      time.Duration
}

// Status assembles a snapshot for the given grid, or for the active grid
// when gridID is empty.
func (c *Coordinator) Status(gridID string) (*Status, error) {
	var g *models.Grid
	var err error
	if gridID == "" {
		g, err = c.grids.FindActive()
	} else {
		g, err = c.grids.Find(gridID)
	}
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, errs.NotFoundf("no grid found")
	}

	levels, err := c.levels.GetByGridID(g.ID)
	if err != nil {
		return nil, err
	}
	orders, err := c.orders.GetByGridID(g.ID)
	if err != nil {
		return nil, err
	}
	trades, err := c.trades.GetByGridID(g.ID)
	if err != nil {
		return nil, err
	}

	currentPrice, err := c.client.GetPrice(g.TradingPair)
	if err != nil {
		// A transient price failure should not hide the rest of the
		// snapshot.
		currentPrice = decimal.Zero
	}

	stats := computeStatistics(orders, trades)

	runtime := time.Since(g.StartedAt)
	if g.StoppedAt != nil {
		runtime = g.StoppedAt.Sub(g.StartedAt)
	}

	return &Status{
		Grid:         g,
		Levels:       levels,
		Orders:       orders,
		CurrentPrice: currentPrice,
		Statistics:   stats,
		Runtime:      runtime,
	}, nil
}

// computeStatistics derives realized profit from the trade log: SELL
// revenue minus BUY cost. Fees are reported separately because the
// commission asset varies per trade.
func computeStatistics(orders []*models.Order, trades []*models.Trade) Statistics {
	stats := Statistics{
		TotalBuyCost:     decimal.Zero,
		TotalSellRevenue: decimal.Zero,
		TotalFees:        decimal.Zero,
		Profit:           decimal.Zero,
		ProfitPercentage: decimal.Zero,
	}
	for _, order := range orders {
		if order.IsPending() {
			stats.ActiveOrders++
		}
	}
	for _, trade := range trades {
		stats.TotalTrades++
		notional := trade.Price.Mul(trade.Quantity)
		if trade.Side == models.Buy {
			stats.BuyTrades++
			stats.TotalBuyCost = stats.TotalBuyCost.Add(notional)
		} else {
			stats.SellTrades++
			stats.TotalSellRevenue = stats.TotalSellRevenue.Add(notional)
		}
		stats.TotalFees = stats.TotalFees.Add(trade.Commission)
	}
	stats.Profit = stats.TotalSellRevenue.Sub(stats.TotalBuyCost)
	if stats.TotalBuyCost.IsPositive() {
		stats.ProfitPercentage = stats.Profit.Div(stats.TotalBuyCost).Mul(decimal.NewFromInt(100)).Round(4)
	}
	return stats
}

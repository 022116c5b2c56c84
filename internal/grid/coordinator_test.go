package grid

import (
	"errors"
	"testing"
	"time"

	"binance-grid-trader/internal/errs"
	"binance-grid-trader/internal/models"
	"binance-grid-trader/internal/persistence"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// mockClient implements exchange.Client with scriptable balances, price
// and failure injection for order placement.
type mockClient struct {
	price       decimal.Decimal
	freeBalance decimal.Decimal
	quoteAsset  string
	symbolErr   error

	nextOrderID int64
	placedCount int
	failAfter   int // fail placements once this many succeeded; 0 = never
	cancelled   []int64
	cancelErr   map[int64]error
}

func (m *mockClient) TestConnection() error { return nil }

func (m *mockClient) GetBalances() ([]models.Balance, error) {
	return []models.Balance{{Asset: m.quoteAsset, Free: m.freeBalance, Locked: decimal.Zero}}, nil
}

func (m *mockClient) GetSymbols(string) ([]*models.SymbolInfo, error) { return nil, nil }

func (m *mockClient) GetSymbolInfo(symbol string) (*models.SymbolInfo, error) {
	if m.symbolErr != nil {
		return nil, m.symbolErr
	}
	return &models.SymbolInfo{
		Symbol:         symbol,
		Status:         "TRADING",
		TickSize:       d("0.01"),
		StepSize:       d("0.0001"),
		MinQty:         d("0.0001"),
		PricePrecision: 2,
		QtyPrecision:   4,
	}, nil
}

func (m *mockClient) GetPrice(string) (decimal.Decimal, error) { return m.price, nil }

func (m *mockClient) PlaceOrder(string, models.Side, models.OrderType, decimal.Decimal, decimal.Decimal) (int64, error) {
	if m.failAfter > 0 && m.placedCount >= m.failAfter {
		return 0, errors.New("order rejected")
	}
	m.placedCount++
	m.nextOrderID++
	return m.nextOrderID, nil
}

func (m *mockClient) CancelOrder(_ string, exchangeOrderID int64) error {
	if err := m.cancelErr[exchangeOrderID]; err != nil {
		return err
	}
	m.cancelled = append(m.cancelled, exchangeOrderID)
	return nil
}

func (m *mockClient) CreateListenKey() (string, error) { return "key", nil }
func (m *mockClient) KeepAliveListenKey(string) error  { return nil }
func (m *mockClient) CloseListenKey(string) error      { return nil }
func (m *mockClient) DialUserStream(string) (*websocket.Conn, error) {
	return nil, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *mockClient, *persistence.Store) {
	t.Helper()
	client := &mockClient{
		price:       d("2500"),
		freeBalance: d("5000"),
		quoteAsset:  "USDT",
	}
	store := persistence.NewMemoryStore()
	c := newCoordinatorForTest(client, store.Grids, store.Levels, store.Orders, store.Trades, zap.NewNop())
	return c, client, store
}

func testConfig() Config {
	return Config{
		TradingPair:     "ETHUSDT",
		UpperPrice:      d("3000"),
		LowerPrice:      d("2000"),
		GridCount:       10,
		TotalInvestment: d("1000"),
		QuoteAsset:      "USDT",
	}
}

func TestStartPlacesInitialBuys(t *testing.T) {
	c, client, store := newTestCoordinator(t)

	g, err := c.Start(testConfig())
	require.NoError(t, err)
	require.NotNil(t, g)

	assert.Equal(t, models.GridStatusRunning, g.Status)
	assert.True(t, g.GridSpacing.Equal(d("100")))
	assert.True(t, g.InvestmentPerLevel.Equal(d("100")))

	levels, err := store.Levels.GetByGridID(g.ID)
	require.NoError(t, err)
	assert.Len(t, levels, 11)

	// One BUY per level except the top one, all acknowledged.
	orders, err := store.Orders.GetByGridID(g.ID)
	require.NoError(t, err)
	require.Len(t, orders, 10)
	for _, order := range orders {
		assert.Equal(t, models.Buy, order.Side)
		assert.Equal(t, models.OrderStatusNew, order.Status)
		assert.NotZero(t, order.ExchangeOrderID)
	}
	assert.Equal(t, 10, client.placedCount)
}

func TestStartRejectsSecondGrid(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	_, err := c.Start(testConfig())
	require.NoError(t, err)

	_, err = c.Start(testConfig())
	var conflict *errs.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestStartUnknownSymbol(t *testing.T) {
	c, client, _ := newTestCoordinator(t)
	client.symbolErr = errs.NotFoundf("symbol not found")

	_, err := c.Start(testConfig())
	var validation *errs.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestStartPriceOutsideBand(t *testing.T) {
	c, client, store := newTestCoordinator(t)
	// 50% above the upper bound is the cut-off; 5000 is far beyond it.
	client.price = d("5000")

	_, err := c.Start(testConfig())
	var validation *errs.ValidationError
	require.ErrorAs(t, err, &validation)

	// Nothing was persisted.
	active, err := store.Grids.FindActive()
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStartPriceWithinBufferedBand(t *testing.T) {
	c, client, _ := newTestCoordinator(t)
	// Above the configured upper bound but inside the 50% buffer.
	client.price = d("4400")
	client.freeBalance = d("5000")

	_, err := c.Start(testConfig())
	assert.NoError(t, err)
}

func TestStartInvestmentCap(t *testing.T) {
	c, client, _ := newTestCoordinator(t)
	client.freeBalance = d("500000")

	cfg := testConfig()
	cfg.TotalInvestment = d("100001")
	_, err := c.Start(cfg)
	var validation *errs.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestStartInsufficientBalance(t *testing.T) {
	c, client, _ := newTestCoordinator(t)
	client.freeBalance = d("999.99")

	_, err := c.Start(testConfig())
	var insufficient *errs.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "1000", insufficient.Required)
	assert.Equal(t, "999.99", insufficient.Available)
	assert.Equal(t, "USDT", insufficient.Asset)
}

func TestStartRollsBackOnPlacementFailure(t *testing.T) {
	c, client, store := newTestCoordinator(t)
	client.failAfter = 3

	_, err := c.Start(testConfig())
	require.Error(t, err)

	// Acknowledged orders were cancelled, grid and levels removed.
	assert.Len(t, client.cancelled, 3)
	active, err := store.Grids.FindActive()
	require.NoError(t, err)
	assert.Nil(t, active)
	histories, err := store.Grids.Histories()
	require.NoError(t, err)
	assert.Empty(t, histories)
}

func TestStopCancelsPendingOrders(t *testing.T) {
	c, client, store := newTestCoordinator(t)

	g, err := c.Start(testConfig())
	require.NoError(t, err)

	stopped, cancelled, err := c.Stop(g.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.GridStatusStopped, stopped.Status)
	require.NotNil(t, stopped.StoppedAt)
	assert.Equal(t, 10, cancelled)
	assert.Len(t, client.cancelled, 10)

	pending, err := store.Orders.GetPendingOrders(g.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStopSkipsFailedCancellations(t *testing.T) {
	c, client, store := newTestCoordinator(t)

	g, err := c.Start(testConfig())
	require.NoError(t, err)

	// One order refuses to cancel; the rest must still be cleaned up.
	client.cancelErr = map[int64]error{3: errors.New("unknown order")}

	_, cancelled, err := c.Stop(g.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 9, cancelled)

	// The failed order keeps its pending status for a later retry.
	pending, err := store.Orders.GetPendingOrders(g.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(3), pending[0].ExchangeOrderID)
}

func TestStopWithoutCancelLeavesOrders(t *testing.T) {
	c, client, store := newTestCoordinator(t)

	g, err := c.Start(testConfig())
	require.NoError(t, err)

	_, cancelled, err := c.Stop(g.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, cancelled)
	assert.Empty(t, client.cancelled)

	pending, err := store.Orders.GetPendingOrders(g.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 10)
}

func TestStopUnknownGrid(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	_, _, err := c.Stop("missing", true)
	var notFound *errs.ResourceNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestStatusComputesProfit(t *testing.T) {
	c, _, store := newTestCoordinator(t)

	g, err := c.Start(testConfig())
	require.NoError(t, err)

	now := time.Now()
	trades := []*models.Trade{
		{ID: models.NewID(), GridID: g.ID, Side: models.Buy, Price: d("2000"), Quantity: d("0.05"), Commission: d("0.1"), Timestamp: now},
		{ID: models.NewID(), GridID: g.ID, Side: models.Sell, Price: d("2100"), Quantity: d("0.05"), Commission: d("0.1"), Timestamp: now},
	}
	for _, trade := range trades {
		require.NoError(t, store.Trades.Create(trade))
	}

	st, err := c.Status(g.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, st.Statistics.TotalTrades)
	assert.Equal(t, 1, st.Statistics.BuyTrades)
	assert.Equal(t, 1, st.Statistics.SellTrades)
	assert.Equal(t, 10, st.Statistics.ActiveOrders)
	// (2100 - 2000) * 0.05 = 5
	assert.True(t, st.Statistics.Profit.Equal(d("5")), "got %s", st.Statistics.Profit)
	assert.True(t, st.Statistics.TotalFees.Equal(d("0.2")))
	// 5 / 100 = 5%
	assert.True(t, st.Statistics.ProfitPercentage.Equal(d("5")), "got %s", st.Statistics.ProfitPercentage)
}

func TestStatusUsesActiveGridWhenIDEmpty(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	g, err := c.Start(testConfig())
	require.NoError(t, err)

	st, err := c.Status("")
	require.NoError(t, err)
	assert.Equal(t, g.ID, st.Grid.ID)
}

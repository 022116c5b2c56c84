package persistence

import "binance-grid-trader/internal/models"

// The repositories abstract the underlying storage engine (BadgerDB,
// in-memory test doubles) from the trading core. All finders return
// (nil, nil) when the entity does not exist.

// GridRepository persists Grid aggregates.
type GridRepository interface {
	Create(grid *models.Grid) error
	Find(id string) (*models.Grid, error)
	Update(grid *models.Grid) error

	// FindActive returns the single RUNNING grid, or nil when none is.
	FindActive() (*models.Grid, error)

	// Histories returns all grids, newest first.
	Histories() ([]*models.Grid, error)

	// Delete removes a grid record. Used only to roll back a failed start.
	Delete(id string) error
}

// GridLevelRepository persists the immutable level set of a grid.
type GridLevelRepository interface {
	CreateMany(levels []*models.GridLevel) error
	GetByGridID(gridID string) ([]*models.GridLevel, error)
	DeleteByGridID(gridID string) error
}

// OrderRepository persists orders and answers the pairing queries.
type OrderRepository interface {
	Create(order *models.Order) error
	CreateMany(orders []*models.Order) error
	Find(id string) (*models.Order, error)
	Update(order *models.Order) error
	FindByExchangeOrderID(exchangeOrderID int64) (*models.Order, error)
	GetByGridID(gridID string) ([]*models.Order, error)

	// GetPendingOrders returns orders still working on the exchange
	// (NEW or PARTIALLY_FILLED) for one grid.
	GetPendingOrders(gridID string) ([]*models.Order, error)

	// FindFilledBuysWithoutPair returns FILLED BUY orders that no SELL
	// order references via paired_order_id. A BUY whose paired SELL has
	// itself been filled or cancelled still counts as paired: the
	// reference is permanent.
	FindFilledBuysWithoutPair(gridID string) ([]*models.Order, error)
}

// TradeRepository persists immutable execution records.
type TradeRepository interface {
	Create(trade *models.Trade) error
	GetByGridID(gridID string) ([]*models.Trade, error)
	CountByGridID(gridID string) (int, error)
}

package persistence

import (
	"sort"
	"sync"

	"binance-grid-trader/internal/models"
)

// NewMemoryStore returns a Store backed by in-process maps. It honors the
// same contracts as the Badger implementation and is used by tests and
// dry runs that should not touch disk.
func NewMemoryStore() *Store {
	return &Store{
		Grids:  &memoryGridRepository{grids: make(map[string]*models.Grid)},
		Levels: &memoryGridLevelRepository{levels: make(map[string][]*models.GridLevel)},
		Orders: &memoryOrderRepository{orders: make(map[string]*models.Order)},
		Trades: &memoryTradeRepository{trades: make(map[string][]*models.Trade)},
	}
}

type memoryGridRepository struct {
	mu    sync.RWMutex
	grids map[string]*models.Grid
}

func (r *memoryGridRepository) Create(grid *models.Grid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *grid
	r.grids[grid.ID] = &clone
	return nil
}

func (r *memoryGridRepository) Find(id string) (*models.Grid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	grid, ok := r.grids[id]
	if !ok {
		return nil, nil
	}
	clone := *grid
	return &clone, nil
}

func (r *memoryGridRepository) Update(grid *models.Grid) error {
	return r.Create(grid)
}

func (r *memoryGridRepository) FindActive() (*models.Grid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, grid := range r.grids {
		if grid.Status == models.GridStatusRunning {
			clone := *grid
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memoryGridRepository) Histories() ([]*models.Grid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Grid, 0, len(r.grids))
	for _, grid := range r.grids {
		clone := *grid
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryGridRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grids, id)
	return nil
}

type memoryGridLevelRepository struct {
	mu     sync.RWMutex
	levels map[string][]*models.GridLevel
}

func (r *memoryGridLevelRepository) CreateMany(levels []*models.GridLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, level := range levels {
		clone := *level
		r.levels[level.GridID] = append(r.levels[level.GridID], &clone)
	}
	return nil
}

func (r *memoryGridLevelRepository) GetByGridID(gridID string) ([]*models.GridLevel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.GridLevel, 0, len(r.levels[gridID]))
	for _, level := range r.levels[gridID] {
		clone := *level
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LevelIndex < out[j].LevelIndex })
	return out, nil
}

func (r *memoryGridLevelRepository) DeleteByGridID(gridID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.levels, gridID)
	return nil
}

type memoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

func (r *memoryOrderRepository) Create(order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *order
	r.orders[order.ID] = &clone
	return nil
}

func (r *memoryOrderRepository) CreateMany(orders []*models.Order) error {
	for _, order := range orders {
		if err := r.Create(order); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryOrderRepository) Find(id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	clone := *order
	return &clone, nil
}

func (r *memoryOrderRepository) Update(order *models.Order) error {
	return r.Create(order)
}

func (r *memoryOrderRepository) FindByExchangeOrderID(exchangeOrderID int64) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, order := range r.orders {
		if order.ExchangeOrderID == exchangeOrderID {
			clone := *order
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memoryOrderRepository) GetByGridID(gridID string) ([]*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Order
	for _, order := range r.orders {
		if order.GridID == gridID {
			clone := *order
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LevelIndex != out[j].LevelIndex {
			return out[i].LevelIndex < out[j].LevelIndex
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryOrderRepository) GetPendingOrders(gridID string) ([]*models.Order, error) {
	orders, err := r.GetByGridID(gridID)
	if err != nil {
		return nil, err
	}
	out := orders[:0]
	for _, order := range orders {
		if order.IsPending() {
			out = append(out, order)
		}
	}
	return out, nil
}

func (r *memoryOrderRepository) FindFilledBuysWithoutPair(gridID string) ([]*models.Order, error) {
	orders, err := r.GetByGridID(gridID)
	if err != nil {
		return nil, err
	}
	paired := make(map[string]bool)
	for _, order := range orders {
		if order.Side == models.Sell && order.PairedOrderID != "" {
			paired[order.PairedOrderID] = true
		}
	}
	var out []*models.Order
	for _, order := range orders {
		if order.Side == models.Buy && order.Status == models.OrderStatusFilled && !paired[order.ID] {
			out = append(out, order)
		}
	}
	return out, nil
}

type memoryTradeRepository struct {
	mu     sync.RWMutex
	trades map[string][]*models.Trade
}

func (r *memoryTradeRepository) Create(trade *models.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *trade
	r.trades[trade.GridID] = append(r.trades[trade.GridID], &clone)
	return nil
}

func (r *memoryTradeRepository) GetByGridID(gridID string) ([]*models.Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Trade, 0, len(r.trades[gridID]))
	for _, trade := range r.trades[gridID] {
		clone := *trade
		out = append(out, &clone)
	}
	return out, nil
}

func (r *memoryTradeRepository) CountByGridID(gridID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trades[gridID]), nil
}

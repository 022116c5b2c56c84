package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"binance-grid-trader/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// Key layout: one JSON value per entity.
//
//	grid:<id>
//	level:<gridID>:<levelIndex>
//	order:<id>
//	orderx:<exchangeOrderID> -> order id (lookup index)
//	trade:<id>
//
// Every operation runs in a short single-writer transaction; no
// transaction ever spans a network call.

// Store bundles the four repositories backed by one BadgerDB instance.
type Store struct {
	db *badger.DB

	Grids  GridRepository
	Levels GridLevelRepository
	Orders OrderRepository
	Trades TradeRepository
}

// Open opens (or creates) the database at dbPath and returns the store.
func Open(dbPath string) (*Store, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep the app's logs clean.
	// Errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	s.Grids = &gridRepository{db: db}
	s.Levels = &gridLevelRepository{db: db}
	s.Orders = &orderRepository{db: db}
	s.Trades = &tradeRepository{db: db}
	return s, nil
}

// Close gracefully closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// getJSON loads one key into v. Returns (false, nil) when the key is absent.
func getJSON(db *badger.DB, key []byte, v interface{}) (bool, error) {
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// scanJSON iterates all values under prefix, unmarshalling each into a fresh
// T via the decode callback.
func scanJSON(db *badger.DB, prefix []byte, decode func(val []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(decode); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(db *badger.DB, prefix []byte) error {
	var keys [][]byte
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- grids ---

type gridRepository struct {
	db *badger.DB
}

func gridKey(id string) []byte { return []byte("grid:" + id) }

func (r *gridRepository) Create(grid *models.Grid) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, gridKey(grid.ID), grid)
	})
}

func (r *gridRepository) Update(grid *models.Grid) error {
	return r.Create(grid)
}

func (r *gridRepository) Find(id string) (*models.Grid, error) {
	var grid models.Grid
	found, err := getJSON(r.db, gridKey(id), &grid)
	if err != nil || !found {
		return nil, err
	}
	return &grid, nil
}

func (r *gridRepository) FindActive() (*models.Grid, error) {
	var active *models.Grid
	err := scanJSON(r.db, []byte("grid:"), func(val []byte) error {
		var grid models.Grid
		if err := json.Unmarshal(val, &grid); err != nil {
			return err
		}
		if grid.Status == models.GridStatusRunning {
			active = &grid
		}
		return nil
	})
	return active, err
}

func (r *gridRepository) Histories() ([]*models.Grid, error) {
	var grids []*models.Grid
	err := scanJSON(r.db, []byte("grid:"), func(val []byte) error {
		var grid models.Grid
		if err := json.Unmarshal(val, &grid); err != nil {
			return err
		}
		grids = append(grids, &grid)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(grids, func(i, j int) bool {
		return grids[i].CreatedAt.After(grids[j].CreatedAt)
	})
	return grids, nil
}

func (r *gridRepository) Delete(id string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(gridKey(id))
	})
}

// --- grid levels ---

type gridLevelRepository struct {
	db *badger.DB
}

func levelKey(gridID string, levelIndex int) []byte {
	return []byte(fmt.Sprintf("level:%s:%04d", gridID, levelIndex))
}

func (r *gridLevelRepository) CreateMany(levels []*models.GridLevel) error {
	return r.db.Update(func(txn *badger.Txn) error {
		for _, level := range levels {
			if err := setJSON(txn, levelKey(level.GridID, level.LevelIndex), level); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *gridLevelRepository) GetByGridID(gridID string) ([]*models.GridLevel, error) {
	var levels []*models.GridLevel
	prefix := []byte("level:" + gridID + ":")
	err := scanJSON(r.db, prefix, func(val []byte) error {
		var level models.GridLevel
		if err := json.Unmarshal(val, &level); err != nil {
			return err
		}
		levels = append(levels, &level)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Keys are zero-padded so iteration order is already index order,
	// but the sort keeps the contract independent of the key layout.
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].LevelIndex < levels[j].LevelIndex
	})
	return levels, nil
}

func (r *gridLevelRepository) DeleteByGridID(gridID string) error {
	return deletePrefix(r.db, []byte("level:"+gridID+":"))
}

// --- orders ---

type orderRepository struct {
	db *badger.DB
}

func orderKey(id string) []byte { return []byte("order:" + id) }

func orderIndexKey(exchangeOrderID int64) []byte {
	return []byte(fmt.Sprintf("orderx:%d", exchangeOrderID))
}

func writeOrder(txn *badger.Txn, order *models.Order) error {
	if err := setJSON(txn, orderKey(order.ID), order); err != nil {
		return err
	}
	if order.ExchangeOrderID != 0 {
		return txn.Set(orderIndexKey(order.ExchangeOrderID), []byte(order.ID))
	}
	return nil
}

func (r *orderRepository) Create(order *models.Order) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return writeOrder(txn, order)
	})
}

func (r *orderRepository) CreateMany(orders []*models.Order) error {
	return r.db.Update(func(txn *badger.Txn) error {
		for _, order := range orders {
			if err := writeOrder(txn, order); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *orderRepository) Update(order *models.Order) error {
	return r.Create(order)
}

func (r *orderRepository) Find(id string) (*models.Order, error) {
	var order models.Order
	found, err := getJSON(r.db, orderKey(id), &order)
	if err != nil || !found {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) FindByExchangeOrderID(exchangeOrderID int64) (*models.Order, error) {
	var orderID []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(orderIndexKey(exchangeOrderID))
		if err != nil {
			return err
		}
		orderID, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.Find(string(bytes.TrimSpace(orderID)))
}

func (r *orderRepository) GetByGridID(gridID string) ([]*models.Order, error) {
	var orders []*models.Order
	err := scanJSON(r.db, []byte("order:"), func(val []byte) error {
		var order models.Order
		if err := json.Unmarshal(val, &order); err != nil {
			return err
		}
		if order.GridID == gridID {
			orders = append(orders, &order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].LevelIndex != orders[j].LevelIndex {
			return orders[i].LevelIndex < orders[j].LevelIndex
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func (r *orderRepository) GetPendingOrders(gridID string) ([]*models.Order, error) {
	orders, err := r.GetByGridID(gridID)
	if err != nil {
		return nil, err
	}
	var pending []*models.Order
	for _, order := range orders {
		if order.IsPending() {
			pending = append(pending, order)
		}
	}
	return pending, nil
}

func (r *orderRepository) FindFilledBuysWithoutPair(gridID string) ([]*models.Order, error) {
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

	var unpaired []*models.Order
	for _, order := range orders {
		if order.Side == models.Buy && order.Status == models.OrderStatusFilled && !paired[order.ID] {
			unpaired = append(unpaired, order)
		}
	}
	return unpaired, nil
}

// --- trades ---

type tradeRepository struct {
	db *badger.DB
}

func tradeKey(id string) []byte { return []byte("trade:" + id) }

func (r *tradeRepository) Create(trade *models.Trade) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, tradeKey(trade.ID), trade)
	})
}

func (r *tradeRepository) GetByGridID(gridID string) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := scanJSON(r.db, []byte("trade:"), func(val []byte) error {
		var trade models.Trade
		if err := json.Unmarshal(val, &trade); err != nil {
			return err
		}
		if trade.GridID == gridID {
			trades = append(trades, &trade)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
	return trades, nil
}

func (r *tradeRepository) CountByGridID(gridID string) (int, error) {
	trades, err := r.GetByGridID(gridID)
	if err != nil {
		return 0, err
	}
	return len(trades), nil
}

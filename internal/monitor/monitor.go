// Package monitor 负责维护币安用户数据流连接,
// 接收订单成交事件并驱动网格的买卖配对。
package monitor

import (
	"encoding/json"
	"sync"
	"time"

	"binance-grid-trader/internal/exchange"
	"binance-grid-trader/internal/models"
	"binance-grid-trader/internal/pairing"
	"binance-grid-trader/internal/persistence"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// keepAliveInterval listenKey 的保活周期, 币安要求 60 分钟内至少一次
	keepAliveInterval = 30 * time.Minute
	// reconnectDelay 重连前的等待时间
	reconnectDelay = 5 * time.Second
)

// Monitor 监听用户数据流, 所有事件在单个 goroutine 中按序处理
type Monitor struct {
	client exchange.Client
	grids  persistence.GridRepository
	orders persistence.OrderRepository
	trades persistence.TradeRepository
	pairer *pairing.Engine
	logger *zap.Logger

	mu        sync.Mutex // 串行化 Start/Stop/reconnect
	running   bool
	listenKey string
	conn      *websocket.Conn
	stopCh    chan struct{}
	reconnect chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor 创建监控器
func NewMonitor(client exchange.Client, store *persistence.Store, pairer *pairing.Engine, logger *zap.Logger) *Monitor {
	return &Monitor{
		client: client,
		grids:  store.Grids,
		orders: store.Orders,
		trades: store.Trades,
		pairer: pairer,
		logger: logger,
	}
}

// Start 创建 listenKey 并建立 WebSocket 连接, 重复调用无效果
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	listenKey, err := m.client.CreateListenKey()
	if err != nil {
		return err
	}
	conn, err := m.client.DialUserStream(listenKey)
	if err != nil {
		return err
	}

	m.listenKey = listenKey
	m.conn = conn
	m.running = true
	m.stopCh = make(chan struct{})
	m.reconnect = make(chan struct{}, 1)

	m.wg.Add(3)
	go m.receiveLoop(conn)
	go m.keepAliveLoop()
	go m.supervisorLoop()

	m.logger.Info("user data stream connected")
	return nil
}

// Stop 关闭连接并释放 listenKey
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}
	m.running = false
	close(m.stopCh)
	if m.conn != nil {
		m.conn.Close()
	}
	if err := m.client.CloseListenKey(m.listenKey); err != nil {
		m.logger.Warn("close listen key failed", zap.Error(err))
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("user data stream stopped")
}

// expire 在会话过期时终止监控, 清理尽力而为, 不触发重连
func (m *Monitor) expire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	if m.conn != nil {
		m.conn.Close()
	}
	if err := m.client.CloseListenKey(m.listenKey); err != nil {
		m.logger.Warn("close listen key failed", zap.Error(err))
	}
}

// receiveLoop 读取消息并就地处理, 保证事件顺序
func (m *Monitor) receiveLoop(conn *websocket.Conn) {
	defer m.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
			}
			m.logger.Warn("stream read error, scheduling reconnect", zap.Error(err))
			m.requestReconnect()
			return
		}
		m.processMessage(data)
	}
}

// keepAliveLoop 定期延长 listenKey 有效期
func (m *Monitor) keepAliveLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.keepAlive()
		}
	}
}

// keepAlive 延长 listenKey 有效期. 保活失败只记录:
// 连接本身仍然健康, 主动断开反而会造成无谓的会话重建
func (m *Monitor) keepAlive() {
	m.mu.Lock()
	key := m.listenKey
	m.mu.Unlock()
	if err := m.client.KeepAliveListenKey(key); err != nil {
		m.logger.Warn("listen key keepalive failed", zap.Error(err))
	}
}

// supervisorLoop 处理重连请求
func (m *Monitor) supervisorLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.reconnect:
			m.doReconnect()
		}
	}
}

func (m *Monitor) requestReconnect() {
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

// doReconnect 申请新的 listenKey 并重建连接, 失败则等待后重试
func (m *Monitor) doReconnect() {
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		m.mu.Lock()
		if !m.running {
			m.mu.Unlock()
			return
		}
		if m.conn != nil {
			m.conn.Close()
		}
		// 释放旧的 listenKey, 失败不阻碍重连
		if m.listenKey != "" {
			if err := m.client.CloseListenKey(m.listenKey); err != nil {
				m.logger.Debug("close old listen key failed", zap.Error(err))
			}
			m.listenKey = ""
		}

		listenKey, err := m.client.CreateListenKey()
		if err == nil {
			var conn *websocket.Conn
			conn, err = m.client.DialUserStream(listenKey)
			if err == nil {
				m.listenKey = listenKey
				m.conn = conn
				m.wg.Add(1)
				go m.receiveLoop(conn)
				m.mu.Unlock()
				m.logger.Info("user data stream reconnected")
				return
			}
		}
		m.mu.Unlock()

		m.logger.Warn("reconnect failed, retrying", zap.Error(err))
		select {
		case <-m.stopCh:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// processMessage 分发单条流消息
func (m *Monitor) processMessage(data []byte) {
	var event models.StreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		m.logger.Warn("malformed stream message", zap.Error(err))
		return
	}

	switch event.EventType {
	case "executionReport":
		var report models.ExecutionReport
		if err := json.Unmarshal(data, &report); err != nil {
			m.logger.Warn("malformed execution report", zap.Error(err))
			return
		}
		m.handleExecutionReport(&report)
	case "listenKeyExpired":
		// listenKey 过期是终止事件: 停止所有循环, 由上层决定是否重启
		m.logger.Warn("listen key expired, monitoring terminated")
		m.expire()
	default:
		m.logger.Debug("ignoring stream event", zap.String("type", event.EventType))
	}
}

// handleExecutionReport 把成交回报落到本地订单上, 重复事件不产生副作用
func (m *Monitor) handleExecutionReport(report *models.ExecutionReport) {
	order, err := m.orders.FindByExchangeOrderID(report.OrderID)
	if err != nil {
		m.logger.Error("lookup order by exchange id failed", zap.Int64("exchange_order_id", report.OrderID), zap.Error(err))
		return
	}
	if order == nil {
		// 不是本程序下的单
		m.logger.Debug("execution report for unknown order", zap.Int64("exchange_order_id", report.OrderID))
		return
	}

	grid, err := m.grids.Find(order.GridID)
	if err != nil {
		m.logger.Error("lookup grid failed", zap.String("grid_id", order.GridID), zap.Error(err))
		return
	}
	if grid == nil || grid.Status != models.GridStatusRunning {
		m.logger.Debug("grid not running, ignoring execution report", zap.String("grid_id", order.GridID))
		return
	}

	newStatus, ok := mapOrderStatus(report.Status)
	if !ok {
		m.logger.Debug("ignoring order status", zap.String("status", report.Status))
		return
	}
	if order.Status == newStatus {
		// 重复推送, 状态已经落地
		m.logger.Debug("duplicate execution report", zap.String("order_id", order.ID), zap.String("status", string(newStatus)))
		return
	}

	wasFilled := order.Status == models.OrderStatusFilled

	if report.CumQty != "" {
		filled, err := decimal.NewFromString(report.CumQty)
		if err != nil {
			m.logger.Warn("bad cumulative quantity in report", zap.String("value", report.CumQty))
			return
		}
		order.FilledQuantity = filled
	}
	order.Status = newStatus
	order.UpdatedAt = time.Now().UTC()
	if newStatus == models.OrderStatusFilled && order.FilledAt == nil {
		filledAt := time.UnixMilli(report.TradeTime).UTC()
		order.FilledAt = &filledAt
	}
	if err := m.orders.Update(order); err != nil {
		m.logger.Error("update order failed", zap.String("order_id", order.ID), zap.Error(err))
		return
	}

	// 完全成交的那一次转换记录一条累计成交, 部分成交不单独入账
	if newStatus == models.OrderStatusFilled && !wasFilled {
		m.recordTrade(order, report)

		// 买单刚刚全部成交时挂出对应的卖单
		if order.Side == models.Buy {
			if _, err := m.pairer.Pair(order); err != nil {
				// 配对失败交给定时 Sweep 兜底
				m.logger.Error("pairing after fill failed", zap.String("order_id", order.ID), zap.Error(err))
			}
		}
	}
}

// recordTrade 以订单的累计成交量保存一条成交记录
func (m *Monitor) recordTrade(order *models.Order, report *models.ExecutionReport) {
	qty := order.FilledQuantity
	if !qty.IsPositive() {
		return
	}
	price := order.Price
	commission := decimal.Zero
	if report.CommissionAmt != "" {
		if c, err := decimal.NewFromString(report.CommissionAmt); err == nil {
			commission = c
		}
	}

	trade := &models.Trade{
		ID:              models.NewID(),
		GridID:          order.GridID,
		OrderID:         order.ID,
		ExchangeTradeID: report.TradeID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		Price:           price,
		Quantity:        qty,
		QuoteQuantity:   price.Mul(qty),
		Commission:      commission,
		CommissionAsset: report.CommissionAsset,
		IsMaker:         report.IsMaker,
		Timestamp:       time.UnixMilli(report.TradeTime).UTC(),
	}
	if err := m.trades.Create(trade); err != nil {
		m.logger.Error("save trade failed", zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	m.logger.Info("trade recorded",
		zap.String("order_id", order.ID),
		zap.String("side", string(order.Side)),
		zap.String("price", price.String()),
		zap.String("quantity", qty.String()))
}

// mapOrderStatus 把币安订单状态映射为本地状态
func mapOrderStatus(status string) (models.OrderStatus, bool) {
	switch status {
	case "PARTIALLY_FILLED":
		return models.OrderStatusPartiallyFilled, true
	case "FILLED":
		return models.OrderStatusFilled, true
	case "CANCELED", "EXPIRED", "REJECTED":
		return models.OrderStatusCancelled, true
	default:
		return "", false
	}
}

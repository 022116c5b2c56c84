package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Balance 定义了账户中特定资产的余额信息
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// SymbolInfo 保存一个交易对的交易规则（精度与最小量约束）
type SymbolInfo struct {
	Symbol         string          `json:"symbol"`
	BaseAsset      string          `json:"base_asset"`
	QuoteAsset     string          `json:"quote_asset"`
	Status         string          `json:"status"`
	TickSize       decimal.Decimal `json:"tick_size"`  // PRICE_FILTER
	StepSize       decimal.Decimal `json:"step_size"`  // LOT_SIZE
	MinQty         decimal.Decimal `json:"min_qty"`    // LOT_SIZE
	MinNotional    decimal.Decimal `json:"min_notional"`
	PricePrecision int             `json:"price_precision"`
	QtyPrecision   int             `json:"qty_precision"`
}

// StreamEvent 只解出事件类型，用于分发用户数据流消息
type StreamEvent struct {
	EventType string `json:"e"` // "executionReport" / "listenKeyExpired" / ...
	EventTime int64  `json:"E"`
	ListenKey string `json:"listenKey,omitempty"`
}

// ExecutionReport 包含了现货用户数据流中订单更新的详细信息
type ExecutionReport struct {
	EventType       string `json:"e"` // Event type, "executionReport"
	EventTime       int64  `json:"E"` // Event time
	Symbol          string `json:"s"` // Symbol
	ClientOrderID   string `json:"c"` // Client Order ID
	Side            string `json:"S"` // Side
	OrderType       string `json:"o"` // Order Type
	TimeInForce     string `json:"f"` // Time in Force
	OrigQty         string `json:"q"` // Original Quantity
	Price           string `json:"p"` // Price
	ExecutionType   string `json:"x"` // Execution Type (NEW, CANCELED, TRADE...)
	Status          string `json:"X"` // Current Order Status
	OrderID         int64  `json:"i"` // Exchange Order ID
	LastExecutedQty string `json:"l"` // Last Executed Quantity
	CumQty          string `json:"z"` // Cumulative Filled Quantity
	LastExecPrice   string `json:"L"` // Last Executed Price
	CommissionAmt   string `json:"n"` // Commission Amount
	CommissionAsset string `json:"N"` // Commission Asset, null if not traded
	TradeTime       int64  `json:"T"` // Trade Time
	TradeID         int64  `json:"t"` // Trade ID
	IsMaker         bool   `json:"m"` // Is the trade a maker trade?
}

// Error 定义了币安API返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}

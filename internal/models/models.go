package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
)

// GridStatus 表示一个网格实例的生命周期状态
type GridStatus string

const (
	GridStatusRunning   GridStatus = "RUNNING"
	GridStatusStopped   GridStatus = "STOPPED"
	GridStatusCompleted GridStatus = "COMPLETED"
)

// OrderStatus 表示订单的本地状态，与币安订单状态一一对应
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType 定义了订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// NewID 生成一个紧凑的实体ID：UUID 的 16 字节经 base62 编码
func NewID() string {
	u := uuid.New()
	return base62.EncodeToString(u[:])
}

// Grid 代表一个运行中或历史上的网格实例。
// 全局不变量：任意时刻最多只有一个 Grid 处于 RUNNING 状态。
type Grid struct {
	ID                 string          `json:"id"`
	TradingPair        string          `json:"trading_pair"`
	UpperPrice         decimal.Decimal `json:"upper_price"`
	LowerPrice         decimal.Decimal `json:"lower_price"`
	GridCount          int             `json:"grid_count"`
	GridSpacing        decimal.Decimal `json:"grid_spacing"`
	TotalInvestment    decimal.Decimal `json:"total_investment"`
	InvestmentPerLevel decimal.Decimal `json:"investment_per_level"`
	Status             GridStatus      `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          time.Time       `json:"started_at"`
	StoppedAt          *time.Time      `json:"stopped_at,omitempty"`
}

// GridLevel 代表网格中的一个价格档位，网格启动后不再变化。
// LevelIndex 从 1 开始，1 号档位价格最低。
type GridLevel struct {
	ID         string          `json:"id"`
	GridID     string          `json:"grid_id"`
	LevelIndex int             `json:"level_index"`
	Price      decimal.Decimal `json:"price"`
}

// Order 代表机器人创建的一笔订单。
// PairedOrderID 仅在卖单上设置，永久指向触发它的那笔已成交买单。
type Order struct {
	ID              string          `json:"id"`
	GridID          string          `json:"grid_id"`
	LevelIndex      int             `json:"level_index"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Type            OrderType       `json:"type"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	Status          OrderStatus     `json:"status"`
	PairedOrderID   string          `json:"paired_order_id,omitempty"`
	ExchangeOrderID int64           `json:"exchange_order_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	FilledAt        *time.Time      `json:"filled_at,omitempty"`
}

// IsPending 判断订单是否仍挂在盘口（可被取消）
func (o *Order) IsPending() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusPartiallyFilled
}

// Trade 记录一次成交，创建后不可变。
type Trade struct {
	ID              string          `json:"id"`
	GridID          string          `json:"grid_id"`
	OrderID         string          `json:"order_id"`
	ExchangeTradeID int64           `json:"exchange_trade_id,omitempty"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	QuoteQuantity   decimal.Decimal `json:"quote_quantity"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commission_asset,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	IsMaker         bool            `json:"is_maker"`
}

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	IsTestnet     bool   `json:"is_testnet"` // 是否使用测试网
	DBPath        string `json:"db_path"`    // BadgerDB 数据目录
	LiveAPIURL    string `json:"live_api_url"`
	LiveWSURL     string `json:"live_ws_url"`
	TestnetAPIURL string `json:"testnet_api_url"`
	TestnetWSURL  string `json:"testnet_ws_url"`

	// 网格参数
	Symbol          string  `json:"symbol"`           // 交易对，如 "BTCUSDT"
	UpperPrice      float64 `json:"upper_price"`      // 网格价格上限
	LowerPrice      float64 `json:"lower_price"`      // 网格价格下限
	GridCount       int     `json:"grid_count"`       // 网格数量（档位数 = grid_count + 1）
	TotalInvestment float64 `json:"total_investment"` // 总投资额（计价货币）
	QuoteAsset      string  `json:"quote_asset"`      // 计价货币，默认 USDT

	SweepIntervalSec  int       `json:"sweep_interval_sec,omitempty"`  // 补配对扫描间隔(秒)
	ReportIntervalSec int       `json:"report_interval_sec,omitempty"` // 状态报告间隔(秒)
	LogConfig         LogConfig `json:"log"`                           // 日志配置

	BaseURL   string `json:"base_url"`    // REST API基础地址 (将由程序动态设置)
	WSBaseURL string `json:"ws_base_url"` // WebSocket基础地址 (将由程序动态设置)
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

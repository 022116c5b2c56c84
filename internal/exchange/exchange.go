package exchange

import (
	"binance-grid-trader/internal/models"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Client 定义了网格交易核心所依赖的交易所能力。
// 通过该接口，核心逻辑可以在真实交易所和测试替身之间轻松切换。
type Client interface {
	TestConnection() error
	GetBalances() ([]models.Balance, error)
	GetSymbols(quoteAsset string) ([]*models.SymbolInfo, error)
	GetSymbolInfo(symbol string) (*models.SymbolInfo, error)
	GetPrice(symbol string) (decimal.Decimal, error)
	PlaceOrder(symbol string, side models.Side, orderType models.OrderType, quantity, price decimal.Decimal) (int64, error)
	CancelOrder(symbol string, exchangeOrderID int64) error

	// 用户数据流会话管理
	CreateListenKey() (string, error)
	KeepAliveListenKey(listenKey string) error
	CloseListenKey(listenKey string) error
	DialUserStream(listenKey string) (*websocket.Conn, error)
}

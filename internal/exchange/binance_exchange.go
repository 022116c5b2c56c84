package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"binance-grid-trader/internal/errs"
	"binance-grid-trader/internal/models"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BinanceExchange 实现了 Client 接口，用于与真实的币安现货交易所进行交互。
type BinanceExchange struct {
	apiKey     string
	secretKey  string
	baseURL    string
	wsBaseURL  string
	httpClient *http.Client
	logger     *zap.Logger
	timeOffset int64
}

// NewBinanceExchange 创建一个新的 BinanceExchange 实例，并与服务器同步时间。
func NewBinanceExchange(apiKey, secretKey, baseURL, wsBaseURL string, logger *zap.Logger) (*BinanceExchange, error) {
	if apiKey == "" || secretKey == "" {
		return nil, &errs.UnauthorizedError{Message: "binance API credentials are not configured"}
	}

	e := &BinanceExchange{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		wsBaseURL:  wsBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}

	if err := e.syncTime(); err != nil {
		return nil, fmt.Errorf("与币安服务器同步时间失败: %w", err)
	}

	return e, nil
}

// syncTime 与币安服务器同步时间，计算时间偏移。
func (e *BinanceExchange) syncTime() error {
	serverTime, err := e.getServerTime()
	if err != nil {
		return err
	}
	localTime := time.Now().UnixMilli()
	e.timeOffset = serverTime - localTime
	e.logger.Info("与币安服务器时间同步完成", zap.Int64("timeOffset (ms)", e.timeOffset))
	return nil
}

// doRequest 是一个通用的请求处理函数，用于向币安API发送请求。
func (e *BinanceExchange) doRequest(method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	fullURL := fmt.Sprintf("%s%s", e.baseURL, endpoint)
	queryParams := url.Values{}
	if params != nil {
		for k, v := range params {
			queryParams[k] = v
		}
	}

	var encodedParams string
	if signed {
		// 对于签名请求，附加毫秒时间戳并对已编码的参数串做 HMAC-SHA256 签名
		timestamp := time.Now().UnixMilli() + e.timeOffset
		queryParams.Set("timestamp", strconv.FormatInt(timestamp, 10))

		payloadToSign := queryParams.Encode()
		signature := e.sign(payloadToSign)
		encodedParams = fmt.Sprintf("%s&signature=%s", payloadToSign, signature)
	} else {
		encodedParams = queryParams.Encode()
	}

	var req *http.Request
	var err error

	if method == http.MethodGet {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fmt.Sprintf("%s?%s", fullURL, encodedParams)
		}
		req, err = http.NewRequest(method, finalURL, nil)
	} else { // POST, PUT, DELETE
		req, err = http.NewRequest(method, fullURL, strings.NewReader(encodedParams))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	// API Key 通过请求头传递
	req.Header.Set("X-MBX-APIKEY", e.apiKey)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &errs.ExchangeAPIError{Message: fmt.Sprintf("%s %s", method, endpoint), Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	var binanceError models.Error
	if json.Unmarshal(body, &binanceError) == nil && binanceError.Code != 0 {
		return body, &errs.ExchangeAPIError{Message: fmt.Sprintf("%s %s", method, endpoint), Cause: &binanceError}
	}

	if resp.StatusCode != http.StatusOK {
		return body, &errs.ExchangeAPIError{
			Message: fmt.Sprintf("%s %s 返回状态码 %d: %s", method, endpoint, resp.StatusCode, string(body)),
		}
	}

	return body, nil
}

// sign 对请求参数进行签名。
func (e *BinanceExchange) sign(data string) string {
	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func (e *BinanceExchange) getServerTime() (int64, error) {
	data, err := e.doRequest(http.MethodGet, "/api/v3/time", nil, false)
	if err != nil {
		return 0, err
	}
	var serverTime struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(data, &serverTime); err != nil {
		return 0, err
	}
	return serverTime.ServerTime, nil
}

// --- Client 接口实现 ---

// TestConnection 验证网络连通性和API凭证的有效性。
func (e *BinanceExchange) TestConnection() error {
	if _, err := e.doRequest(http.MethodGet, "/api/v3/ping", nil, false); err != nil {
		return err
	}
	_, err := e.doRequest(http.MethodGet, "/api/v3/account", nil, true)
	return err
}

// GetBalances 获取账户中所有非零资产的余额。
func (e *BinanceExchange) GetBalances() ([]models.Balance, error) {
	data, err := e.doRequest(http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return nil, err
	}

	var account struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("解析账户信息失败: %w", err)
	}

	balances := make([]models.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, err1 := decimal.NewFromString(b.Free)
		locked, err2 := decimal.NewFromString(b.Locked)
		if err1 != nil || err2 != nil {
			continue
		}
		if free.IsZero() && locked.IsZero() {
			continue
		}
		balances = append(balances, models.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// exchangeInfoResponse 是 /api/v3/exchangeInfo 的响应结构
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize,omitempty"`    // PRICE_FILTER
			StepSize    string `json:"stepSize,omitempty"`    // LOT_SIZE
			MinQty      string `json:"minQty,omitempty"`      // LOT_SIZE
			MinNotional string `json:"minNotional,omitempty"` // NOTIONAL
		} `json:"filters"`
	} `json:"symbols"`
}

// GetSymbols 获取全部（或指定计价货币的）交易对的交易规则。
func (e *BinanceExchange) GetSymbols(quoteAsset string) ([]*models.SymbolInfo, error) {
	data, err := e.doRequest(http.MethodGet, "/api/v3/exchangeInfo", nil, false)
	if err != nil {
		return nil, err
	}

	var info exchangeInfoResponse
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("解析 exchangeInfo 失败: %w", err)
	}

	symbols := make([]*models.SymbolInfo, 0, len(info.Symbols))
	for i := range info.Symbols {
		s := info.Symbols[i]
		if quoteAsset != "" && s.QuoteAsset != quoteAsset {
			continue
		}
		symbols = append(symbols, buildSymbolInfo(&info, i))
	}
	return symbols, nil
}

// GetSymbolInfo 获取单个交易对的交易规则。
func (e *BinanceExchange) GetSymbolInfo(symbol string) (*models.SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return nil, err
	}

	var info exchangeInfoResponse
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("解析 exchangeInfo 失败: %w", err)
	}

	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			return buildSymbolInfo(&info, i), nil
		}
	}
	return nil, errs.NotFoundf("未找到交易对 %s 的信息", symbol)
}

func buildSymbolInfo(info *exchangeInfoResponse, i int) *models.SymbolInfo {
	s := info.Symbols[i]
	out := &models.SymbolInfo{
		Symbol:     s.Symbol,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
		Status:     s.Status,
	}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			out.TickSize, _ = decimal.NewFromString(f.TickSize)
		case "LOT_SIZE":
			out.StepSize, _ = decimal.NewFromString(f.StepSize)
			out.MinQty, _ = decimal.NewFromString(f.MinQty)
		case "NOTIONAL", "MIN_NOTIONAL":
			out.MinNotional, _ = decimal.NewFromString(f.MinNotional)
		}
	}
	out.PricePrecision = decimalPlaces(out.TickSize)
	out.QtyPrecision = decimalPlaces(out.StepSize)
	return out
}

// decimalPlaces 计算步长的有效小数位数，如 0.00100000 -> 3。
func decimalPlaces(step decimal.Decimal) int {
	if step.IsZero() {
		return 8
	}
	for d := 0; d <= 8; d++ {
		if step.Truncate(int32(d)).Equal(step) {
			return d
		}
	}
	return 8
}

// GetPrice 获取指定交易对的当前价格。
func (e *BinanceExchange) GetPrice(symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return decimal.Zero, err
	}

	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &ticker); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(ticker.Price)
}

// PlaceOrder 下单并返回交易所订单ID。
func (e *BinanceExchange) PlaceOrder(symbol string, side models.Side, orderType models.OrderType, quantity, price decimal.Decimal) (int64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(orderType))
	params.Set("quantity", quantity.String())

	if orderType == models.OrderTypeLimit {
		params.Set("timeInForce", "GTC") // Good Till Cancel
		params.Set("price", price.String())
	}

	data, err := e.doRequest(http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		e.logger.Error("下单请求失败，交易所返回错误",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.Error(err),
			zap.String("raw_response", string(data)))
		return 0, err
	}

	var order struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(data, &order); err != nil {
		return 0, err
	}
	return order.OrderID, nil
}

// CancelOrder 取消订单。
func (e *BinanceExchange) CancelOrder(symbol string, exchangeOrderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(exchangeOrderID, 10))
	_, err := e.doRequest(http.MethodDelete, "/api/v3/order", params, true)
	return err
}

// CreateListenKey 创建一个新的 listenKey 用于用户数据流连接。
func (e *BinanceExchange) CreateListenKey() (string, error) {
	data, err := e.doRequest(http.MethodPost, "/api/v3/userDataStream", nil, false)
	if err != nil {
		return "", fmt.Errorf("创建 listenKey 失败: %w", err)
	}

	var response struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return "", fmt.Errorf("解析 listenKey 响应失败: %w", err)
	}
	return response.ListenKey, nil
}

// KeepAliveListenKey 延长 listenKey 的有效期。
func (e *BinanceExchange) KeepAliveListenKey(listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := e.doRequest(http.MethodPut, "/api/v3/userDataStream", params, false)
	if err != nil {
		return fmt.Errorf("保持 listenKey 存活失败: %w", err)
	}
	return nil
}

// CloseListenKey 关闭 listenKey，结束用户数据流会话。
func (e *BinanceExchange) CloseListenKey(listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := e.doRequest(http.MethodDelete, "/api/v3/userDataStream", params, false)
	return err
}

// DialUserStream 建立到币安用户数据流的 WebSocket 连接。
// 正确的 WebSocket URL 格式是 wss://<wsBaseURL>/ws/<listenKey>
func (e *BinanceExchange) DialUserStream(listenKey string) (*websocket.Conn, error) {
	wsURL := fmt.Sprintf("%s/ws/%s", e.wsBaseURL, listenKey)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("无法连接到 WebSocket: %w", err)
	}
	return conn, nil
}

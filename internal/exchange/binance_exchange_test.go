package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"binance-grid-trader/internal/errs"
	"binance-grid-trader/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testAPIKey    = "test-api-key"
	testSecretKey = "test-secret-key"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestExchange starts an httptest server that always serves the time
// endpoint (needed by the constructor) and delegates everything else to
// the given handler.
func newTestExchange(t *testing.T, handler http.HandlerFunc) (*BinanceExchange, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/time" {
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli())
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	e, err := NewBinanceExchange(testAPIKey, testSecretKey, server.URL, "ws://unused", zap.NewNop())
	require.NoError(t, err)
	return e, server
}

func TestNewBinanceExchangeRequiresCredentials(t *testing.T) {
	_, err := NewBinanceExchange("", "", "http://unused", "ws://unused", zap.NewNop())
	var unauthorized *errs.UnauthorizedError
	assert.ErrorAs(t, err, &unauthorized)
}

func TestPlaceOrderSignsRequest(t *testing.T) {
	var gotParams url.Values
	var gotSignatureOK bool
	var gotAPIKey string

	e, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v3/order", r.URL.Path)
		gotAPIKey = r.Header.Get("X-MBX-APIKEY")

		require.NoError(t, r.ParseForm())
		gotParams = r.PostForm

		// Recompute the signature over everything except the signature
		// parameter itself.
		signature := gotParams.Get("signature")
		payload := url.Values{}
		for k, v := range gotParams {
			if k != "signature" {
				payload[k] = v
			}
		}
		mac := hmac.New(sha256.New, []byte(testSecretKey))
		mac.Write([]byte(payload.Encode()))
		gotSignatureOK = signature == fmt.Sprintf("%x", mac.Sum(nil))

		fmt.Fprint(w, `{"orderId":4242}`)
	})

	orderID, err := e.PlaceOrder("ETHUSDT", models.Buy, models.OrderTypeLimit, d("0.05"), d("2000"))
	require.NoError(t, err)
	assert.Equal(t, int64(4242), orderID)

	assert.Equal(t, testAPIKey, gotAPIKey)
	assert.True(t, gotSignatureOK, "signature must cover the encoded payload")
	assert.Equal(t, "ETHUSDT", gotParams.Get("symbol"))
	assert.Equal(t, "BUY", gotParams.Get("side"))
	assert.Equal(t, "LIMIT", gotParams.Get("type"))
	assert.Equal(t, "GTC", gotParams.Get("timeInForce"))
	assert.Equal(t, "2000", gotParams.Get("price"))
	assert.Equal(t, "0.05", gotParams.Get("quantity"))
	assert.NotEmpty(t, gotParams.Get("timestamp"))
}

func TestPlaceOrderAPIError(t *testing.T) {
	e, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`)
	})

	_, err := e.PlaceOrder("ETHUSDT", models.Buy, models.OrderTypeLimit, d("100"), d("2000"))
	var apiErr *errs.ExchangeAPIError
	require.ErrorAs(t, err, &apiErr)

	var binanceErr *models.Error
	require.True(t, errors.As(err, &binanceErr))
	assert.Equal(t, -2010, binanceErr.Code)
}

func TestGetPrice(t *testing.T) {
	e, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		require.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, `{"symbol":"ETHUSDT","price":"2512.34000000"}`)
	})

	price, err := e.GetPrice("ETHUSDT")
	require.NoError(t, err)
	assert.True(t, price.Equal(d("2512.34")))
}

const exchangeInfoBody = `{
	"symbols": [{
		"symbol": "ETHUSDT",
		"status": "TRADING",
		"baseAsset": "ETH",
		"quoteAsset": "USDT",
		"filters": [
			{"filterType": "PRICE_FILTER", "tickSize": "0.01000000"},
			{"filterType": "LOT_SIZE", "stepSize": "0.00010000", "minQty": "0.00010000"},
			{"filterType": "NOTIONAL", "minNotional": "5.00000000"}
		]
	}]
}`

func TestGetSymbolInfo(t *testing.T) {
	e, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		fmt.Fprint(w, exchangeInfoBody)
	})

	info, err := e.GetSymbolInfo("ETHUSDT")
	require.NoError(t, err)

	assert.Equal(t, "ETH", info.BaseAsset)
	assert.Equal(t, "USDT", info.QuoteAsset)
	assert.True(t, info.TickSize.Equal(d("0.01")))
	assert.True(t, info.StepSize.Equal(d("0.0001")))
	assert.True(t, info.MinQty.Equal(d("0.0001")))
	assert.True(t, info.MinNotional.Equal(d("5")))
	// Precision is derived from the step sizes, not from string length.
	assert.Equal(t, 2, info.PricePrecision)
	assert.Equal(t, 4, info.QtyPrecision)
}

func TestGetSymbolInfoUnknownSymbol(t *testing.T) {
	e, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, exchangeInfoBody)
	})

	_, err := e.GetSymbolInfo("DOGEUSDT")
	var notFound *errs.ResourceNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestGetBalancesSkipsZeroBalances(t *testing.T) {
	e, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/account", r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("signature"), "account endpoint must be signed")
		fmt.Fprint(w, `{"balances":[
			{"asset":"USDT","free":"1000.50","locked":"10.00"},
			{"asset":"ETH","free":"0.00000000","locked":"0.00000000"},
			{"asset":"BNB","free":"0.10000000","locked":"0.00000000"}
		]}`)
	})

	balances, err := e.GetBalances()
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "USDT", balances[0].Asset)
	assert.True(t, balances[0].Free.Equal(d("1000.50")))
	assert.Equal(t, "BNB", balances[1].Asset)
}

func TestListenKeyLifecycle(t *testing.T) {
	var methods []string
	e, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/userDataStream", r.URL.Path)
		require.Equal(t, testAPIKey, r.Header.Get("X-MBX-APIKEY"))
		methods = append(methods, r.Method)
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"listenKey":"abc123"}`)
			return
		}
		fmt.Fprint(w, `{}`)
	})

	key, err := e.CreateListenKey()
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)

	require.NoError(t, e.KeepAliveListenKey(key))
	require.NoError(t, e.CloseListenKey(key))

	assert.Equal(t, []string{http.MethodPost, http.MethodPut, http.MethodDelete}, methods)
}

func TestCancelOrder(t *testing.T) {
	e, _ := newTestExchange(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/v3/order", r.URL.Path)
		// DELETE bodies are not parsed by ParseForm.
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		params, err := url.ParseQuery(string(body))
		require.NoError(t, err)
		assert.Equal(t, "ETHUSDT", params.Get("symbol"))
		assert.Equal(t, "4242", params.Get("orderId"))
		fmt.Fprint(w, `{"status":"CANCELED"}`)
	})

	require.NoError(t, e.CancelOrder("ETHUSDT", 4242))
}

func TestDecimalPlaces(t *testing.T) {
	tests := []struct {
		step string
		want int
	}{
		{"1", 0},
		{"0.1", 1},
		{"0.01000000", 2},
		{"0.00010000", 4},
		{"0.00000001", 8},
		{"0", 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, decimalPlaces(d(tt.step)), "step %s", tt.step)
	}
}

package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradeops/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	bybitName         = "bybit"
	bybitBaseURL      = "https://api.bybit.com"
	bybitRecvWindow   = "5000"
	bybitDefaultCateg = "linear"

	// retCode Bybit: ордер не найден / уже завершен
	bybitCodeOrderNotExists = 110001
)

// BybitConfig - настройки адаптера Bybit
type BybitConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string  // пусто = боевой api.bybit.com
	Category  string  // linear, spot, inverse (default: linear)
	RateLimit float64 // запросов в секунду
	Burst     int
}

// Bybit реализует Adapter для биржи Bybit (REST API v5)
type Bybit struct {
	apiKey    string
	secretKey string
	baseURL   string
	category  string

	httpClient *HTTPClient
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewBybit создает адаптер Bybit
func NewBybit(cfg BybitConfig, httpClient *HTTPClient) *Bybit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = bybitBaseURL
	}
	if cfg.Category == "" {
		cfg.Category = bybitDefaultCateg
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPClientConfig())
	}

	return &Bybit{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		category:   cfg.Category,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		now:        time.Now,
	}
}

// Name возвращает имя биржи
func (b *Bybit) Name() string {
	return bybitName
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp string, params string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + params
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// bybitResponse - общий конверт ответа
type bybitResponse struct {
	RetCode int                 `json:"retCode"`
	RetMsg  string              `json:"retMsg"`
	Result  jsoniter.RawMessage `json:"result"`
}

// doRequest выполняет подписанный запрос и возвращает поле result
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string) (jsoniter.RawMessage, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		RequestDuration.WithLabelValues(bybitName, endpoint).Observe(time.Since(start).Seconds())
	}()

	var payload string
	reqURL := b.baseURL + endpoint

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		payload = query.Encode()
		if payload != "" {
			reqURL += "?" + payload
		}
	} else if len(params) > 0 {
		body, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		payload = string(body)
	}

	var body io.Reader
	if method != http.MethodGet {
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(b.now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, payload))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		RequestErrors.WithLabelValues(bybitName, endpoint).Inc()
		return nil, &ExchangeError{Exchange: bybitName, Message: "request failed", Original: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		RequestErrors.WithLabelValues(bybitName, endpoint).Inc()
		return nil, &ExchangeError{Exchange: bybitName, Message: "read response", Original: err}
	}

	if resp.StatusCode != http.StatusOK {
		RequestErrors.WithLabelValues(bybitName, endpoint).Inc()
		return nil, &ExchangeError{
			Exchange: bybitName,
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  fmt.Sprintf("unexpected HTTP status: %s", resp.Status),
		}
	}

	var envelope bybitResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		RequestErrors.WithLabelValues(bybitName, endpoint).Inc()
		return nil, &ExchangeError{Exchange: bybitName, Message: "decode response", Original: err}
	}

	if envelope.RetCode != 0 {
		RequestErrors.WithLabelValues(bybitName, endpoint).Inc()
		exErr := &ExchangeError{
			Exchange: bybitName,
			Code:     strconv.Itoa(envelope.RetCode),
			Message:  envelope.RetMsg,
		}
		if envelope.RetCode == bybitCodeOrderNotExists {
			exErr.Original = ErrRemoteOrderNotFound
		}
		return nil, exErr
	}

	return envelope.Result, nil
}

func (b *Bybit) orderParams(symbol, exchangeOrderID, clientOrderID string) map[string]string {
	params := map[string]string{
		"category": b.category,
		"symbol":   symbol,
	}
	// orderId приоритетнее orderLinkId
	if exchangeOrderID != "" {
		params["orderId"] = exchangeOrderID
	} else if clientOrderID != "" {
		params["orderLinkId"] = clientOrderID
	}
	return params
}

// CancelOrder отменяет ордер через POST /v5/order/cancel
func (b *Bybit) CancelOrder(ctx context.Context, req *CancelRequest) (*CancelResult, error) {
	if req.ExchangeOrderID == "" && req.ClientOrderID == "" {
		return nil, &ExchangeError{Exchange: bybitName, Message: "order id is required"}
	}

	result, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel",
		b.orderParams(req.Symbol, req.ExchangeOrderID, req.ClientOrderID))
	if err != nil {
		return nil, err
	}

	var resp struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, &ExchangeError{Exchange: bybitName, Message: "decode cancel result", Original: err}
	}

	return &CancelResult{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.OrderLinkID,
		CancelledAt:     b.now(),
	}, nil
}

// GetOrder запрашивает ордер через GET /v5/order/realtime
func (b *Bybit) GetOrder(ctx context.Context, query *OrderQuery) (*RemoteOrder, error) {
	if query.ExchangeOrderID == "" && query.ClientOrderID == "" {
		return nil, &ExchangeError{Exchange: bybitName, Message: "order id is required"}
	}

	result, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime",
		b.orderParams(query.Symbol, query.ExchangeOrderID, query.ClientOrderID))
	if err != nil {
		return nil, err
	}

	var resp struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
			OrderStatus string `json:"orderStatus"`
			Qty         string `json:"qty"`
			CumExecQty  string `json:"cumExecQty"`
			LeavesQty   string `json:"leavesQty"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, &ExchangeError{Exchange: bybitName, Message: "decode order result", Original: err}
	}

	if len(resp.List) == 0 {
		return nil, &ExchangeError{Exchange: bybitName, Message: "order not found", Original: ErrRemoteOrderNotFound}
	}

	o := resp.List[0]
	status, ok := mapBybitStatus(o.OrderStatus)
	if !ok {
		return nil, &ExchangeError{Exchange: bybitName, Message: "unknown order status: " + o.OrderStatus}
	}

	remote := &RemoteOrder{
		ExchangeOrderID: o.OrderID,
		ClientOrderID:   o.OrderLinkID,
		Status:          status,
	}
	// битое количество не должно превратиться в 0 и попасть в хранилище
	for _, f := range []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"qty", o.Qty, &remote.Quantity},
		{"cumExecQty", o.CumExecQty, &remote.FilledQuantity},
		{"leavesQty", o.LeavesQty, &remote.RemainingQuantity},
	} {
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return nil, &ExchangeError{Exchange: bybitName, Message: "invalid " + f.name + ": " + strconv.Quote(f.value), Original: err}
		}
		*f.dst = d
	}
	// для отмененных ордеров Bybit возвращает leavesQty = 0
	if status.IsTerminal() {
		remote.RemainingQuantity = decimal.Zero
	}

	if ms, err := strconv.ParseInt(o.UpdatedTime, 10, 64); err == nil {
		remote.UpdatedAt = time.UnixMilli(ms).UTC()
	} else {
		remote.UpdatedAt = b.now()
	}

	return remote, nil
}

// mapBybitStatus переводит orderStatus Bybit в статус системы
func mapBybitStatus(s string) (models.OrderStatus, bool) {
	switch s {
	case "Created", "New", "Untriggered", "Triggered":
		return models.OrderStatusOpen, true
	case "PartiallyFilled":
		return models.OrderStatusPartiallyFilled, true
	case "Filled":
		return models.OrderStatusFilled, true
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return models.OrderStatusCancelled, true
	case "Rejected":
		return models.OrderStatusRejected, true
	}
	return "", false
}

// Close закрывает idle соединения
func (b *Bybit) Close() error {
	b.httpClient.Close()
	return nil
}

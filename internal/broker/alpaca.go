package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"riskguard/internal/models"
	"riskguard/pkg/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	AlpacaPaperURL = "https://paper-api.alpaca.markets"
	AlpacaLiveURL  = "https://api.alpaca.markets"
	AlpacaDataURL  = "https://data.alpaca.markets"

	// Alpaca: 200 запросов в минуту на ключ
	alpacaRate  = 3.0
	alpacaBurst = 6.0

	maxErrorBody = 4096
)

// AlpacaConfig параметры подключения
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string // торговый API
	DataURL   string // рыночные данные
	RateLimit float64
}

// Alpaca REST-клиент Alpaca Trading API v2
type Alpaca struct {
	cfg     AlpacaConfig
	http    *HTTPClient
	limiter *ratelimit.RateLimiter
}

func NewAlpaca(cfg AlpacaConfig, client *HTTPClient) *Alpaca {
	if cfg.BaseURL == "" {
		cfg.BaseURL = AlpacaPaperURL
	}
	if cfg.DataURL == "" {
		cfg.DataURL = AlpacaDataURL
	}
	if client == nil {
		client = GetGlobalHTTPClient()
	}
	rate := cfg.RateLimit
	if rate <= 0 {
		rate = alpacaRate
	}

	return &Alpaca{
		cfg:     cfg,
		http:    client,
		limiter: ratelimit.NewRateLimiter(rate, alpacaBurst),
	}
}

func (a *Alpaca) Name() string { return "alpaca" }

func (a *Alpaca) Close() error {
	a.http.Close()
	return nil
}

// ============ Транспорт ============

// doRequest выполняет запрос и декодирует JSON-ответ в out (если out != nil)
func (a *Alpaca) doRequest(ctx context.Context, op, method, base, path string, query url.Values, body interface{}, out interface{}) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return &BrokerError{Broker: a.Name(), Op: op, Message: "rate limiter: " + err.Error(), Original: err}
	}

	reqURL := base + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("alpaca %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("alpaca %s: build request: %w", op, err)
	}
	req.Header.Set("APCA-API-KEY-ID", a.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.cfg.APISecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return &BrokerError{
			Broker:    a.Name(),
			Op:        op,
			Message:   err.Error(),
			Transient: isNetworkError(err),
			Original:  err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return a.statusError(op, resp.StatusCode, raw)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &BrokerError{Broker: a.Name(), Op: op, Status: resp.StatusCode, Message: "decode response: " + err.Error(), Original: err}
	}
	return nil
}

func (a *Alpaca) statusError(op string, status int, raw []byte) error {
	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}

	be := &BrokerError{
		Broker:    a.Name(),
		Op:        op,
		Status:    status,
		Message:   msg,
		Transient: IsTransientStatus(status),
	}

	switch {
	case status == http.StatusNotFound && strings.Contains(op, "position"):
		be.Original = ErrPositionNotFound
	case status == http.StatusNotFound && strings.Contains(op, "order"):
		be.Original = ErrOrderNotFound
	case status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "client_order_id"):
		be.Original = ErrDuplicateClientOrderID
	}
	return be
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// ============ Рыночные данные ============

func (a *Alpaca) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Symbol string `json:"symbol"`
		Trade  struct {
			Price float64   `json:"p"`
			Time  time.Time `json:"t"`
		} `json:"trade"`
	}

	path := "/v2/stocks/" + url.PathEscape(symbol) + "/trades/latest"
	if err := a.doRequest(ctx, "latest trade", http.MethodGet, a.cfg.DataURL, path, nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Trade.Price, nil
}

func (a *Alpaca) GetHistoricalData(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error) {
	if timeframe == "" {
		timeframe = "1Day"
	}
	if limit <= 0 {
		limit = 100
	}

	query := url.Values{}
	query.Set("timeframe", timeframe)
	query.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Bars []models.Bar `json:"bars"`
	}
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/bars"
	if err := a.doRequest(ctx, "bars", http.MethodGet, a.cfg.DataURL, path, query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bars, nil
}

// ============ Счёт и позиции ============

type alpacaAccount struct {
	Cash           string `json:"cash"`
	BuyingPower    string `json:"buying_power"`
	PortfolioValue string `json:"portfolio_value"`
	Equity         string `json:"equity"`
	LastEquity     string `json:"last_equity"`
}

type alpacaPosition struct {
	Symbol               string `json:"symbol"`
	Qty                  string `json:"qty"`
	Side                 string `json:"side"`
	AvgEntryPrice        string `json:"avg_entry_price"`
	CurrentPrice         string `json:"current_price"`
	UnrealizedIntradayPL string `json:"unrealized_intraday_pl"`
}

func (p alpacaPosition) toModel() (models.Position, error) {
	qty, err := parseRequired("qty", p.Qty)
	if err != nil {
		return models.Position{}, err
	}
	entry, err := parseRequired("avg_entry_price", p.AvgEntryPrice)
	if err != nil {
		return models.Position{}, err
	}
	current, err := parseOptional("current_price", p.CurrentPrice)
	if err != nil {
		return models.Position{}, err
	}
	if p.Side == models.PositionSideShort && qty > 0 {
		qty = -qty
	}
	return models.Position{
		Symbol:       p.Symbol,
		Quantity:     qty,
		EntryPrice:   entry,
		CurrentPrice: current,
	}, nil
}

// GetAccount дневной PnL = equity - last_equity; нереализованная часть
// берётся из intraday PnL открытых позиций. Без equity или last_equity
// дневной PnL не определён, поэтому это ошибка, а не ноль.
func (a *Alpaca) GetAccount(ctx context.Context) (*models.AccountInfo, error) {
	var acct alpacaAccount
	if err := a.doRequest(ctx, "account", http.MethodGet, a.cfg.BaseURL, "/v2/account", nil, nil, &acct); err != nil {
		return nil, err
	}

	var positions []alpacaPosition
	if err := a.doRequest(ctx, "positions", http.MethodGet, a.cfg.BaseURL, "/v2/positions", nil, nil, &positions); err != nil {
		return nil, err
	}

	info, err := acct.toModel(positions)
	if err != nil {
		return nil, a.malformed("account", err)
	}
	return info, nil
}

func (acct alpacaAccount) toModel(positions []alpacaPosition) (*models.AccountInfo, error) {
	var (
		values = make(map[string]float64, 5)
		err    error
	)
	for _, f := range []struct{ name, raw string }{
		{"equity", acct.Equity},
		{"last_equity", acct.LastEquity},
		{"cash", acct.Cash},
		{"buying_power", acct.BuyingPower},
		{"portfolio_value", acct.PortfolioValue},
	} {
		if values[f.name], err = parseRequired(f.name, f.raw); err != nil {
			return nil, err
		}
	}

	unrealized := 0.0
	for _, p := range positions {
		v, err := parseOptional("unrealized_intraday_pl", p.UnrealizedIntradayPL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Symbol, err)
		}
		unrealized += v
	}
	daily := values["equity"] - values["last_equity"]

	return &models.AccountInfo{
		Cash:               values["cash"],
		BuyingPower:        values["buying_power"],
		PortfolioValue:     values["portfolio_value"],
		DailyRealizedPnL:   daily - unrealized,
		DailyUnrealizedPnL: unrealized,
		OpenPositions:      len(positions),
		UpdatedAt:          time.Now(),
	}, nil
}

func (a *Alpaca) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	var p alpacaPosition
	if err := a.doRequest(ctx, "get position", http.MethodGet, a.cfg.BaseURL, "/v2/positions/"+url.PathEscape(symbol), nil, nil, &p); err != nil {
		return nil, err
	}
	pos, err := p.toModel()
	if err != nil {
		return nil, a.malformed("get position", err)
	}
	return &pos, nil
}

func (a *Alpaca) GetPositions(ctx context.Context) ([]models.Position, error) {
	var raw []alpacaPosition
	if err := a.doRequest(ctx, "positions", http.MethodGet, a.cfg.BaseURL, "/v2/positions", nil, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		pos, err := p.toModel()
		if err != nil {
			return nil, a.malformed("positions", fmt.Errorf("%s: %w", p.Symbol, err))
		}
		out = append(out, pos)
	}
	return out, nil
}

// ============ Ордера ============

type alpacaOrder struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"`
	Type           string     `json:"type"`
	Qty            string     `json:"qty"`
	FilledQty      string     `json:"filled_qty"`
	FilledAvgPrice string     `json:"filled_avg_price"`
	Status         string     `json:"status"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
}

// toModel qty и цена исполнения до первого fill приходят пустыми или null
func (o alpacaOrder) toModel() (*models.OrderResult, error) {
	qty, err := parseOptional("qty", o.Qty)
	if err != nil {
		return nil, err
	}
	filled, err := parseOptional("filled_qty", o.FilledQty)
	if err != nil {
		return nil, err
	}
	avg, err := parseOptional("filled_avg_price", o.FilledAvgPrice)
	if err != nil {
		return nil, err
	}
	return &models.OrderResult{
		OrderID:        o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		Type:           o.Type,
		Quantity:       qty,
		FilledQuantity: filled,
		AvgFillPrice:   avg,
		Status:         normalizeStatus(o.Status),
		SubmittedAt:    o.SubmittedAt,
		FilledAt:       o.FilledAt,
	}, nil
}

func (a *Alpaca) orderResult(op string, o alpacaOrder) (*models.OrderResult, error) {
	res, err := o.toModel()
	if err != nil {
		return nil, a.malformed(op, err)
	}
	return res, nil
}

// normalizeStatus приводит статусы Alpaca к models.OrderStatus*
func normalizeStatus(status string) string {
	switch status {
	case "new", "accepted", "pending_new", "accepted_for_bidding", "calculated", "pending_replace", "replaced":
		return models.OrderStatusNew
	case "partially_filled":
		return models.OrderStatusPartiallyFilled
	case "filled":
		return models.OrderStatusFilled
	case "canceled", "pending_cancel", "done_for_day", "stopped", "suspended":
		return models.OrderStatusCancelled
	case "rejected":
		return models.OrderStatusRejected
	case "expired":
		return models.OrderStatusExpired
	default:
		return models.OrderStatusPending
	}
}

func (a *Alpaca) SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	body := map[string]string{
		"symbol":          req.Symbol,
		"qty":             strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		"side":            req.Side,
		"type":            req.Type,
		"time_in_force":   "day",
		"client_order_id": req.ClientOrderID,
	}
	if req.Type == models.OrderTypeLimit || req.Type == models.OrderTypeStopLimit {
		body["limit_price"] = strconv.FormatFloat(req.LimitPrice, 'f', -1, 64)
	}

	var o alpacaOrder
	if err := a.doRequest(ctx, "submit order", http.MethodPost, a.cfg.BaseURL, "/v2/orders", nil, body, &o); err != nil {
		return nil, err
	}
	return a.orderResult("submit order", o)
}

func (a *Alpaca) GetOrder(ctx context.Context, orderID string) (*models.OrderResult, error) {
	var o alpacaOrder
	if err := a.doRequest(ctx, "get order", http.MethodGet, a.cfg.BaseURL, "/v2/orders/"+url.PathEscape(orderID), nil, nil, &o); err != nil {
		return nil, err
	}
	return a.orderResult("get order", o)
}

func (a *Alpaca) GetOrderByClientID(ctx context.Context, clientOrderID string) (*models.OrderResult, error) {
	query := url.Values{}
	query.Set("client_order_id", clientOrderID)

	var o alpacaOrder
	if err := a.doRequest(ctx, "get order by client id", http.MethodGet, a.cfg.BaseURL, "/v2/orders:by_client_order_id", query, nil, &o); err != nil {
		return nil, err
	}
	return a.orderResult("get order by client id", o)
}

func (a *Alpaca) GetOpenOrders(ctx context.Context, symbol string) ([]models.OrderResult, error) {
	query := url.Values{}
	query.Set("status", "open")
	if symbol != "" {
		query.Set("symbols", symbol)
	}

	var raw []alpacaOrder
	if err := a.doRequest(ctx, "open orders", http.MethodGet, a.cfg.BaseURL, "/v2/orders", query, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]models.OrderResult, 0, len(raw))
	for _, o := range raw {
		res, err := a.orderResult("open orders", o)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, nil
}

func (a *Alpaca) CancelOrder(ctx context.Context, orderID string) error {
	return a.doRequest(ctx, "cancel order", http.MethodDelete, a.cfg.BaseURL, "/v2/orders/"+url.PathEscape(orderID), nil, nil, nil)
}

// parseRequired числовое поле, без которого ответ неполон
func parseRequired(field, s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing field %s", field)
	}
	return parseOptional(field, s)
}

// parseOptional пустое значение даёт 0, мусор остаётся ошибкой
func parseOptional(field, s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("malformed field %s: %q", field, s)
	}
	return v, nil
}

// malformed ответ прочитан, но не годится: повтор его не исправит
func (a *Alpaca) malformed(op string, err error) *BrokerError {
	return &BrokerError{
		Broker:   a.Name(),
		Op:       op,
		Message:  err.Error(),
		Original: err,
	}
}

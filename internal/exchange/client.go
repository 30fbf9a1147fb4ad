// Package exchange is the REST boundary to the exchange: order placement
// and cancellation, account overview, and contract metadata. Every call is
// funneled through the shared rate-limit budget at a priority matching its
// role (protective-stop mutations first), and outcomes are reported into the
// shared metrics registry.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"positionguard/internal/ingest"
	"positionguard/internal/metrics"
	"positionguard/internal/money"
	"positionguard/internal/order"
	"positionguard/internal/ratelimit"
	"positionguard/internal/xerr"
)

const (
	pathPlaceOrder   = "/api/v1/futures/trade/place_order"
	pathCancelOrder  = "/api/v1/futures/trade/cancel_order"
	pathAccountView  = "/api/v1/futures/account/overview"
	pathContractSpec = "/api/v1/futures/market/contract_detail"
	pathChangeLev    = "/api/v1/futures/account/change_leverage"
	pathChangeMargin = "/api/v1/futures/account/change_margin_mode"
	pathKline        = "/api/v1/futures/market/kline"
	pathPendingPos   = "/api/v1/futures/position/get_pending_positions"
)

// envelope is the common response wrapper every endpoint returns.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client is the live REST client. It satisfies both stopreplace.ExchangeClient
// and the broader Exchange interface the position lifecycle manager depends
// on.
type Client struct {
	key, secret, base string
	rest              *resty.Client
	budget            *ratelimit.Budget
	metrics           *metrics.Wrapper
}

// New constructs a Client with a connection-pooled HTTP transport.
func New(key, secret, base string, timeout time.Duration, budget *ratelimit.Budget, m *metrics.Wrapper) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	r := resty.New()
	r.SetTransport(transport)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r.SetTimeout(timeout)
	// Transport-level retries are reserved for idempotent reads; order
	// mutations retry above this layer where idempotency keys are managed.
	r.SetRetryCount(2)
	r.SetRetryWaitTime(500 * time.Millisecond)
	r.AddRetryCondition(func(resp *resty.Response, err error) bool {
		if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
			return false
		}
		return err != nil || resp.StatusCode() >= http.StatusInternalServerError
	})

	return &Client{key: key, secret: secret, base: base, rest: r, budget: budget, metrics: m}
}

func (c *Client) signedRequest() (*resty.Request, string, string) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := ts
	s := sign(c.secret, nonce, c.key, ts)
	req := c.rest.R().
		SetHeader("api-key", c.key).
		SetHeader("nonce", nonce).
		SetHeader("timestamp", ts).
		SetHeader("sign", s)
	return req, ts, nonce
}

// do executes one signed request through the shared rate-limit budget at the
// given priority, recording success/rate-limited outcomes back onto it.
func (c *Client) do(ctx context.Context, priority ratelimit.Priority, fn func(*resty.Request) (*resty.Response, error)) (*envelope, error) {
	if err := c.budget.Acquire(ctx, priority); err != nil {
		if c.metrics != nil {
			c.metrics.RateLimitQuotaExceeded().Inc()
		}
		return nil, xerr.Wrap(xerr.QuotaExhausted, "rate-limit budget exhausted", err)
	}

	req, _, _ := c.signedRequest()
	env := &envelope{}
	req.SetResult(env)
	start := time.Now()
	resp, err := fn(req)
	if c.metrics != nil {
		c.metrics.OrderExecutionDurationObserve(time.Since(start).Seconds())
	}
	if err != nil {
		if c.metrics != nil && errors.Is(err, context.DeadlineExceeded) {
			c.metrics.OrderTimeoutsInc()
		}
		return nil, xerr.Wrap(xerr.TransientNetwork, "exchange request failed", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		c.budget.RecordRateLimited()
		if c.metrics != nil {
			c.metrics.RateLimitEvents().Inc()
		}
		return nil, xerr.New(xerr.RateLimited, "exchange returned 429")
	}
	if env.Code != 0 {
		c.budget.RecordSuccess()
		return nil, xerr.New(xerr.TransientNetwork, fmt.Sprintf("exchange error %d: %s", env.Code, env.Msg))
	}
	c.budget.RecordSuccess()
	return env, nil
}

// orderReq is the wire shape for both entry and stop orders.
type orderReq struct {
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	TradeSide        string `json:"tradeSide"`
	Qty              string `json:"qty"`
	Price            string `json:"price,omitempty"`
	OrderType        string `json:"orderType"`
	ReduceOnly       bool   `json:"reduceOnly"`
	TriggerPrice     string `json:"triggerPrice,omitempty"`
	TriggerPriceType string `json:"triggerPriceType,omitempty"`
	ClientOrderID    string `json:"clientOrderId"`
}

type orderData struct {
	OrderID string `json:"orderId"`
}

func toOrderReq(p order.Params, idemKey string) orderReq {
	req := orderReq{
		Symbol:        p.Symbol,
		Side:          sideString(p.Side),
		TradeSide:     "OPEN",
		Qty:           p.Quantity.String(),
		ReduceOnly:    p.ReduceOnly,
		ClientOrderID: idemKey,
		OrderType:     "MARKET",
	}
	if p.ReduceOnly {
		req.TradeSide = "CLOSE"
	}
	if !p.Price.IsZero() {
		req.Price = p.Price.String()
		req.OrderType = "LIMIT"
	}
	if !p.TriggerPrice.IsZero() {
		req.OrderType = "STOP"
		req.TriggerPrice = p.TriggerPrice.String()
		req.TriggerPriceType = string(p.TriggerPriceType)
	}
	return req
}

func sideString(s money.Side) string {
	if s == money.Long {
		return "BUY"
	}
	return "SELL"
}

// PlaceStopOrder submits a reduce-only stop order, satisfying
// stopreplace.ExchangeClient. idemKey is sent as the client order ID so a
// retried submission the exchange already received is deduplicated
// server-side. Protective-stop mutations hold the highest budget priority:
// a position must never wait behind state-sync traffic for its stop.
func (c *Client) PlaceStopOrder(ctx context.Context, p order.Params, idemKey string) (string, error) {
	req := toOrderReq(p, idemKey)
	env, err := c.do(ctx, ratelimit.Critical, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post(c.base + pathPlaceOrder)
	})
	if err != nil {
		return "", err
	}
	if c.metrics != nil {
		c.metrics.OrdersTotal().Inc()
	}
	var data orderData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.OrderID == "" {
		return idemKey, nil
	}
	return data.OrderID, nil
}

// CancelOrder satisfies stopreplace.ExchangeClient. Cancels share the stop
// mutation priority class: a superseded stop left live is a double-trigger
// hazard.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.do(ctx, ratelimit.Critical, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]string{"orderId": orderID}).Post(c.base + pathCancelOrder)
	})
	return err
}

// MarketCloseReduceOnly satisfies stopreplace.ExchangeClient: an emergency
// market exit issued when the coordinator gives up retrying a stop.
func (c *Client) MarketCloseReduceOnly(ctx context.Context, symbol string, side money.Side, qty decimal.Decimal) error {
	closingSide := money.Short
	if side == money.Short {
		closingSide = money.Long
	}
	req := orderReq{
		Symbol:     symbol,
		Side:       sideString(closingSide),
		TradeSide:  "CLOSE",
		Qty:        qty.String(),
		OrderType:  "MARKET",
		ReduceOnly: true,
	}
	_, err := c.do(ctx, ratelimit.Critical, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post(c.base + pathPlaceOrder)
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("emergency market close failed")
	}
	return err
}

// PlaceEntryOrder submits a new position-opening order and returns the
// exchange order ID.
func (c *Client) PlaceEntryOrder(ctx context.Context, p order.Params, idemKey string) (string, error) {
	req := toOrderReq(p, idemKey)
	req.TradeSide = "OPEN"
	env, err := c.do(ctx, ratelimit.High, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post(c.base + pathPlaceOrder)
	})
	if err != nil {
		return "", err
	}
	if c.metrics != nil {
		c.metrics.OrdersTotal().Inc()
	}
	var data orderData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.OrderID == "" {
		return idemKey, nil
	}
	return data.OrderID, nil
}

// PlaceTakeProfitOrder submits a reduce-only take-profit trigger order
// directly, bypassing the stop-replace coordinator: the take-profit price is
// set once at entry and is not trailed.
func (c *Client) PlaceTakeProfitOrder(ctx context.Context, p order.Params, idemKey string) (string, error) {
	req := toOrderReq(p, idemKey)
	env, err := c.do(ctx, ratelimit.High, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post(c.base + pathPlaceOrder)
	})
	if err != nil {
		return "", err
	}
	if c.metrics != nil {
		c.metrics.OrdersTotal().Inc()
	}
	var data orderData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.OrderID == "" {
		return idemKey, nil
	}
	return data.OrderID, nil
}

// AccountOverview is the subset of account state position sizing needs.
type AccountOverview struct {
	AvailableBalance decimal.Decimal
	MarginUsed       decimal.Decimal
	UnrealizedPnL    decimal.Decimal
}

type accountData struct {
	Available  string `json:"available"`
	MarginUsed string `json:"marginUsed"`
	UnrealPnL  string `json:"unrealizedPnl"`
}

// AccountOverview fetches current balance and margin state.
func (c *Client) AccountOverview(ctx context.Context) (AccountOverview, error) {
	env, err := c.do(ctx, ratelimit.Medium, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(c.base + pathAccountView)
	})
	if err != nil {
		return AccountOverview{}, err
	}
	var data accountData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return AccountOverview{}, xerr.Wrap(xerr.TransientNetwork, "decode account overview", err)
	}
	avail, _ := decimal.NewFromString(data.Available)
	used, _ := decimal.NewFromString(data.MarginUsed)
	pnl, _ := decimal.NewFromString(data.UnrealPnL)
	return AccountOverview{AvailableBalance: avail, MarginUsed: used, UnrealizedPnL: pnl}, nil
}

type contractData struct {
	TickSize string `json:"tickSize"`
	LotSize  string `json:"lotSize"`
	MinQty   string `json:"minQty"`
	MaxQty   string `json:"maxQty"`
}

// ContractDetail fetches the tick/lot/quantity granularity for a symbol.
func (c *Client) ContractDetail(ctx context.Context, symbol string) (order.ContractSpec, error) {
	env, err := c.do(ctx, ratelimit.Medium, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("symbol", symbol).Get(c.base + pathContractSpec)
	})
	if err != nil {
		return order.ContractSpec{}, err
	}
	var data contractData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return order.ContractSpec{}, xerr.Wrap(xerr.TransientNetwork, "decode contract detail", err)
	}
	tick, _ := decimal.NewFromString(data.TickSize)
	lot, _ := decimal.NewFromString(data.LotSize)
	minQty, _ := decimal.NewFromString(data.MinQty)
	maxQty, _ := decimal.NewFromString(data.MaxQty)
	return order.ContractSpec{TickSize: tick, LotSize: lot, MinQty: minQty, MaxQty: maxQty}, nil
}

// ChangeLeverage sets the leverage for a symbol.
func (c *Client) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.do(ctx, ratelimit.Medium, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{"symbol": symbol, "leverage": leverage}).Post(c.base + pathChangeLev)
	})
	return err
}

// ChangeMarginMode sets isolated/cross margin mode for a symbol.
func (c *Client) ChangeMarginMode(ctx context.Context, symbol, mode string) error {
	_, err := c.do(ctx, ratelimit.Medium, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]string{"symbol": symbol, "marginMode": mode}).Post(c.base + pathChangeMargin)
	})
	return err
}

type pendingPositionEntry struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Qty    string `json:"qty"`
}

// ListOpenPositions fetches the exchange's current view of open positions,
// used by the position lifecycle manager's reconciliation pass to detect
// positions the persisted store still carries but the exchange has already
// closed (stop/TP filled while the process was down).
func (c *Client) ListOpenPositions(ctx context.Context) ([]ExchangePosition, error) {
	env, err := c.do(ctx, ratelimit.Medium, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(c.base + pathPendingPos)
	})
	if err != nil {
		return nil, err
	}
	var entries []pendingPositionEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		return nil, xerr.Wrap(xerr.TransientNetwork, "decode pending positions", err)
	}
	out := make([]ExchangePosition, 0, len(entries))
	for _, e := range entries {
		side := money.Long
		if e.Side == "SELL" || e.Side == "short" {
			side = money.Short
		}
		qty, _ := decimal.NewFromString(e.Qty)
		out = append(out, ExchangePosition{Symbol: e.Symbol, Side: side, Quantity: qty})
	}
	return out, nil
}

type klineEntry struct {
	Ts     int64  `json:"ts"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// FetchCandles pulls a bounded run of historical OHLC candles, oldest first,
// satisfying ingest.HistoricalFetcher for indicator warm-up.
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]ingest.Candle, error) {
	env, err := c.do(ctx, ratelimit.Low, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": timeframe,
			"limit":    strconv.Itoa(limit),
		}).Get(c.base + pathKline)
	})
	if err != nil {
		return nil, err
	}
	var entries []klineEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		return nil, xerr.Wrap(xerr.TransientNetwork, "decode kline response", err)
	}
	out := make([]ingest.Candle, 0, len(entries))
	for _, e := range entries {
		out = append(out, ingest.Candle{
			Symbol:     symbol,
			Timeframe:  timeframe,
			OpenTimeMs: e.Ts,
			Open:       toFloatOrZero(e.Open),
			High:       toFloatOrZero(e.High),
			Low:        toFloatOrZero(e.Low),
			Close:      toFloatOrZero(e.Close),
			Volume:     toFloatOrZero(e.Volume),
			Closed:     true,
		})
	}
	return out, nil
}

func toFloatOrZero(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"positionguard/internal/ingest"
	"positionguard/internal/money"
	"positionguard/internal/order"
	"positionguard/internal/simulator"
)

// DemoClient is a paper-trading stand-in satisfying the same surface as
// Client, used when System.DemoMode is set so the full lifecycle manager can
// run against synthetic fills instead of a live account. Fills route through
// the same simulator.ExecuteFill model the backtest replay uses, so paper
// and replay economics agree.
type DemoClient struct {
	mu        sync.Mutex
	balance   decimal.Decimal
	feeRate   decimal.Decimal
	slippage  decimal.Decimal
	orders    map[string]order.Params
	specs     map[string]order.ContractSpec
	lastPrice map[string]decimal.Decimal
	openPos   map[string]ExchangePosition
}

// NewDemoClient starts with a synthetic balance, zero fees, and zero
// slippage; specs defaults every symbol to a permissive contract spec unless
// overridden via SetContractSpec.
func NewDemoClient(startingBalance decimal.Decimal) *DemoClient {
	return &DemoClient{
		balance:   startingBalance,
		orders:    make(map[string]order.Params),
		specs:     make(map[string]order.ContractSpec),
		lastPrice: make(map[string]decimal.Decimal),
		openPos:   make(map[string]ExchangePosition),
	}
}

// SetCosts applies a taker fee rate and slippage buffer to every subsequent
// synthetic fill.
func (d *DemoClient) SetCosts(feeRate, slippageBufferPercent decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.feeRate = feeRate
	d.slippage = slippageBufferPercent
}

// SetContractSpec overrides the synthetic contract spec for a symbol.
func (d *DemoClient) SetContractSpec(symbol string, spec order.ContractSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.specs[symbol] = spec
}

// SetLastPrice feeds the synthetic mark price a demo fill is evaluated
// against, normally driven by internal/ingest's candle stream in demo mode.
func (d *DemoClient) SetLastPrice(symbol string, price decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastPrice[symbol] = price
}

func defaultSpec() order.ContractSpec {
	return order.ContractSpec{
		TickSize: decimal.NewFromFloat(0.01),
		LotSize:  decimal.NewFromFloat(0.001),
		MinQty:   decimal.NewFromFloat(0.001),
	}
}

func (d *DemoClient) PlaceStopOrder(_ context.Context, p order.Params, idemKey string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := idemKey
	if id == "" {
		id = uuid.New().String()
	}
	d.orders[id] = p
	return id, nil
}

func (d *DemoClient) CancelOrder(_ context.Context, orderID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.orders, orderID)
	return nil
}

func (d *DemoClient) MarketCloseReduceOnly(_ context.Context, symbol string, side money.Side, qty decimal.Decimal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	price := d.lastPrice[symbol]
	if fill, err := simulator.ExecuteFill(oppositeOf(side), price, qty, d.feeRate, d.slippage); err == nil {
		d.balance = d.balance.Add(fill.Price.Mul(qty)).Sub(fill.Fee)
	} else {
		d.balance = d.balance.Add(price.Mul(qty))
	}
	delete(d.openPos, symbol)
	return nil
}

func oppositeOf(s money.Side) money.Side {
	if s == money.Long {
		return money.Short
	}
	return money.Long
}

func (d *DemoClient) PlaceTakeProfitOrder(_ context.Context, p order.Params, idemKey string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := idemKey
	if id == "" {
		id = uuid.New().String()
	}
	d.orders[id] = p
	return id, nil
}

func (d *DemoClient) PlaceEntryOrder(_ context.Context, p order.Params, idemKey string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := idemKey
	if id == "" {
		id = uuid.New().String()
	}
	d.orders[id] = p
	price := p.Price
	if price.IsZero() {
		price = d.lastPrice[p.Symbol]
	}
	if fill, err := simulator.ExecuteFill(p.Side, price, p.Quantity, d.feeRate, d.slippage); err == nil {
		d.balance = d.balance.Sub(fill.Price.Mul(p.Quantity)).Sub(fill.Fee)
	} else {
		d.balance = d.balance.Sub(price.Mul(p.Quantity))
	}
	d.openPos[p.Symbol] = ExchangePosition{Symbol: p.Symbol, Side: p.Side, Quantity: p.Quantity}
	return id, nil
}

// ListOpenPositions returns the synthetic positions currently tracked,
// satisfying the Exchange interface's reconciliation surface in demo mode.
func (d *DemoClient) ListOpenPositions(context.Context) ([]ExchangePosition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ExchangePosition, 0, len(d.openPos))
	for _, p := range d.openPos {
		out = append(out, p)
	}
	return out, nil
}

func (d *DemoClient) AccountOverview(context.Context) (AccountOverview, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return AccountOverview{AvailableBalance: d.balance}, nil
}

func (d *DemoClient) ContractDetail(_ context.Context, symbol string) (order.ContractSpec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if spec, ok := d.specs[symbol]; ok {
		return spec, nil
	}
	return defaultSpec(), nil
}

func (d *DemoClient) ChangeLeverage(context.Context, string, int) error { return nil }

func (d *DemoClient) ChangeMarginMode(context.Context, string, string) error { return nil }

// FetchCandles synthesizes a flat run of candles around the last known price
// so indicator warm-up has something to chew on in demo mode, where there is
// no real historical REST endpoint to call.
func (d *DemoClient) FetchCandles(_ context.Context, symbol, timeframe string, limit int) ([]ingest.Candle, error) {
	d.mu.Lock()
	price := d.lastPrice[symbol]
	d.mu.Unlock()
	if price.IsZero() {
		price = decimal.NewFromInt(1)
	}
	p, _ := price.Float64()
	stepMs := intervalMsFor(timeframe)
	now := time.Now().UnixMilli()
	out := make([]ingest.Candle, 0, limit)
	for i := limit; i > 0; i-- {
		out = append(out, ingest.Candle{
			Symbol:     symbol,
			Timeframe:  timeframe,
			OpenTimeMs: now - int64(i)*stepMs,
			Open:       p,
			High:       p,
			Low:        p,
			Close:      p,
			Volume:     0,
			Closed:     true,
		})
	}
	return out, nil
}

func intervalMsFor(timeframe string) int64 {
	switch timeframe {
	case "1m":
		return 60_000
	case "5m":
		return 300_000
	case "15m":
		return 900_000
	case "1h":
		return 3_600_000
	case "4h":
		return 14_400_000
	case "1d":
		return 86_400_000
	default:
		return 60_000
	}
}

// Orders exposes currently tracked synthetic orders, useful for tests and
// for the reconciliation path to confirm what demo mode "placed".
func (d *DemoClient) Orders() map[string]order.Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]order.Params, len(d.orders))
	for k, v := range d.orders {
		out[k] = v
	}
	return out
}

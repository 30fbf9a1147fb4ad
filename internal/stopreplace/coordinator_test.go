package stopreplace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionguard/internal/money"
	"positionguard/internal/order"
	"positionguard/internal/ratelimit"
	"positionguard/internal/xerr"
)

// fakeClient stands in for internal/exchange.Client: like the live
// transport, it reports 429 outcomes into the shared rate-limit budget when
// one is attached.
type fakeClient struct {
	mu            sync.Mutex
	budget        *ratelimit.Budget
	placeCalls    int
	failFirstN    int
	placedPrices  []decimal.Decimal
	canceledIDs   []string
	closedReduced bool
}

func (f *fakeClient) PlaceStopOrder(ctx context.Context, p order.Params, idemKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	if f.placeCalls <= f.failFirstN {
		if f.budget != nil {
			f.budget.RecordRateLimited()
		}
		return "", xerr.New(xerr.RateLimited, "429")
	}
	if f.budget != nil {
		f.budget.RecordSuccess()
	}
	f.placedPrices = append(f.placedPrices, p.TriggerPrice)
	return idemKey, nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceledIDs = append(f.canceledIDs, orderID)
	return nil
}

func (f *fakeClient) MarketCloseReduceOnly(ctx context.Context, symbol string, side money.Side, qty decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedReduced = true
	return nil
}

func testSpec() order.ContractSpec {
	return order.ContractSpec{TickSize: decimal.NewFromFloat(0.01), LotSize: decimal.NewFromFloat(0.001), MinQty: decimal.NewFromFloat(0.001)}
}

func waitFor(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestReplaceConfirmsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeClient{}
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 5 * time.Millisecond

	var mu sync.Mutex
	var confirmed bool
	c := New(ctx, "pos-1", "BTCUSDT", money.Long, testSpec(), client, cfg, Callbacks{
		OnConfirmed: func(id string, price decimal.Decimal) {
			mu.Lock()
			confirmed = true
			mu.Unlock()
		},
	})

	ack := c.Replace(order.Params{Quantity: decimal.NewFromFloat(0.01)}, decimal.NewFromFloat(49995.0))
	assert.Equal(t, Accepted, ack)

	waitFor(t, func() bool { return c.State() == Confirmed })
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return confirmed
	})
}

// Two successive replace calls arrive; the first hits a 429 (shrinking the
// shared budget's utilization target, as the live transport would report),
// then succeeds on retry; the queued second supersedes it and the final
// confirmed stop equals the most recent request.
func TestQueuedReplaceSupersedesUnderRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := ratelimit.DefaultConfig()
	budget := ratelimit.New(cfg)
	go budget.Run(ctx)

	client := &fakeClient{budget: budget, failFirstN: 1}
	srCfg := DefaultConfig()
	srCfg.BackoffBase = time.Millisecond
	srCfg.BackoffCap = 5 * time.Millisecond

	var lastConfirmedPrice decimal.Decimal
	var mu sync.Mutex
	c := New(ctx, "pos-7", "BTCUSDT", money.Long, testSpec(), client, srCfg, Callbacks{
		OnConfirmed: func(id string, price decimal.Decimal) {
			mu.Lock()
			lastConfirmedPrice = price
			mu.Unlock()
		},
	})

	ack1 := c.Replace(order.Params{Quantity: decimal.NewFromFloat(0.01)}, decimal.NewFromFloat(50000))
	assert.Equal(t, Accepted, ack1)
	ack2 := c.Replace(order.Params{Quantity: decimal.NewFromFloat(0.01)}, decimal.NewFromFloat(50010))
	assert.Equal(t, Queued, ack2)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastConfirmedPrice.Equal(decimal.NewFromFloat(50010))
	})

	snap := budget.Snapshot()
	assert.LessOrEqual(t, snap.UtilizationTarget, cfg.UtilizationTargetInitial*0.8+1e-9)
}

func TestExhaustionTriggersEmergencyClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeClient{failFirstN: 1000}
	cfg := DefaultConfig()
	cfg.MaxReplaceRetries = 2
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 2 * time.Millisecond

	var mu sync.Mutex
	var critical bool
	c := New(ctx, "pos-2", "BTCUSDT", money.Long, testSpec(), client, cfg, Callbacks{
		OnCritical: func(err error) {
			mu.Lock()
			critical = true
			mu.Unlock()
			require.True(t, xerr.Is(err, xerr.StopReplaceFailed))
		},
	})

	c.Replace(order.Params{Quantity: decimal.NewFromFloat(0.01)}, decimal.NewFromFloat(49995.0))
	waitFor(t, func() bool { return c.State() == Critical })
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return critical
	})
	client.mu.Lock()
	assert.True(t, client.closedReduced)
	client.mu.Unlock()
}

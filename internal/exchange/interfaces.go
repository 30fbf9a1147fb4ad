package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"positionguard/internal/ingest"
	"positionguard/internal/money"
	"positionguard/internal/order"
)

// StopClient is the narrow surface internal/stopreplace.Coordinator depends
// on. Both Client and DemoClient satisfy it.
type StopClient interface {
	PlaceStopOrder(ctx context.Context, p order.Params, idemKey string) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	MarketCloseReduceOnly(ctx context.Context, symbol string, side money.Side, qty decimal.Decimal) error
}

// Exchange is the full surface the position lifecycle manager depends on:
// everything a StopClient offers plus entry execution and account/contract
// metadata. Both Client and DemoClient satisfy it.
type Exchange interface {
	StopClient
	PlaceEntryOrder(ctx context.Context, p order.Params, idemKey string) (string, error)
	PlaceTakeProfitOrder(ctx context.Context, p order.Params, idemKey string) (string, error)
	AccountOverview(ctx context.Context) (AccountOverview, error)
	ContractDetail(ctx context.Context, symbol string) (order.ContractSpec, error)
	ChangeLeverage(ctx context.Context, symbol string, leverage int) error
	ChangeMarginMode(ctx context.Context, symbol, mode string) error
	ListOpenPositions(ctx context.Context) ([]ExchangePosition, error)
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]ingest.Candle, error)
}

// ExchangePosition is the minimal shape reconciliation needs from the
// exchange's live position list: enough to detect a persisted position the
// exchange no longer carries.
type ExchangePosition struct {
	Symbol   string
	Side     money.Side
	Quantity decimal.Decimal
}

var (
	_ Exchange = (*Client)(nil)
	_ Exchange = (*DemoClient)(nil)
)

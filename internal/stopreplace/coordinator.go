// Package stopreplace implements the per-position state machine that
// guarantees at-most-one outstanding protective stop order and a monotonic
// stop price under partial failure.
package stopreplace

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"positionguard/internal/money"
	"positionguard/internal/order"
	"positionguard/internal/xerr"
)

// State is one node of the coordinator's state machine.
type State string

const (
	Idle        State = "idle"
	Canceling   State = "canceling"
	Placing     State = "placing"
	Confirmed   State = "confirmed"
	Unprotected State = "unprotected"
	Critical    State = "critical"
)

// Ack is returned synchronously from Replace.
type Ack string

const (
	Accepted Ack = "accepted"
	Queued   Ack = "queued"
)

// ExchangeClient is the narrow exchange surface the coordinator needs. The
// live implementation (internal/exchange.Client) funnels each of these calls
// through the shared rate-limit budget at Critical priority; tests and demo
// mode supply a fake/simulator-backed implementation.
type ExchangeClient interface {
	PlaceStopOrder(ctx context.Context, params order.Params, idempotencyKey string) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	MarketCloseReduceOnly(ctx context.Context, symbol string, side money.Side, qty decimal.Decimal) error
}

// ErrAlreadyFilled is tolerated from CancelOrder: the superseded stop was
// consumed by the market rather than canceled, and the freshly placed stop
// is already primary, so the state machine does not degrade.
var ErrAlreadyFilled = errors.New("order already filled")

type pendingRequest struct {
	price  decimal.Decimal
	params order.Params
}

// Callbacks let the position lifecycle manager observe state transitions by
// position identifier without the coordinator holding a position reference
// (a one-way-ownership resolution for the position<->coordinator
// cycle).
type Callbacks struct {
	OnConfirmed func(stopOrderID string, stopPrice decimal.Decimal)
	OnCritical  func(lastErr error)
}

// Config bounds retry behavior.
type Config struct {
	MaxReplaceRetries int
	MaxCancelRetries  int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	JitterFraction    float64 // +/- fraction applied to each backoff
}

func DefaultConfig() Config {
	return Config{
		MaxReplaceRetries: 5,
		MaxCancelRetries:  2,
		BackoffBase:       time.Second,
		BackoffCap:        30 * time.Second,
		JitterFraction:    0.2,
	}
}

// Coordinator owns the replace state machine for exactly one position.
type Coordinator struct {
	positionID string
	symbol     string
	side       money.Side
	spec       order.ContractSpec

	client ExchangeClient
	cfg    Config
	cb     Callbacks

	rootCtx context.Context

	mu               sync.Mutex
	state            State
	currentOrderID   string
	currentStopPrice decimal.Decimal
	processing       bool
	queued           *pendingRequest
	lastErr          error
	seq              int64
}

// New constructs a Coordinator. rootCtx governs the lifetime of background
// retry/backoff work and is canceled at process shutdown.
func New(rootCtx context.Context, positionID, symbol string, side money.Side, spec order.ContractSpec, client ExchangeClient, cfg Config, cb Callbacks) *Coordinator {
	return &Coordinator{
		positionID: positionID,
		symbol:     symbol,
		side:       side,
		spec:       spec,
		client:     client,
		cfg:        cfg,
		cb:         cb,
		rootCtx:    rootCtx,
		state:      Idle,
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) CurrentStop() (orderID string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentOrderID, c.currentStopPrice
}

// Replace is the only public mutator. If a replace is
// already in flight, the request supersedes any previously queued request
// and Replace returns Queued without blocking. Otherwise it kicks off
// processing in the background and returns Accepted immediately — the
// caller observes completion via the Callbacks or CurrentStop/State.
func (c *Coordinator) Replace(triggerParams order.Params, newStopPrice decimal.Decimal) Ack {
	c.mu.Lock()
	if c.processing {
		c.queued = &pendingRequest{price: newStopPrice, params: triggerParams}
		c.mu.Unlock()
		return Queued
	}
	c.processing = true
	c.mu.Unlock()

	go c.run(newStopPrice, triggerParams)
	return Accepted
}

func (c *Coordinator) run(price decimal.Decimal, params order.Params) {
	for {
		err := c.attemptReplace(price, params)
		if err != nil {
			// Critical is terminal: the position is emergency-closed and not
			// auto-recovered, so any queued request is moot.
			c.mu.Lock()
			c.state = Critical
			c.lastErr = err
			c.queued = nil
			c.processing = false
			c.mu.Unlock()
			c.emergencyClose(params)
			return
		}

		c.mu.Lock()
		c.state = Confirmed
		next := c.queued
		c.queued = nil
		if next == nil {
			c.processing = false
			c.mu.Unlock()
			return
		}
		price, params = next.price, next.params
		c.mu.Unlock()
	}
}

func (c *Coordinator) attemptReplace(price decimal.Decimal, params order.Params) error {
	c.mu.Lock()
	if c.currentOrderID != "" {
		c.state = Canceling
	} else {
		c.state = Placing
	}
	seq := atomic.AddInt64(&c.seq, 1)
	oldOrderID := c.currentOrderID
	c.mu.Unlock()

	idemKey := fmt.Sprintf("%s_sl_%d", c.positionID, seq)

	stopParams := order.Sanitize(order.Params{
		Symbol:           c.symbol,
		Side:             opposite(c.side),
		Quantity:         params.Quantity,
		TriggerPrice:     money.RoundToTickAdverse(c.side, price, c.spec.TickSize),
		TriggerPriceType: order.TriggerMark,
	}, order.RoleStop)

	if err := order.ValidateStopOrder(stopParams, c.side, c.spec); err != nil {
		return err
	}

	var newOrderID string
	var placeErr error
	for attempt := 1; attempt <= c.cfg.MaxReplaceRetries; attempt++ {
		newOrderID, placeErr = c.client.PlaceStopOrder(c.rootCtx, stopParams, idemKey)
		if placeErr == nil {
			break
		}
		c.mu.Lock()
		c.state = Unprotected
		c.lastErr = placeErr
		c.mu.Unlock()
		log.Warn().Err(placeErr).Str("position_id", c.positionID).Int("attempt", attempt).Msg("stop placement failed, retrying")
		if attempt == c.cfg.MaxReplaceRetries {
			break
		}
		if !c.sleepBackoff(attempt) {
			return xerr.Wrap(xerr.StopReplaceFailed, "replace canceled during backoff", c.rootCtx.Err())
		}
	}
	if placeErr != nil {
		return xerr.Wrap(xerr.StopReplaceFailed, "exhausted replace retries", placeErr)
	}

	if oldOrderID != "" {
		c.cancelOldStop(oldOrderID)
	}

	c.mu.Lock()
	c.currentOrderID = newOrderID
	c.currentStopPrice = price
	c.mu.Unlock()

	if c.cb.OnConfirmed != nil {
		c.cb.OnConfirmed(newOrderID, price)
	}
	return nil
}

// cancelOldStop tolerates an already-filled old stop: the new stop is
// already primary, so a failed cancel of a filled order is not fatal.
func (c *Coordinator) cancelOldStop(oldOrderID string) {
	var err error
	for attempt := 1; attempt <= c.cfg.MaxCancelRetries; attempt++ {
		err = c.client.CancelOrder(c.rootCtx, oldOrderID)
		if err == nil {
			return
		}
		if errors.Is(err, ErrAlreadyFilled) {
			return
		}
		if attempt < c.cfg.MaxCancelRetries {
			c.sleepBackoff(attempt)
		}
	}
	log.Warn().Err(err).Str("position_id", c.positionID).Str("old_order_id", oldOrderID).Msg("failed to cancel superseded stop order")
}

func (c *Coordinator) emergencyClose(params order.Params) {
	err := c.client.MarketCloseReduceOnly(c.rootCtx, c.symbol, c.side, params.Quantity)
	if err != nil {
		log.Error().Err(err).Str("position_id", c.positionID).Msg("emergency close failed; position is critical and not auto-recovered")
	} else {
		log.Error().Str("position_id", c.positionID).Msg("emergency close executed after stop-replace exhaustion")
	}
	c.mu.Lock()
	finalErr := xerr.Wrap(xerr.StopReplaceFailed, fmt.Sprintf("state=%s", Critical), c.lastErr)
	c.mu.Unlock()
	if c.cb.OnCritical != nil {
		c.cb.OnCritical(finalErr)
	}
}

// sleepBackoff waits the jittered exponential backoff for the given attempt
// number, returning false if rootCtx was canceled first.
func (c *Coordinator) sleepBackoff(attempt int) bool {
	d := c.cfg.BackoffBase << uint(attempt-1)
	if d > c.cfg.BackoffCap || d <= 0 {
		d = c.cfg.BackoffCap
	}
	jitter := 1 + (rand.Float64()*2-1)*c.cfg.JitterFraction
	d = time.Duration(float64(d) * jitter)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.rootCtx.Done():
		return false
	}
}

func opposite(s money.Side) money.Side {
	if s == money.Long {
		return money.Short
	}
	return money.Long
}

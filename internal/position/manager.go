package position

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"positionguard/internal/exchange"
	"positionguard/internal/metrics"
	"positionguard/internal/money"
	"positionguard/internal/order"
	"positionguard/internal/retryqueue"
	"positionguard/internal/stopreplace"
	"positionguard/internal/storage"
	"positionguard/internal/trailing"
	"positionguard/internal/xerr"
)

// Config holds the trading parameters the Lifecycle Manager needs, mirrored
// from cfg.Settings.Trading at composition-root time so this package does
// not depend on internal/cfg.
type Config struct {
	InitialSLROI             decimal.Decimal
	InitialTPROI             decimal.Decimal
	PositionSizePercent      decimal.Decimal
	DefaultLeverage          int
	MaxPositions             int
	MakerFee                 decimal.Decimal
	TakerFee                 decimal.Decimal
	MaintenanceMarginPercent decimal.Decimal
	SlippageBufferPercent    decimal.Decimal

	// DailyLossLimitPercent suspends new entries once the day's realized
	// losses reach this fraction of equity; MaxDrawdownPercent does the same
	// once equity falls this far from its session peak. Zero disables either
	// check.
	DailyLossLimitPercent decimal.Decimal
	MaxDrawdownPercent    decimal.Decimal

	Trailing    trailing.Config
	StopReplace stopreplace.Config
}

type tracked struct {
	pos   *Position
	coord *stopreplace.Coordinator
}

// closePayload is the retry-queue payload for a close operation that could
// not be completed synchronously.
type closePayload struct {
	PositionID string          `json:"positionId"`
	Symbol     string          `json:"symbol"`
	Side       money.Side      `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderID    string          `json:"orderId"`
}

// OperationClosePosition is the retry-queue operation name for a
// position close (cancel protective stop, then market-close reduce-only)
// that failed on its first attempt.
const OperationClosePosition retryqueue.Operation = "close_position"

// Manager is the Position Lifecycle Manager: owns every open position's
// durable state, its stop-replace coordinator, and the entry/monitor/exit/
// reconciliation flows. Each position owns its own coordinator; the
// coordinator never holds a Position reference, only an ID, resolved
// back through callbacks.
type Manager struct {
	ctx     context.Context
	cfg     Config
	ex      exchange.Exchange
	store   *storage.Store
	metrics *metrics.Wrapper
	retry   *retryqueue.Queue

	mu        sync.Mutex
	positions map[string]*tracked

	// circuit-breaker state, guarded by mu: realized PnL accumulated over
	// the current UTC day and the highest equity observed this session.
	cbDay           time.Time
	cbDailyRealized decimal.Decimal
	cbPeakEquity    decimal.Decimal
}

// NewManager wires a Manager and registers its retry-queue handlers. Callers
// must still call Reconcile before relying on the Manager's in-memory state.
func NewManager(ctx context.Context, cfg Config, ex exchange.Exchange, store *storage.Store, m *metrics.Wrapper, retry *retryqueue.Queue) *Manager {
	mgr := &Manager{
		ctx:       ctx,
		cfg:       cfg,
		ex:        ex,
		store:     store,
		metrics:   m,
		retry:     retry,
		positions: make(map[string]*tracked),
	}
	if retry != nil {
		retry.RegisterHandler(OperationClosePosition, mgr.retryClose)
	}
	return mgr
}

// savePosition persists one position record under its ID through storage's
// generic raw bucket API. Position owns its own (de)serialization here so
// internal/storage never needs to import internal/position.
func (mgr *Manager) savePosition(p Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	return mgr.store.PutRaw(storage.PositionsBucketName, p.ID, data)
}

// loadPositions returns every persisted position, used at startup to
// reconcile in-memory state against the exchange.
func (mgr *Manager) loadPositions() ([]Position, error) {
	var out []Position
	err := mgr.store.ForEachRaw(storage.PositionsBucketName, func(key string, value []byte) error {
		var p Position
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("unmarshal position %s: %w", key, err)
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (mgr *Manager) retryClose(ctx context.Context, payload json.RawMessage) error {
	var p closePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal close payload: %w", err)
	}
	if p.OrderID != "" {
		if err := mgr.ex.CancelOrder(ctx, p.OrderID); err != nil {
			log.Warn().Err(err).Str("position", p.PositionID).Msg("retry: cancel stop still failing")
		}
	}
	return mgr.ex.MarketCloseReduceOnly(ctx, p.Symbol, p.Side, p.Quantity)
}

// Reconcile loads every persisted position, recreates its in-memory tracking
// and coordinator, re-arming protection for anything the process crashed
// while monitoring, then compares against the exchange's live position list.
// A persisted position the exchange no longer carries (stop or TP filled
// while the process was down) is closed immediately at its last-known stop
// price rather than left dangling in the store.
func (mgr *Manager) Reconcile(ctx context.Context) error {
	saved, err := mgr.loadPositions()
	if err != nil {
		return fmt.Errorf("load persisted positions: %w", err)
	}

	live, err := mgr.ex.ListOpenPositions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("reconciliation: failed to fetch exchange position list, skipping exchange-side comparison")
	}
	liveBySymbol := make(map[string]bool, len(live))
	for _, lp := range live {
		liveBySymbol[lp.Symbol] = true
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for i := range saved {
		p := saved[i]
		if p.Status != StatusOpen {
			continue
		}

		if live != nil && !liveBySymbol[p.Symbol] {
			p.Status = StatusClosed
			p.ExitReason = ExitReconciled
			p.ClosedAt = time.Now()
			delete(mgr.positions, p.ID)
			if err := mgr.savePosition(p); err != nil {
				log.Error().Err(err).Str("position", p.ID).Msg("failed to persist reconciled-closed position")
			}
			log.Warn().Str("position", p.ID).Str("symbol", p.Symbol).
				Msg("reconciliation: persisted position has no matching exchange position, closed at last-known stop price")
			continue
		}

		// Positions already live in memory keep their coordinator and any
		// in-flight replace; only records recovered from disk get rebuilt.
		if _, exists := mgr.positions[p.ID]; exists {
			continue
		}

		t := &tracked{pos: &p}
		t.coord = mgr.newCoordinator(&p)
		mgr.positions[p.ID] = t
		log.Info().Str("position", p.ID).Str("symbol", p.Symbol).Msg("reconciled open position from durable state")
		if p.StopOrderID == "" && !p.StopPrice.IsZero() {
			mgr.replaceStopLocked(t, p.StopPrice)
		}
	}
	return nil
}

func (mgr *Manager) newCoordinator(p *Position) *stopreplace.Coordinator {
	return stopreplace.New(mgr.ctx, p.ID, p.Symbol, p.Side, p.Spec, mgr.ex, mgr.cfg.StopReplace, stopreplace.Callbacks{
		OnConfirmed: func(orderID string, price decimal.Decimal) { mgr.onStopConfirmed(p.ID, orderID, price) },
		OnCritical:  func(err error) { mgr.onCritical(p.ID, err) },
	})
}

// rollDayLocked resets the daily realized-loss accumulator when the UTC day
// has changed. Callers hold mu.
func (mgr *Manager) rollDayLocked(now time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !day.Equal(mgr.cbDay) {
		mgr.cbDay = day
		mgr.cbDailyRealized = decimal.Zero
	}
}

// recordRealized folds one closed position's realized PnL into the daily
// circuit-breaker accumulator.
func (mgr *Manager) recordRealized(pnl decimal.Decimal) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.rollDayLocked(time.Now().UTC())
	mgr.cbDailyRealized = mgr.cbDailyRealized.Add(pnl)
}

// checkCircuitBreakers gates new entries on the daily realized-loss limit
// and on peak-to-current drawdown. Open positions keep being managed while
// a breaker is tripped; only fresh exposure is refused.
func (mgr *Manager) checkCircuitBreakers(equity decimal.Decimal) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.rollDayLocked(time.Now().UTC())
	if mgr.cbPeakEquity.LessThan(equity) {
		mgr.cbPeakEquity = equity
	}

	if limit := mgr.cfg.DailyLossLimitPercent; limit.Sign() > 0 && mgr.cbDailyRealized.Sign() < 0 {
		allowed := equity.Mul(limit).Div(decimal.NewFromInt(100))
		if mgr.cbDailyRealized.Neg().GreaterThanOrEqual(allowed) {
			log.Warn().Str("daily_realized", mgr.cbDailyRealized.String()).Str("limit", allowed.String()).
				Msg("daily loss limit reached, suspending new entries until next UTC day")
			return xerr.New(xerr.TradingSuspended, "daily loss limit reached, new entries suspended until next UTC day")
		}
	}

	if limit := mgr.cfg.MaxDrawdownPercent; limit.Sign() > 0 && mgr.cbPeakEquity.Sign() > 0 {
		drawdown := mgr.cbPeakEquity.Sub(equity).Div(mgr.cbPeakEquity).Mul(decimal.NewFromInt(100))
		if drawdown.GreaterThanOrEqual(limit) {
			log.Warn().Str("peak_equity", mgr.cbPeakEquity.String()).Str("equity", equity.String()).
				Msg("max drawdown protection triggered, suspending new entries")
			return xerr.New(xerr.TradingSuspended, "max drawdown protection triggered, new entries suspended")
		}
	}
	return nil
}

// EntryRequest is everything Open needs about a new position beyond account
// state, which Open fetches itself via the exchange client.
type EntryRequest struct {
	Symbol           string
	Side             money.Side
	Leverage         int
	AvailableBalance decimal.Decimal
	MarkPrice        decimal.Decimal
	Spec             order.ContractSpec
	IdempotencyKey   string
}

// Open sizes, validates, and submits a new protected position, then arms its
// initial stop-loss via the position's own stop-replace coordinator.
func (mgr *Manager) Open(ctx context.Context, req EntryRequest) (*Position, error) {
	mgr.mu.Lock()
	if mgr.cfg.MaxPositions > 0 && len(mgr.positions) >= mgr.cfg.MaxPositions {
		mgr.mu.Unlock()
		return nil, xerr.New(xerr.InvariantViolation, "max_positions reached")
	}
	mgr.mu.Unlock()

	if err := mgr.checkCircuitBreakers(req.AvailableBalance); err != nil {
		if mgr.metrics != nil {
			mgr.metrics.EntryRejections().Inc()
		}
		return nil, err
	}

	leverage := req.Leverage
	if leverage <= 0 {
		leverage = mgr.cfg.DefaultLeverage
	}

	margin, err := money.CalculateMarginUsed(req.AvailableBalance, mgr.cfg.PositionSizePercent)
	if err != nil {
		return nil, err
	}
	maxMargin := req.AvailableBalance.Mul(decimal.NewFromFloat(0.9))
	if margin.GreaterThan(maxMargin) {
		if mgr.metrics != nil {
			mgr.metrics.EntryRejections().Inc()
		}
		return nil, xerr.New(xerr.InsufficientMargin, "required margin exceeds 90% of account equity")
	}
	notional, err := money.CalculatePositionValue(margin, leverage)
	if err != nil {
		return nil, err
	}
	qty, err := money.CalculateLotSize(notional, req.MarkPrice, decimal.NewFromInt(1), req.Spec.LotSize, req.Spec.MinQty, req.Spec.MaxQty)
	if err != nil {
		return nil, err
	}
	if qty.Sign() <= 0 {
		return nil, xerr.New(xerr.InsufficientMargin, "computed entry quantity is zero")
	}

	entryParams := order.Params{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: qty,
	}
	if err := order.ValidateEntryOrder(entryParams, req.Spec); err != nil {
		if mgr.metrics != nil {
			mgr.metrics.EntryRejections().Inc()
		}
		return nil, err
	}
	orderID, err := mgr.ex.PlaceEntryOrder(ctx, entryParams, req.IdempotencyKey)
	if err != nil {
		return nil, xerr.Wrap(xerr.TransientNetwork, "entry order placement failed", err)
	}

	stopPrice, err := money.CalculateStopLossPrice(req.Side, req.MarkPrice, mgr.cfg.InitialSLROI, leverage)
	if err != nil {
		return nil, err
	}
	stopPrice, err = money.CalculateSlippageAdjustedStop(req.Side, stopPrice, mgr.cfg.SlippageBufferPercent)
	if err != nil {
		return nil, err
	}
	stopPrice = money.RoundToTickAdverse(req.Side, stopPrice, req.Spec.TickSize)

	tpPrice, err := money.CalculateTakeProfitPrice(req.Side, req.MarkPrice, mgr.cfg.InitialTPROI, leverage)
	if err != nil {
		return nil, err
	}
	tpPrice = money.RoundToTick(tpPrice, req.Spec.TickSize)

	now := time.Now()
	pos := &Position{
		ID:                       orderID,
		Symbol:                   req.Symbol,
		Side:                     req.Side,
		Status:                   StatusOpen,
		EntryPrice:               req.MarkPrice,
		Quantity:                 qty,
		Leverage:                 leverage,
		Multiplier:               decimal.NewFromInt(1),
		Spec:                     req.Spec,
		EntryFee:                 mgr.cfg.TakerFee,
		ExitFee:                  mgr.cfg.TakerFee,
		StopPrice:                stopPrice,
		InitialStopPrice:         stopPrice,
		TakeProfitPrice:          tpPrice,
		MaintenanceMarginPercent: mgr.cfg.MaintenanceMarginPercent,
		TrailingConfig:           mgr.cfg.Trailing,
		OpenedAt:                 now,
		UpdatedAt:                now,
	}
	if err := pos.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := mgr.savePosition(*pos); err != nil {
		return nil, fmt.Errorf("persist new position: %w", err)
	}

	t := &tracked{pos: pos}
	t.coord = mgr.newCoordinator(pos)

	mgr.mu.Lock()
	mgr.positions[pos.ID] = t
	mgr.mu.Unlock()

	if mgr.metrics != nil {
		mgr.metrics.ActivePositions().Add(1)
		mgr.metrics.PositionsOpened().Inc()
	}

	mgr.replaceStopLocked(t, stopPrice)

	tpParams := order.Sanitize(order.Params{
		Symbol:           pos.Symbol,
		Side:             oppositeSide(pos.Side),
		Quantity:         pos.Quantity,
		TriggerPrice:     tpPrice,
		TriggerPriceType: order.TriggerMark,
	}, order.RoleStop)
	tpOrderID, err := mgr.ex.PlaceTakeProfitOrder(ctx, tpParams, req.IdempotencyKey+"-tp")
	if err != nil {
		log.Error().Err(err).Str("position", pos.ID).Msg("take-profit placement failed, position remains protected by stop only")
	} else {
		mgr.mu.Lock()
		pos.TakeProfitOrderID = tpOrderID
		snapshot := *pos
		mgr.mu.Unlock()
		if err := mgr.savePosition(snapshot); err != nil {
			log.Error().Err(err).Str("position", pos.ID).Msg("failed to persist take-profit order id")
		}
	}

	return pos, nil
}

func (mgr *Manager) replaceStopLocked(t *tracked, stopPrice decimal.Decimal) {
	params := order.Sanitize(order.Params{
		Symbol:           t.pos.Symbol,
		Side:             oppositeSide(t.pos.Side),
		Quantity:         t.pos.Quantity,
		TriggerPrice:     stopPrice,
		TriggerPriceType: order.TriggerMark,
	}, order.RoleStop)
	if ack := t.coord.Replace(params, stopPrice); ack == stopreplace.Queued && mgr.metrics != nil {
		mgr.metrics.StopReplacesQueued().Inc()
	}
}

func oppositeSide(s money.Side) money.Side {
	if s == money.Long {
		return money.Short
	}
	return money.Long
}

// Monitor evaluates one mark-price update against a position's trailing
// policy and, if the policy advances the stop, issues a Replace call.
func (mgr *Manager) Monitor(ctx context.Context, positionID string, markPrice decimal.Decimal) error {
	mgr.mu.Lock()
	t, ok := mgr.positions[positionID]
	if !ok {
		mgr.mu.Unlock()
		return xerr.New(xerr.InvalidInput, "unknown position id")
	}
	snapshot := *t.pos
	mgr.mu.Unlock()

	var priceDiff decimal.Decimal
	if snapshot.Side == money.Long {
		priceDiff = markPrice.Sub(snapshot.EntryPrice)
	} else {
		priceDiff = snapshot.EntryPrice.Sub(markPrice)
	}
	pnl, err := money.CalculateUnrealizedPnL(priceDiff, snapshot.Quantity, snapshot.Multiplier)
	if err != nil {
		return err
	}
	margin, err := snapshot.MarginUsed()
	if err != nil {
		return err
	}
	if margin.IsZero() {
		return nil
	}
	roi, err := money.CalculateROIPercent(pnl, margin)
	if err != nil {
		return err
	}

	out := trailing.NextStop(snapshot.TrailingInput(roi))
	if out.Reason == trailing.NoChange {
		return nil
	}

	candidate := snapshot
	candidate.ApplyTrailing(out)
	if err := candidate.CheckInvariants(); err != nil {
		log.Error().Err(err).Str("position", positionID).Msg("trailing update would violate position invariants, refusing")
		return err
	}
	mgr.mu.Lock()
	*t.pos = candidate
	mgr.mu.Unlock()
	if err := mgr.savePosition(candidate); err != nil {
		log.Error().Err(err).Str("position", positionID).Msg("failed to persist trailing update")
	}
	if mgr.metrics != nil {
		mgr.metrics.StopReplacesTotal().Inc()
		switch out.Reason {
		case trailing.BreakEven:
			mgr.metrics.BreakEvenArmedTotal().Inc()
		case trailing.TrailingAdvance:
			mgr.metrics.TrailingAdvanceTotal().Inc()
		}
	}
	mgr.replaceStopLocked(t, out.NewStop)
	return nil
}

func (mgr *Manager) onStopConfirmed(positionID, orderID string, price decimal.Decimal) {
	mgr.mu.Lock()
	t, ok := mgr.positions[positionID]
	if !ok {
		mgr.mu.Unlock()
		return
	}
	t.pos.StopOrderID = orderID
	t.pos.StopPrice = price
	t.pos.UpdatedAt = time.Now()
	snapshot := *t.pos
	mgr.mu.Unlock()
	if err := mgr.savePosition(snapshot); err != nil {
		log.Error().Err(err).Str("position", positionID).Msg("failed to persist confirmed stop")
	}
}

func (mgr *Manager) onCritical(positionID string, err error) {
	mgr.mu.Lock()
	t, ok := mgr.positions[positionID]
	if ok {
		delete(mgr.positions, positionID)
	}
	mgr.mu.Unlock()
	if !ok {
		return
	}
	t.pos.Status = StatusClosed
	t.pos.ExitReason = ExitEmergencyClose
	t.pos.ClosedAt = time.Now()
	if saveErr := mgr.savePosition(*t.pos); saveErr != nil {
		log.Error().Err(saveErr).Str("position", positionID).Msg("failed to persist emergency-closed position")
	}
	if mgr.metrics != nil {
		mgr.metrics.ActivePositions().Add(-1)
		mgr.metrics.PositionsClosed().Inc()
		mgr.metrics.StopReplaceCritical().Inc()
	}
	log.Error().Err(err).Str("position", positionID).Msg("position emergency-closed after stop-replace exhausted retries")
}

// Close cancels a position's protective stop and issues a reduce-only market
// close, used for manual exits and take-profit hits. If either exchange call
// fails it durably enqueues the close for retry rather than losing it.
func (mgr *Manager) Close(ctx context.Context, positionID string, reason ExitReason) error {
	mgr.mu.Lock()
	t, ok := mgr.positions[positionID]
	if ok {
		delete(mgr.positions, positionID)
	}
	mgr.mu.Unlock()
	if !ok {
		return xerr.New(xerr.InvalidInput, "unknown position id")
	}

	var closeErr error
	if t.pos.StopOrderID != "" {
		closeErr = mgr.ex.CancelOrder(ctx, t.pos.StopOrderID)
	}
	if closeErr == nil {
		closeErr = mgr.ex.MarketCloseReduceOnly(ctx, t.pos.Symbol, t.pos.Side, t.pos.Quantity)
	}

	if closeErr != nil && mgr.retry != nil {
		if _, enqErr := mgr.retry.Enqueue(OperationClosePosition, closePayload{
			PositionID: positionID,
			Symbol:     t.pos.Symbol,
			Side:       t.pos.Side,
			Quantity:   t.pos.Quantity,
			OrderID:    t.pos.StopOrderID,
		}); enqErr != nil {
			log.Error().Err(enqErr).Str("position", positionID).Msg("failed to enqueue close retry")
		}
	}

	t.pos.Status = StatusClosed
	t.pos.ExitReason = reason
	t.pos.ClosedAt = time.Now()
	if err := mgr.savePosition(*t.pos); err != nil {
		log.Error().Err(err).Str("position", positionID).Msg("failed to persist closed position")
	}
	if mgr.metrics != nil {
		mgr.metrics.ActivePositions().Add(-1)
		mgr.metrics.PositionsClosed().Inc()
	}
	return closeErr
}

// HandleFill records a stop-loss or take-profit fill reported by the
// exchange (via event stream or reconciliation): it cancels whichever
// protective order did not fill, computes realized PnL net of entry and
// exit fees, and marks the position closed. Unlike Close, no market order is
// submitted — the position is already flat on the exchange.
func (mgr *Manager) HandleFill(ctx context.Context, positionID, filledOrderID string, fillPrice decimal.Decimal) error {
	mgr.mu.Lock()
	t, ok := mgr.positions[positionID]
	if ok {
		delete(mgr.positions, positionID)
	}
	mgr.mu.Unlock()
	if !ok {
		return xerr.New(xerr.InvalidInput, "unknown position id")
	}

	reason := ExitStopFilled
	otherOrderID := t.pos.TakeProfitOrderID
	if filledOrderID != "" && filledOrderID == t.pos.TakeProfitOrderID {
		reason = ExitTakeProfit
		otherOrderID = t.pos.StopOrderID
	}
	if otherOrderID != "" {
		if err := mgr.ex.CancelOrder(ctx, otherOrderID); err != nil {
			log.Warn().Err(err).Str("position", positionID).Msg("failed to cancel surviving protective order after fill")
		}
	}

	var priceDiff decimal.Decimal
	if t.pos.Side == money.Long {
		priceDiff = fillPrice.Sub(t.pos.EntryPrice)
	} else {
		priceDiff = t.pos.EntryPrice.Sub(fillPrice)
	}
	grossPnL, err := money.CalculateUnrealizedPnL(priceDiff, t.pos.Quantity, t.pos.Multiplier)
	if err != nil {
		return err
	}
	entryNotional := t.pos.EntryPrice.Mul(t.pos.Quantity).Mul(t.pos.Multiplier)
	exitNotional := fillPrice.Mul(t.pos.Quantity).Mul(t.pos.Multiplier)
	fees := entryNotional.Mul(t.pos.EntryFee).Add(exitNotional.Mul(t.pos.ExitFee))

	t.pos.Status = StatusClosed
	t.pos.ExitReason = reason
	t.pos.RealizedPnL = grossPnL.Sub(fees)
	t.pos.ClosedAt = time.Now()
	if err := mgr.savePosition(*t.pos); err != nil {
		log.Error().Err(err).Str("position", positionID).Msg("failed to persist fill-closed position")
	}
	mgr.recordRealized(t.pos.RealizedPnL)
	if mgr.metrics != nil {
		mgr.metrics.ActivePositions().Add(-1)
		mgr.metrics.PositionsClosed().Inc()
		realized, _ := t.pos.RealizedPnL.Float64()
		mgr.metrics.RealizedPnLTotal().Add(realized)
	}
	return nil
}

// Get returns a copy of a tracked position's current state.
func (mgr *Manager) Get(positionID string) (Position, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	t, ok := mgr.positions[positionID]
	if !ok {
		return Position{}, false
	}
	return *t.pos, true
}

// Open positions currently tracked, used by the reconciliation loop and
// status endpoints.
func (mgr *Manager) OpenPositions() []Position {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	out := make([]Position, 0, len(mgr.positions))
	for _, t := range mgr.positions {
		out = append(out, *t.pos)
	}
	return out
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Counter, Gauge, and Histogram are narrow interfaces consumers depend on
// instead of concrete Prometheus types, avoiding a circular import between
// internal/metrics and internal/exchange.
type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
	Add(float64)
}

type Histogram interface {
	Observe(float64)
}

// OrderTrackerMetrics is the narrow seam the exchange client's
// order-placement path needs; satisfied by Wrapper.
type OrderTrackerMetrics interface {
	OrderTimeoutsInc()
	OrderRetriesInc()
	OrderExecutionDurationObserve(float64)
}

// Wrapper adapts the concrete *Metrics registry to the narrow interfaces
// individual components depend on.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) OrderTimeoutsInc()                       { w.m.OrderTimeouts.Inc() }
func (w *Wrapper) OrderRetriesInc()                        { w.m.OrderRetries.Inc() }
func (w *Wrapper) OrderExecutionDurationObserve(v float64) { w.m.OrderExecutionDuration.Observe(v) }

func (w *Wrapper) OrdersTotal() Counter            { return countOf(w.m.OrdersTotal) }
func (w *Wrapper) RateLimitEvents() Counter        { return countOf(w.m.RateLimitEvents) }
func (w *Wrapper) RateLimitQuotaExceeded() Counter { return countOf(w.m.RateLimitQuotaExceeded) }
func (w *Wrapper) RetryQueueDeadLetter() Counter   { return countOf(w.m.RetryQueueDeadLetter) }
func (w *Wrapper) CandlesReceived() Counter        { return countOf(w.m.CandlesReceived) }
func (w *Wrapper) CandleGaps() Counter             { return countOf(w.m.CandleGaps) }
func (w *Wrapper) WSReconnects() Counter           { return countOf(w.m.WSReconnects) }
func (w *Wrapper) PositionsOpened() Counter        { return countOf(w.m.PositionsOpened) }
func (w *Wrapper) PositionsClosed() Counter        { return countOf(w.m.PositionsClosed) }
func (w *Wrapper) EntryRejections() Counter        { return countOf(w.m.EntryRejections) }
func (w *Wrapper) StopReplacesTotal() Counter      { return countOf(w.m.StopReplacesTotal) }
func (w *Wrapper) StopReplacesQueued() Counter     { return countOf(w.m.StopReplacesQueued) }
func (w *Wrapper) StopReplaceRetries() Counter     { return countOf(w.m.StopReplaceRetries) }
func (w *Wrapper) StopReplaceCritical() Counter    { return countOf(w.m.StopReplaceCritical) }
func (w *Wrapper) BreakEvenArmedTotal() Counter    { return countOf(w.m.BreakEvenArmedTotal) }
func (w *Wrapper) TrailingAdvanceTotal() Counter   { return countOf(w.m.TrailingAdvanceTotal) }

func (w *Wrapper) RateLimitUtilization() Gauge { return gaugeOf(w.m.RateLimitUtilization) }
func (w *Wrapper) RateLimitTokens() Gauge      { return gaugeOf(w.m.RateLimitTokens) }
func (w *Wrapper) RetryQueueDepth() Gauge      { return gaugeOf(w.m.RetryQueueDepth) }
func (w *Wrapper) ActivePositions() Gauge      { return gaugeOf(w.m.ActivePositions) }
func (w *Wrapper) RealizedPnLTotal() Gauge     { return gaugeOf(w.m.RealizedPnLTotal) }

func (w *Wrapper) StopReplaceDuration() Histogram { return histOf(w.m.StopReplaceDuration) }
func (w *Wrapper) EventLoopLagMs() Histogram      { return histOf(w.m.EventLoopLagMs) }
func (w *Wrapper) MessageJitterMs() Histogram     { return histOf(w.m.MessageJitterMs) }

func countOf(c prometheus.Counter) Counter    { return c }
func gaugeOf(g prometheus.Gauge) Gauge        { return g }
func histOf(h prometheus.Histogram) Histogram { return h }

// Package metrics provides Prometheus metrics collection for the position
// protection engine. It defines and manages the order, position,
// rate-limit, stop-replace, ingest and retry-queue metrics exposed via the
// Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the position protection engine.
type Metrics struct {
	// Position lifecycle
	PositionsOpened  prometheus.Counter // Total positions entered
	PositionsClosed  prometheus.Counter // Total positions closed (any reason)
	ActivePositions  prometheus.Gauge   // Number of currently open positions
	RealizedPnLTotal prometheus.Gauge   // Cumulative realized PnL
	EntryRejections  prometheus.Counter // Entry attempts rejected (margin, validation)

	// Stop-replace coordinator
	StopReplacesTotal    prometheus.Counter   // Total Replace() calls accepted
	StopReplacesQueued   prometheus.Counter   // Replace() calls that were queued (superseded)
	StopReplaceRetries   prometheus.Counter   // Stop placement retry attempts
	StopReplaceCritical  prometheus.Counter   // Times the coordinator reached Critical
	StopReplaceDuration  prometheus.Histogram // Wall time from Replace() to terminal state
	BreakEvenArmedTotal  prometheus.Counter   // Times a position armed break-even
	TrailingAdvanceTotal prometheus.Counter   // Times the staircase trailing stop advanced

	// Rate-limit budget
	RateLimitEvents        prometheus.Counter // 429 responses observed
	RateLimitUtilization   prometheus.Gauge   // Current utilization_target
	RateLimitTokens        prometheus.Gauge   // Tokens currently available
	RateLimitQuotaExceeded prometheus.Counter // Acquire() calls that returned QuotaExhausted

	// Market-data ingest
	WSReconnects    prometheus.Counter   // Total WebSocket reconnections
	CandlesReceived prometheus.Counter   // Total closed candles received
	CandleGaps      prometheus.Counter   // Gaps detected between consecutive candles
	EventLoopLagMs  prometheus.Histogram // Observed event-loop lag in milliseconds
	MessageJitterMs prometheus.Histogram // Inter-message arrival jitter in milliseconds

	// Order execution
	OrdersTotal            prometheus.Counter   // Total number of orders placed
	OrderTimeouts          prometheus.Counter   // Number of order execution timeouts
	OrderRetries           prometheus.Counter   // Number of order placement retries
	OrderExecutionDuration prometheus.Histogram // Duration of order execution attempts

	// Retry queue
	RetryQueueDepth      prometheus.Gauge   // Entries currently pending in the retry queue
	RetryQueueDeadLetter prometheus.Counter // Entries moved to the dead-letter list
}

// New creates and registers all metrics against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PositionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_positions_opened_total",
			Help: "Total number of positions entered.",
		}),
		PositionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_positions_closed_total",
			Help: "Total number of positions closed, any reason.",
		}),
		ActivePositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "positionguard_active_positions",
			Help: "Number of currently open positions.",
		}),
		RealizedPnLTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "positionguard_realized_pnl_total",
			Help: "Cumulative realized PnL across all closed positions.",
		}),
		EntryRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_entry_rejections_total",
			Help: "Entry attempts rejected by margin check or order validation.",
		}),
		StopReplacesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_stop_replaces_total",
			Help: "Total accepted stop-replace requests.",
		}),
		StopReplacesQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_stop_replaces_queued_total",
			Help: "Stop-replace requests that superseded an in-flight one.",
		}),
		StopReplaceRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_stop_replace_retries_total",
			Help: "Stop placement retry attempts.",
		}),
		StopReplaceCritical: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_stop_replace_critical_total",
			Help: "Times the stop-replace coordinator reached the Critical state.",
		}),
		StopReplaceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "positionguard_stop_replace_duration_seconds",
			Help:    "Wall time from Replace() call to terminal state.",
			Buckets: prometheus.DefBuckets,
		}),
		BreakEvenArmedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_break_even_armed_total",
			Help: "Times a position armed its break-even stop.",
		}),
		TrailingAdvanceTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_trailing_advance_total",
			Help: "Times the staircase trailing stop advanced.",
		}),
		RateLimitEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_rate_limit_events_total",
			Help: "429 rate-limit responses observed from the exchange.",
		}),
		RateLimitUtilization: factory.NewGauge(prometheus.GaugeOpts{
			Name: "positionguard_rate_limit_utilization_target",
			Help: "Current adaptive utilization_target fraction.",
		}),
		RateLimitTokens: factory.NewGauge(prometheus.GaugeOpts{
			Name: "positionguard_rate_limit_tokens_available",
			Help: "Tokens currently available in the rate-limit bucket.",
		}),
		RateLimitQuotaExceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_rate_limit_quota_exceeded_total",
			Help: "Acquire() calls that failed with QuotaExhausted.",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_ws_reconnects_total",
			Help: "Total number of WebSocket reconnections.",
		}),
		CandlesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_candles_received_total",
			Help: "Total number of closed candles received.",
		}),
		CandleGaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_candle_gaps_total",
			Help: "Gaps detected between consecutive candle timestamps.",
		}),
		EventLoopLagMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "positionguard_event_loop_lag_ms",
			Help:    "Observed event-loop lag in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		MessageJitterMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "positionguard_message_jitter_ms",
			Help:    "Inter-message arrival jitter in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		OrdersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_orders_total",
			Help: "Total number of orders placed.",
		}),
		OrderTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_order_timeouts_total",
			Help: "Number of order execution timeouts.",
		}),
		OrderRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_order_retries_total",
			Help: "Number of order placement retries.",
		}),
		OrderExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "positionguard_order_execution_duration_seconds",
			Help:    "Duration of order execution attempts.",
			Buckets: prometheus.DefBuckets,
		}),
		RetryQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "positionguard_retry_queue_depth",
			Help: "Entries currently pending in the retry queue.",
		}),
		RetryQueueDeadLetter: factory.NewCounter(prometheus.CounterOpts{
			Name: "positionguard_retry_queue_dead_letter_total",
			Help: "Entries moved to the dead-letter list after exhausting retries.",
		}),
	}
}

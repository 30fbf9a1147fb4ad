// Package common centralizes environment-variable keys, defaults, and
// validation bounds shared by internal/cfg and the exchange client.
package common

// Environment variable keys
const (
	EnvAPIKey           = "EXCHANGE_API_KEY"
	EnvSecretKey        = "EXCHANGE_SECRET_KEY"
	EnvForceLiveTrading = "FORCE_LIVE_TRADING"
	EnvDemoMode         = "DEMO_MODE"
	EnvSymbols          = "SYMBOLS"
	EnvBaseURL          = "BASE_URL"
	EnvWsURL            = "WS_URL"
	EnvDataPath         = "DATA_PATH"
	EnvMetricsPort      = "METRICS_PORT"
	EnvLeverage         = "DEFAULT_LEVERAGE"
	EnvRESTTimeoutMs    = "REQUEST_TIMEOUT_MS"
	EnvPingInterval     = "PING_INTERVAL_SECONDS"
)

// Configuration defaults
const (
	DefaultBaseURL      = "https://api.exchange.example/v1"
	DefaultWsURL        = "wss://stream.exchange.example/public"
	DefaultMetricsPort  = 8090
	DefaultMarginMode   = "ISOLATED"
	DefaultPingInterval = 18 // seconds

	DefaultInitialSLROI          = 0.5
	DefaultInitialTPROI          = 2.0
	DefaultBreakEvenBuffer       = 0.1
	DefaultTrailingStepPercent   = 0.15
	DefaultTrailingMovePercent   = 0.05
	DefaultTrailingMode          = "staircase"
	DefaultSlippageBufferPercent = 0.02
	DefaultPositionSizePercent   = 0.5
	DefaultLeverage              = 10
	DefaultMaxPositions          = 5
	DefaultMakerFee              = 0.0002
	DefaultTakerFee              = 0.0006
	DefaultMaintenanceMarginPct  = 0.5
	DefaultEnablePartialTP       = false
	DefaultDailyLossLimitPct     = 5.0
	DefaultMaxDrawdownPct        = 20.0

	DefaultRetryAttempts  = 3
	DefaultRetryDelayMs   = 1000
	DefaultRequestTimeout = 10000

	DefaultQuotaPerWindow         = 2000
	DefaultWindowMs               = 30000
	DefaultUtilizationTargetInit  = 0.70
	DefaultUtilizationTargetFloor = 0.40
	DefaultUtilizationTargetCeil  = 0.70
)

// Validation bounds (inclusive ranges)
const (
	MinInitialSLROI, MaxInitialSLROI                   = 0.01, 100.0
	MinInitialTPROI, MaxInitialTPROI                   = 0.01, 100.0
	MinBreakEvenBuffer, MaxBreakEvenBuffer             = 0.0, 10.0
	MinTrailingStepPercent, MaxTrailingStepPercent     = 0.0, 100.0
	MinTrailingMovePercent, MaxTrailingMovePercent     = 0.0, 100.0
	MinSlippageBufferPercent, MaxSlippageBufferPercent = 0.0, 5.0
	MinPositionSizePercent, MaxPositionSizePercent     = 0.01, 100.0
	MinLeverage, MaxLeverage                           = 1, 125
	MinMaxPositions, MaxMaxPositions                   = 1, 100
	MinFeeRate, MaxFeeRate                             = 0.0, 0.1
	MinMaintenanceMarginPct, MaxMaintenanceMarginPct   = 0.0, 10.0
	MinDailyLossLimitPct, MaxDailyLossLimitPct         = 0.0, 100.0
	MinDrawdownLimitPct, MaxDrawdownLimitPct           = 0.0, 100.0

	MinRetryAttempts, MaxRetryAttempts       = 0, 10
	MinRetryDelayMs, MaxRetryDelayMs         = 0, 60000
	MinRequestTimeoutMs, MaxRequestTimeoutMs = 100, 60000

	MinMetricsPort, MaxMetricsPort = 1024, 65535
)

var validTrailingModes = map[string]bool{"staircase": true, "atr": true, "dynamic": true}

// IsValidTrailingMode reports whether mode is a recognized trailing_mode enum value.
func IsValidTrailingMode(mode string) bool { return validTrailingModes[mode] }

// Error message constants used across cfg validation.
const (
	ErrMsgAPIKeyRequired           = "API key and secret are required"
	ErrMsgBaseURLRequired          = "baseURL is required"
	ErrMsgWsURLRequired            = "wsURL is required"
	ErrMsgSymbolRequired           = "at least one trading symbol is required"
	ErrMsgForceLiveTradingRequired = "live trading requires FORCE_LIVE_TRADING=true environment variable"
)

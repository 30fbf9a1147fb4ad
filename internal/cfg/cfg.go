// Package cfg provides configuration management for the position protection
// engine. It supports loading configuration from a YAML file with
// environment-variable overrides, validates every field against its own
// bounds, and aggregates ALL validation errors from a single pass rather
// than failing on the first one.
package cfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"positionguard/internal/common"
	"positionguard/internal/ratelimit"
	"positionguard/internal/signal"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Trading holds the trading-parameter section of the schema.
type Trading struct {
	InitialSLROI             float64 `yaml:"initialSlRoi"`
	InitialTPROI             float64 `yaml:"initialTpRoi"`
	BreakEvenBuffer          float64 `yaml:"breakEvenBuffer"`
	TrailingStepPercent      float64 `yaml:"trailingStepPercent"`
	TrailingMovePercent      float64 `yaml:"trailingMovePercent"`
	TrailingMode             string  `yaml:"trailingMode"`
	SlippageBufferPercent    float64 `yaml:"slippageBufferPercent"`
	PositionSizePercent      float64 `yaml:"positionSizePercent"`
	DefaultLeverage          int     `yaml:"defaultLeverage"`
	MaxPositions             int     `yaml:"maxPositions"`
	MakerFee                 float64 `yaml:"makerFee"`
	TakerFee                 float64 `yaml:"takerFee"`
	MaintenanceMarginPercent float64 `yaml:"maintenanceMarginPercent"`
	EnablePartialTP          bool    `yaml:"enablePartialTp"`

	// DailyLossLimitPercent and MaxDrawdownPercent drive the position
	// manager's circuit breakers; zero disables the corresponding check.
	DailyLossLimitPercent float64 `yaml:"dailyLossLimitPercent"`
	MaxDrawdownPercent    float64 `yaml:"maxDrawdownPercent"`
}

// API holds the REST client tuning section.
type API struct {
	RetryAttempts    int `yaml:"retryAttempts"`
	RetryDelayMs     int `yaml:"retryDelayMs"`
	RequestTimeoutMs int `yaml:"requestTimeoutMs"`
}

// RateLimiter holds the Adaptive Rate-Limit Budget's starting parameters.
type RateLimiter struct {
	QuotaPerWindow           int     `yaml:"quotaPerWindow"`
	WindowMs                 int     `yaml:"windowMs"`
	UtilizationTargetInitial float64 `yaml:"utilizationTargetInitial"`
	UtilizationTargetFloor   float64 `yaml:"utilizationTargetFloor"`
}

// System holds process-environment and symbol settings outside the trading
// math proper.
type System struct {
	Symbols      []string `yaml:"symbols"`
	BaseURL      string   `yaml:"baseURL"`
	WsURL        string   `yaml:"wsURL"`
	DataPath     string   `yaml:"dataPath"`
	MetricsPort  int      `yaml:"metricsPort"`
	PingInterval int      `yaml:"pingIntervalSeconds"`
	DemoMode     bool     `yaml:"demoMode"`
}

// Settings is the full validated configuration tree.
type Settings struct {
	Key    string
	Secret string

	Trading     Trading     `yaml:"trading"`
	API         API         `yaml:"api"`
	RateLimiter RateLimiter `yaml:"rateLimiter"`
	System      System      `yaml:"system"`

	// SignalProfiles is the set of named weight profiles a signal.Generator
	// may be switched between at runtime. ActiveProfile selects
	// which one Load() resolves as the startup default.
	SignalProfiles map[string]ProfileConfig `yaml:"signalProfiles"`
	ActiveProfile  string                   `yaml:"activeProfile"`
}

// ProfileConfig mirrors signal.Profile in a YAML-friendly shape.
type ProfileConfig struct {
	Indicators map[string]signal.IndicatorWeight `yaml:"indicators"`
	Thresholds signal.Thresholds                 `yaml:"thresholds"`
}

func (p ProfileConfig) toProfile(name string) *signal.Profile {
	return &signal.Profile{Name: name, Indicators: p.Indicators, Thresholds: p.Thresholds}
}

// ActiveSignalProfile resolves the configured ActiveProfile into a
// signal.Profile, falling back to signal.DefaultProfile if unset or unknown.
func (s Settings) ActiveSignalProfile() *signal.Profile {
	if pc, ok := s.SignalProfiles[s.ActiveProfile]; ok {
		return pc.toProfile(s.ActiveProfile)
	}
	return signal.DefaultProfile()
}

// RequestTimeout returns API.RequestTimeoutMs as a time.Duration.
func (s Settings) RequestTimeout() time.Duration {
	return time.Duration(s.API.RequestTimeoutMs) * time.Millisecond
}

// RetryDelay returns API.RetryDelayMs as a time.Duration.
func (s Settings) RetryDelay() time.Duration {
	return time.Duration(s.API.RetryDelayMs) * time.Millisecond
}

// WindowDuration returns RateLimiter.WindowMs as a time.Duration.
func (s Settings) WindowDuration() time.Duration {
	return time.Duration(s.RateLimiter.WindowMs) * time.Millisecond
}

// RateLimitConfig builds a ratelimit.Config from the configured schema
// fields, taking ratelimit.DefaultConfig()'s shrink/recovery tunables for
// the algorithm parameters the schema does not expose.
func (s Settings) RateLimitConfig() ratelimit.Config {
	c := ratelimit.DefaultConfig()
	c.QuotaPerWindow = s.RateLimiter.QuotaPerWindow
	c.WindowDuration = s.WindowDuration()
	c.UtilizationTargetInitial = s.RateLimiter.UtilizationTargetInitial
	c.UtilizationTargetFloor = s.RateLimiter.UtilizationTargetFloor
	return c
}

func defaults() Settings {
	return Settings{
		Trading: Trading{
			InitialSLROI:             common.DefaultInitialSLROI,
			InitialTPROI:             common.DefaultInitialTPROI,
			BreakEvenBuffer:          common.DefaultBreakEvenBuffer,
			TrailingStepPercent:      common.DefaultTrailingStepPercent,
			TrailingMovePercent:      common.DefaultTrailingMovePercent,
			TrailingMode:             common.DefaultTrailingMode,
			SlippageBufferPercent:    common.DefaultSlippageBufferPercent,
			PositionSizePercent:      common.DefaultPositionSizePercent,
			DefaultLeverage:          common.DefaultLeverage,
			MaxPositions:             common.DefaultMaxPositions,
			MakerFee:                 common.DefaultMakerFee,
			TakerFee:                 common.DefaultTakerFee,
			MaintenanceMarginPercent: common.DefaultMaintenanceMarginPct,
			EnablePartialTP:          common.DefaultEnablePartialTP,
			DailyLossLimitPercent:    common.DefaultDailyLossLimitPct,
			MaxDrawdownPercent:       common.DefaultMaxDrawdownPct,
		},
		API: API{
			RetryAttempts:    common.DefaultRetryAttempts,
			RetryDelayMs:     common.DefaultRetryDelayMs,
			RequestTimeoutMs: common.DefaultRequestTimeout,
		},
		RateLimiter: RateLimiter{
			QuotaPerWindow:           common.DefaultQuotaPerWindow,
			WindowMs:                 common.DefaultWindowMs,
			UtilizationTargetInitial: common.DefaultUtilizationTargetInit,
			UtilizationTargetFloor:   common.DefaultUtilizationTargetFloor,
		},
		System: System{
			BaseURL:      common.DefaultBaseURL,
			WsURL:        common.DefaultWsURL,
			MetricsPort:  common.DefaultMetricsPort,
			PingInterval: common.DefaultPingInterval,
		},
		ActiveProfile: "default",
	}
}

// Load loads configuration from CONFIG_FILE (YAML) if set, else builds
// defaults from environment variables only, applies environment overrides on
// top of either source, and validates the result.
func Load() (Settings, error) {
	_ = godotenv.Load()

	settings := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&settings)

	if err := Validate(settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func applyEnvOverrides(s *Settings) {
	s.Key = getEnvOrDefault(common.EnvAPIKey, s.Key)
	s.Secret = getEnvOrDefault(common.EnvSecretKey, s.Secret)
	s.System.BaseURL = getEnvOrDefault(common.EnvBaseURL, s.System.BaseURL)
	s.System.WsURL = getEnvOrDefault(common.EnvWsURL, s.System.WsURL)
	s.System.DataPath = getEnvOrDefault(common.EnvDataPath, s.System.DataPath)
	s.System.MetricsPort = getIntOrDefault(common.EnvMetricsPort, s.System.MetricsPort)
	s.System.PingInterval = getIntOrDefault(common.EnvPingInterval, s.System.PingInterval)
	s.System.DemoMode = getBoolOrDefault(common.EnvDemoMode, s.System.DemoMode)
	if env := os.Getenv(common.EnvSymbols); env != "" {
		s.System.Symbols = strings.Split(env, ",")
	}
	s.Trading.DefaultLeverage = getIntOrDefault(common.EnvLeverage, s.Trading.DefaultLeverage)
	s.API.RequestTimeoutMs = getIntOrDefault(common.EnvRESTTimeoutMs, s.API.RequestTimeoutMs)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Validate runs every bounds check in the schema and returns a single error
// joining all violations found (errors.Join), never stopping at the first
// one.
func Validate(s Settings) error {
	var errs []error
	check := func(cond bool, msg string, args ...any) {
		if !cond {
			errs = append(errs, fmt.Errorf(msg, args...))
		}
	}

	if !s.System.DemoMode {
		check(s.Key != "" && s.Secret != "", "%s", common.ErrMsgAPIKeyRequired)
		check(os.Getenv(common.EnvForceLiveTrading) == "true", "%s", common.ErrMsgForceLiveTradingRequired)
	}
	check(s.System.BaseURL != "", "%s", common.ErrMsgBaseURLRequired)
	check(s.System.WsURL != "", "%s", common.ErrMsgWsURLRequired)
	check(len(s.System.Symbols) > 0 || s.System.DemoMode, "%s", common.ErrMsgSymbolRequired)
	check(s.System.MetricsPort >= common.MinMetricsPort && s.System.MetricsPort <= common.MaxMetricsPort,
		"metricsPort must be between %d and %d", common.MinMetricsPort, common.MaxMetricsPort)

	t := s.Trading
	check(t.InitialSLROI >= common.MinInitialSLROI && t.InitialSLROI <= common.MaxInitialSLROI,
		"trading.initialSlRoi must be between %g and %g", common.MinInitialSLROI, common.MaxInitialSLROI)
	check(t.InitialTPROI >= common.MinInitialTPROI && t.InitialTPROI <= common.MaxInitialTPROI,
		"trading.initialTpRoi must be between %g and %g", common.MinInitialTPROI, common.MaxInitialTPROI)
	check(t.BreakEvenBuffer >= common.MinBreakEvenBuffer && t.BreakEvenBuffer <= common.MaxBreakEvenBuffer,
		"trading.breakEvenBuffer must be between %g and %g", common.MinBreakEvenBuffer, common.MaxBreakEvenBuffer)
	check(t.TrailingStepPercent > common.MinTrailingStepPercent && t.TrailingStepPercent < common.MaxTrailingStepPercent,
		"trading.trailingStepPercent must be > %g and < %g", common.MinTrailingStepPercent, common.MaxTrailingStepPercent)
	check(t.TrailingMovePercent > common.MinTrailingMovePercent && t.TrailingMovePercent < common.MaxTrailingMovePercent,
		"trading.trailingMovePercent must be > %g and < %g", common.MinTrailingMovePercent, common.MaxTrailingMovePercent)
	check(common.IsValidTrailingMode(t.TrailingMode), "trading.trailingMode must be one of staircase, atr, dynamic")
	check(t.SlippageBufferPercent >= common.MinSlippageBufferPercent && t.SlippageBufferPercent <= common.MaxSlippageBufferPercent,
		"trading.slippageBufferPercent must be between %g and %g", common.MinSlippageBufferPercent, common.MaxSlippageBufferPercent)
	check(t.PositionSizePercent >= common.MinPositionSizePercent && t.PositionSizePercent <= common.MaxPositionSizePercent,
		"trading.positionSizePercent must be between %g and %g", common.MinPositionSizePercent, common.MaxPositionSizePercent)
	check(t.DefaultLeverage >= common.MinLeverage && t.DefaultLeverage <= common.MaxLeverage,
		"trading.defaultLeverage must be between %d and %d", common.MinLeverage, common.MaxLeverage)
	check(t.MaxPositions >= common.MinMaxPositions && t.MaxPositions <= common.MaxMaxPositions,
		"trading.maxPositions must be between %d and %d", common.MinMaxPositions, common.MaxMaxPositions)
	check(t.MakerFee >= common.MinFeeRate && t.MakerFee <= common.MaxFeeRate,
		"trading.makerFee must be between %g and %g", common.MinFeeRate, common.MaxFeeRate)
	check(t.TakerFee >= common.MinFeeRate && t.TakerFee <= common.MaxFeeRate,
		"trading.takerFee must be between %g and %g", common.MinFeeRate, common.MaxFeeRate)
	check(t.MaintenanceMarginPercent >= common.MinMaintenanceMarginPct && t.MaintenanceMarginPercent <= common.MaxMaintenanceMarginPct,
		"trading.maintenanceMarginPercent must be between %g and %g", common.MinMaintenanceMarginPct, common.MaxMaintenanceMarginPct)
	check(t.DailyLossLimitPercent >= common.MinDailyLossLimitPct && t.DailyLossLimitPercent <= common.MaxDailyLossLimitPct,
		"trading.dailyLossLimitPercent must be between %g and %g", common.MinDailyLossLimitPct, common.MaxDailyLossLimitPct)
	check(t.MaxDrawdownPercent >= common.MinDrawdownLimitPct && t.MaxDrawdownPercent <= common.MaxDrawdownLimitPct,
		"trading.maxDrawdownPercent must be between %g and %g", common.MinDrawdownLimitPct, common.MaxDrawdownLimitPct)

	a := s.API
	check(a.RetryAttempts >= common.MinRetryAttempts && a.RetryAttempts <= common.MaxRetryAttempts,
		"api.retryAttempts must be between %d and %d", common.MinRetryAttempts, common.MaxRetryAttempts)
	check(a.RetryDelayMs >= common.MinRetryDelayMs && a.RetryDelayMs <= common.MaxRetryDelayMs,
		"api.retryDelayMs must be between %d and %d", common.MinRetryDelayMs, common.MaxRetryDelayMs)
	check(a.RequestTimeoutMs >= common.MinRequestTimeoutMs && a.RequestTimeoutMs <= common.MaxRequestTimeoutMs,
		"api.requestTimeoutMs must be between %d and %d", common.MinRequestTimeoutMs, common.MaxRequestTimeoutMs)

	rl := s.RateLimiter
	check(rl.QuotaPerWindow > 0, "rateLimiter.quotaPerWindow must be positive")
	check(rl.WindowMs > 0, "rateLimiter.windowMs must be positive")
	check(rl.UtilizationTargetFloor > 0 && rl.UtilizationTargetFloor <= 1,
		"rateLimiter.utilizationTargetFloor must be in (0, 1]")
	check(rl.UtilizationTargetInitial >= rl.UtilizationTargetFloor && rl.UtilizationTargetInitial <= 1,
		"rateLimiter.utilizationTargetInitial must be >= floor and <= 1")

	for name, pc := range s.SignalProfiles {
		if err := pc.toProfile(name).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("signalProfiles[%s]: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// knownFields enumerates every "section.field" path ValidatePartial accepts,
// so a partial update still rejects unknown section or field names.
var knownFields = map[string]bool{
	"trading.initialSlRoi": true, "trading.initialTpRoi": true,
	"trading.breakEvenBuffer": true, "trading.trailingStepPercent": true,
	"trading.trailingMovePercent": true, "trading.trailingMode": true,
	"trading.slippageBufferPercent": true, "trading.positionSizePercent": true,
	"trading.defaultLeverage": true, "trading.maxPositions": true,
	"trading.makerFee": true, "trading.takerFee": true,
	"trading.maintenanceMarginPercent": true, "trading.enablePartialTp": true,
	"trading.dailyLossLimitPercent": true, "trading.maxDrawdownPercent": true,
	"api.retryAttempts": true, "api.retryDelayMs": true, "api.requestTimeoutMs": true,
	"rateLimiter.quotaPerWindow": true, "rateLimiter.windowMs": true,
	"rateLimiter.utilizationTargetInitial": true, "rateLimiter.utilizationTargetFloor": true,
}

// ValidatePartial validates a mutation expressed as "section.field" -> new
// value against the current Settings, without requiring every field to be
// present. It still validates the resulting whole-config state for the
// touched section (so an interaction between two fields in the same section
// can still be caught), and rejects any path not present in knownFields.
func ValidatePartial(current Settings, updates map[string]any) (Settings, error) {
	var errs []error
	next := current
	for path, value := range updates {
		if !knownFields[path] {
			errs = append(errs, fmt.Errorf("unknown configuration field %q", path))
			continue
		}
		if err := applyField(&next, path, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	if len(errs) > 0 {
		return current, errors.Join(errs...)
	}
	if err := Validate(next); err != nil {
		return current, err
	}
	return next, nil
}

func applyField(s *Settings, path string, value any) error {
	asFloat := func() (float64, error) {
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		default:
			return 0, fmt.Errorf("expected numeric value, got %T", value)
		}
	}
	asInt := func() (int, error) {
		switch v := value.(type) {
		case int:
			return v, nil
		case float64:
			return int(v), nil
		default:
			return 0, fmt.Errorf("expected integer value, got %T", value)
		}
	}
	asString := func() (string, error) {
		v, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("expected string value, got %T", value)
		}
		return v, nil
	}
	asBool := func() (bool, error) {
		v, ok := value.(bool)
		if !ok {
			return false, fmt.Errorf("expected boolean value, got %T", value)
		}
		return v, nil
	}

	switch path {
	case "trading.initialSlRoi":
		v, err := asFloat()
		s.Trading.InitialSLROI = v
		return err
	case "trading.initialTpRoi":
		v, err := asFloat()
		s.Trading.InitialTPROI = v
		return err
	case "trading.breakEvenBuffer":
		v, err := asFloat()
		s.Trading.BreakEvenBuffer = v
		return err
	case "trading.trailingStepPercent":
		v, err := asFloat()
		s.Trading.TrailingStepPercent = v
		return err
	case "trading.trailingMovePercent":
		v, err := asFloat()
		s.Trading.TrailingMovePercent = v
		return err
	case "trading.trailingMode":
		v, err := asString()
		s.Trading.TrailingMode = v
		return err
	case "trading.slippageBufferPercent":
		v, err := asFloat()
		s.Trading.SlippageBufferPercent = v
		return err
	case "trading.positionSizePercent":
		v, err := asFloat()
		s.Trading.PositionSizePercent = v
		return err
	case "trading.defaultLeverage":
		v, err := asInt()
		s.Trading.DefaultLeverage = v
		return err
	case "trading.maxPositions":
		v, err := asInt()
		s.Trading.MaxPositions = v
		return err
	case "trading.makerFee":
		v, err := asFloat()
		s.Trading.MakerFee = v
		return err
	case "trading.takerFee":
		v, err := asFloat()
		s.Trading.TakerFee = v
		return err
	case "trading.maintenanceMarginPercent":
		v, err := asFloat()
		s.Trading.MaintenanceMarginPercent = v
		return err
	case "trading.enablePartialTp":
		v, err := asBool()
		s.Trading.EnablePartialTP = v
		return err
	case "trading.dailyLossLimitPercent":
		v, err := asFloat()
		s.Trading.DailyLossLimitPercent = v
		return err
	case "trading.maxDrawdownPercent":
		v, err := asFloat()
		s.Trading.MaxDrawdownPercent = v
		return err
	case "api.retryAttempts":
		v, err := asInt()
		s.API.RetryAttempts = v
		return err
	case "api.retryDelayMs":
		v, err := asInt()
		s.API.RetryDelayMs = v
		return err
	case "api.requestTimeoutMs":
		v, err := asInt()
		s.API.RequestTimeoutMs = v
		return err
	case "rateLimiter.quotaPerWindow":
		v, err := asInt()
		s.RateLimiter.QuotaPerWindow = v
		return err
	case "rateLimiter.windowMs":
		v, err := asInt()
		s.RateLimiter.WindowMs = v
		return err
	case "rateLimiter.utilizationTargetInitial":
		v, err := asFloat()
		s.RateLimiter.UtilizationTargetInitial = v
		return err
	case "rateLimiter.utilizationTargetFloor":
		v, err := asFloat()
		s.RateLimiter.UtilizationTargetFloor = v
		return err
	default:
		return fmt.Errorf("unhandled field")
	}
}

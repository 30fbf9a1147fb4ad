// Package signal implements the weighted composite signal generator: it
// turns a set of indicator readings into a signed score and a discrete
// signal class using a configurable, hot-swappable weight profile.
package signal

import "fmt"

// IndicatorWeight is one indicator's contribution rule: its point ceiling
// and the oversold/overbought readings that map to +max/-max.
type IndicatorWeight struct {
	Max        float64
	Oversold   float64
	Overbought float64
}

// Thresholds maps a composite score onto one of five signal classes. Must be
// strictly ordered: StrongBuy > Buy > BuyWeak > 0 > SellWeak > Sell > StrongSell.
type Thresholds struct {
	StrongBuy  float64
	Buy        float64
	BuyWeak    float64
	SellWeak   float64
	Sell       float64
	StrongSell float64
}

// Validate checks the strict ordering invariant.
func (t Thresholds) Validate() error {
	vals := []float64{t.StrongBuy, t.Buy, t.BuyWeak, 0, t.SellWeak, t.Sell, t.StrongSell}
	for i := 1; i < len(vals); i++ {
		if !(vals[i-1] > vals[i]) {
			return fmt.Errorf("signal thresholds must be strictly ordered strongBuy > buy > buyWeak > 0 > sellWeak > sell > strongSell")
		}
	}
	return nil
}

// Profile is a named, complete weight configuration.
type Profile struct {
	Name       string
	Indicators map[string]IndicatorWeight
	Thresholds Thresholds
}

// Validate checks threshold ordering and that at least one indicator weight is configured.
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("nil profile")
	}
	if len(p.Indicators) == 0 {
		return fmt.Errorf("profile %q: at least one indicator weight required", p.Name)
	}
	return p.Thresholds.Validate()
}

// DefaultProfile is the safe fallback used when a configured profile is
// missing or invalid, logged as a warning by the caller.
func DefaultProfile() *Profile {
	return &Profile{
		Name: "default",
		Indicators: map[string]IndicatorWeight{
			"rsi":        {Max: 25, Oversold: 30, Overbought: 70},
			"macd":       {Max: 20, Oversold: -0.5, Overbought: 0.5},
			"williams_r": {Max: 15, Oversold: -80, Overbought: -20},
			"ao":         {Max: 15, Oversold: -0.5, Overbought: 0.5},
			"kdj_j":      {Max: 15, Oversold: 0, Overbought: 100},
			"obv_slope":  {Max: 5, Oversold: -0.5, Overbought: 0.5},
			"adx":        {Max: 5, Oversold: 20, Overbought: 40},
		},
		Thresholds: Thresholds{
			StrongBuy: 60, Buy: 30, BuyWeak: 10,
			SellWeak: -10, Sell: -30, StrongSell: -60,
		},
	}
}

package signal

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Class is one of the five discrete signal classes a composite score maps to.
type Class string

const (
	StrongBuy  Class = "strong_buy"
	Buy        Class = "buy"
	Neutral    Class = "neutral"
	Sell       Class = "sell"
	StrongSell Class = "strong_sell"
)

// Signal is the result of one Generate call: a composite score, its class,
// and a per-indicator breakdown for observability.
type Signal struct {
	Class       Class
	Score       float64
	Breakdown   map[string]float64
	ProfileName string
}

// Generator holds an atomically swappable Profile, copy-on-write behind an
// atomic.Pointer so a profile reload never tears a Generate call mid-read.
type Generator struct {
	profile atomic.Pointer[Profile]
}

// NewGenerator constructs a Generator with the given starting profile,
// falling back to DefaultProfile (with a logged warning) if it is invalid.
func NewGenerator(p *Profile) *Generator {
	g := &Generator{}
	g.SetProfile(p)
	return g
}

// SetProfile atomically swaps the active profile. An invalid profile is
// rejected in favor of the safe default, with a logged warning, per
// the safe-default-profile fallback requirement.
func (g *Generator) SetProfile(p *Profile) {
	if err := p.Validate(); err != nil {
		log.Warn().Err(err).Msg("signal profile invalid, falling back to default")
		p = DefaultProfile()
	}
	g.profile.Store(p)
}

// ActiveProfile returns the profile a Generate call would currently observe.
func (g *Generator) ActiveProfile() *Profile {
	if p := g.profile.Load(); p != nil {
		return p
	}
	return DefaultProfile()
}

// Generate produces a Signal from a set of named indicator readings
// (e.g. "rsi", "macd", "williams_r", "ao", "kdj_j", "obv_slope", "adx").
// Generation observes exactly one profile for its whole call, even if
// SetProfile races concurrently (the atomic load happens once, up front).
func (g *Generator) Generate(readings map[string]float64) Signal {
	profile := g.ActiveProfile()
	breakdown := make(map[string]float64, len(profile.Indicators))
	score := 0.0
	for name, weight := range profile.Indicators {
		value, ok := readings[name]
		if !ok {
			continue
		}
		contribution := contributionFor(value, weight)
		breakdown[name] = contribution
		score += contribution
	}
	return Signal{
		Class:       classify(score, profile.Thresholds),
		Score:       score,
		Breakdown:   breakdown,
		ProfileName: profile.Name,
	}
}

// contributionFor maps a raw indicator reading to a signed value in
// [-max, max]: at or beyond the oversold extreme it contributes +max
// (bullish), at or beyond the overbought extreme it contributes -max
// (bearish), linearly interpolated at the midpoint between them to 0.
func contributionFor(value float64, w IndicatorWeight) float64 {
	if w.Max == 0 {
		return 0
	}
	switch {
	case value <= w.Oversold:
		return w.Max
	case value >= w.Overbought:
		return -w.Max
	default:
		mid := (w.Oversold + w.Overbought) / 2
		half := (w.Overbought - w.Oversold) / 2
		if half == 0 {
			return 0
		}
		fraction := (value - mid) / half
		contribution := -fraction * w.Max
		if contribution > w.Max {
			contribution = w.Max
		}
		if contribution < -w.Max {
			contribution = -w.Max
		}
		return contribution
	}
}

func classify(score float64, t Thresholds) Class {
	switch {
	case score >= t.StrongBuy:
		return StrongBuy
	case score >= t.Buy:
		return Buy
	case score >= t.BuyWeak:
		return Buy
	case score <= t.StrongSell:
		return StrongSell
	case score <= t.Sell:
		return Sell
	case score <= t.SellWeak:
		return Sell
	default:
		return Neutral
	}
}

package engine

import (
	"time"

	"whaleflow/models"
)

// LiquidityClass buckets underlyings by how actively their options trade.
// Thresholds scale up for deep names and down for thin ones.
type LiquidityClass string

const (
	LiquidityMega  LiquidityClass = "mega"
	LiquidityLarge LiquidityClass = "large"
	LiquidityMid   LiquidityClass = "mid"
	LiquiditySmall LiquidityClass = "small"
)

// DefaultLiquidityClass is applied to any ticker absent from the
// liquidity-class mapping.
const DefaultLiquidityClass = LiquidityMid

// Thresholds is the five-level premium ladder for one
// (moneyness, liquidity) combination, in dollars, strictly increasing.
type Thresholds struct {
	Notable     float64
	Unusual     float64
	Whale       float64
	StrongWhale float64
	Headline    float64
}

// Config holds the immutable classification parameters. Construct one per
// market regime; the zero value is not usable, start from DefaultConfig.
type Config struct {
	// Thresholds maps moneyness class to its base ladder.
	Thresholds map[models.ITMStatus]Thresholds
	// LiquidityClasses maps underlying ticker to liquidity class; unmapped
	// tickers resolve to DefaultLiquidityClass.
	LiquidityClasses map[string]LiquidityClass
	// Multipliers scales the base ladder per liquidity class.
	Multipliers map[LiquidityClass]float64
	// SweepWindow is the maximum distance from a cluster's first trade to
	// any later trade in the same cluster.
	SweepWindow time.Duration
	// SweepMinLegs is the minimum cluster size that qualifies as a sweep.
	SweepMinLegs int
	// MoneynessBoundary is the percent magnitude beyond which a contract
	// counts as ITM or OTM instead of ATM.
	MoneynessBoundary float64
}

// DefaultConfig returns the stock parameter set: ladders rising from OTM to
// ITM, the standard large-cap ticker classes, and the 60s/3-leg sweep rule.
func DefaultConfig() Config {
	return Config{
		Thresholds: map[models.ITMStatus]Thresholds{
			models.OTM: {Notable: 10_000, Unusual: 50_000, Whale: 100_000, StrongWhale: 250_000, Headline: 1_000_000},
			models.ATM: {Notable: 15_000, Unusual: 75_000, Whale: 150_000, StrongWhale: 400_000, Headline: 1_500_000},
			models.ITM: {Notable: 25_000, Unusual: 100_000, Whale: 250_000, StrongWhale: 600_000, Headline: 2_000_000},
		},
		LiquidityClasses: map[string]LiquidityClass{
			"SPY":  LiquidityMega,
			"QQQ":  LiquidityMega,
			"AAPL": LiquidityMega,
			"TSLA": LiquidityMega,
			"NVDA": LiquidityMega,
			"MSFT": LiquidityMega,
			"AMZN": LiquidityMega,
			"META": LiquidityMega,
			"GOOGL": LiquidityMega,
			"AMD":  LiquidityLarge,
			"NFLX": LiquidityLarge,
			"IWM":  LiquidityLarge,
			"COIN": LiquidityLarge,
			"PLTR": LiquidityLarge,
		},
		Multipliers: map[LiquidityClass]float64{
			LiquidityMega:  2.0,
			LiquidityLarge: 1.5,
			LiquidityMid:   1.0,
			LiquiditySmall: 0.5,
		},
		SweepWindow:       60 * time.Second,
		SweepMinLegs:      3,
		MoneynessBoundary: 2.0,
	}
}

// LiquidityClassFor looks up the underlying's liquidity class, falling back
// to DefaultLiquidityClass for unmapped tickers.
func (c Config) LiquidityClassFor(underlying string) LiquidityClass {
	if cls, ok := c.LiquidityClasses[underlying]; ok {
		return cls
	}
	return DefaultLiquidityClass
}

// ResolveThresholds returns the premium ladder for a trade's moneyness class
// and its underlying's liquidity class. An unknown moneyness class resolves
// through the ATM ladder so classification stays total.
func (c Config) ResolveThresholds(itm models.ITMStatus, underlying string) Thresholds {
	base, ok := c.Thresholds[itm]
	if !ok {
		base = c.Thresholds[models.ATM]
	}

	mult, ok := c.Multipliers[c.LiquidityClassFor(underlying)]
	if !ok || mult <= 0 {
		mult = 1.0
	}

	return Thresholds{
		Notable:     base.Notable * mult,
		Unusual:     base.Unusual * mult,
		Whale:       base.Whale * mult,
		StrongWhale: base.StrongWhale * mult,
		Headline:    base.Headline * mult,
	}
}

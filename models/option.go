package models

import (
	"time"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// ITMStatus is the moneyness class of an option contract relative to the
// current underlying price.
type ITMStatus string

const (
	ITM ITMStatus = "ITM"
	ATM ITMStatus = "ATM"
	OTM ITMStatus = "OTM"
)

// Direction is the inferred initiating side of a trade.
type Direction string

const (
	DirectionBuy     Direction = "BUY"
	DirectionSell    Direction = "SELL"
	DirectionNeutral Direction = "NEUTRAL"
	DirectionUnknown Direction = "UNKNOWN"
)

// Tier is the severity class assigned to a trade's premium.
type Tier string

const (
	TierNoise       Tier = "noise"
	TierNotable     Tier = "notable"
	TierUnusual     Tier = "unusual"
	TierWhale       Tier = "whale"
	TierStrongWhale Tier = "strong_whale"
	TierHeadline    Tier = "headline"
)

var tierRanks = map[Tier]int{
	TierNoise:       0,
	TierNotable:     1,
	TierUnusual:     2,
	TierWhale:       3,
	TierStrongWhale: 4,
	TierHeadline:    5,
}

// Rank returns the tier's position in the severity ordering, noise lowest.
func (t Tier) Rank() int {
	return tierRanks[t]
}

// AtLeast reports whether t is the same tier as other or a more severe one.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// Flag is an informational marker attached to an annotated trade,
// independent of its tier.
type Flag string

const (
	// FlagOIWhale marks volume at or above 20% of the open-interest proxy.
	FlagOIWhale Flag = "oi_whale"
	// FlagOIUnusual marks volume at or above 5% of the open-interest proxy.
	FlagOIUnusual Flag = "oi_unusual"
	// FlagExpiryImminent marks contracts expiring today or tomorrow.
	FlagExpiryImminent Flag = "expiry_imminent"
	// FlagExpiryShort marks contracts expiring within a week.
	FlagExpiryShort Flag = "expiry_short"
)

// OptionSymbol is a decoded OCC-style option ticker.
// Expiration is the zero time when the date digits do not form a valid date;
// ExpirationText always retains the raw digits for display.
type OptionSymbol struct {
	Symbol         string
	Underlying     string
	Expiration     time.Time
	ExpirationText string
	Type           OptionType
	Strike         float64
}

// ExpirationLabel returns the expiration formatted as a date, falling back to
// the raw digit string when the date could not be parsed.
func (o OptionSymbol) ExpirationLabel() string {
	if o.Expiration.IsZero() {
		return o.ExpirationText
	}
	return o.Expiration.Format("2006-01-02")
}

// AnnotatedTrade is a trade enriched with the engine's classification output.
// It is a pure function of its inputs and is never mutated after creation.
type AnnotatedTrade struct {
	Trade

	// Option is nil for plain equity trades.
	Option *OptionSymbol

	Premium    float64
	Notional   float64
	StockPrice float64
	DTE        *int
	Moneyness  float64
	ITMStatus  ITMStatus
	Tier       Tier
	Flags      []Flag
	Direction  Direction
	Confidence int
}

// Underlying returns the option's underlying ticker, or the trade symbol
// itself for equity trades.
func (a AnnotatedTrade) Underlying() string {
	if a.Option != nil {
		return a.Option.Underlying
	}
	return a.Symbol
}

// HasFlag reports whether the trade carries the given flag.
func (a AnnotatedTrade) HasFlag(f Flag) bool {
	for _, have := range a.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// Sweep is a cluster of rapid trades on one underlying interpreted as a
// single aggressive order worked across strikes or venues. Read-only once
// produced.
type Sweep struct {
	Underlying     string
	Legs           []AnnotatedTrade
	TotalPremium   float64
	TotalContracts int64
	Strikes        []float64
	Types          []OptionType
	Start          time.Time
	End            time.Time
	Sentiment      Direction
}

// AnnotatedBatch groups annotated trades for one underlying on their way to
// the reporting sinks.
type AnnotatedBatch struct {
	BatchID     string
	Underlying  string
	Trades      []AnnotatedTrade
	RecordCount int
	Timestamp   time.Time
	ProcessedAt time.Time
}

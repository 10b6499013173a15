package engine

import (
	"time"

	"whaleflow/models"
)

// Each option contract represents 100 shares of the underlying.
const contractMultiplier = 100

// AnnotateContext carries the per-trade collaborator data the engine cannot
// derive from the trade itself. Every field is optional; missing data
// degrades the annotation instead of failing it.
type AnnotateContext struct {
	// Option is the decoded contract, nil for plain equity trades.
	Option *models.OptionSymbol
	// StockPrice is the current underlying price, 0 when unavailable.
	StockPrice float64
	// Quote is the latest known bid/ask for the traded symbol.
	Quote *models.Quote
	// VolumeOverOI is session volume divided by the open-interest proxy,
	// nil when no proxy exists for the contract.
	VolumeOverOI *float64
	// Now anchors the days-to-expiration computation.
	Now time.Time
}

// Annotate produces the immutable classification record for one trade:
// premium/notional, moneyness class, severity tier, informational flags, and
// the inferred direction. It is a pure function of its arguments.
func (c Config) Annotate(trade models.Trade, actx AnnotateContext) models.AnnotatedTrade {
	at := models.AnnotatedTrade{
		Trade:      trade,
		Option:     actx.Option,
		StockPrice: actx.StockPrice,
		ITMStatus:  models.ATM,
	}

	if actx.Option != nil {
		at.Premium = trade.Price * float64(trade.Size) * contractMultiplier
		at.Notional = actx.Option.Strike * float64(trade.Size) * contractMultiplier

		if !actx.Option.Expiration.IsZero() {
			days := int(actx.Option.Expiration.Sub(actx.Now).Hours() / 24)
			at.DTE = &days
		}

		if actx.StockPrice > 0 {
			at.Moneyness = Moneyness(actx.Option.Type, actx.Option.Strike, actx.StockPrice)
			at.ITMStatus = c.ITMStatusFor(at.Moneyness)
		}

		at.Tier, at.Flags = c.Classify(at.Premium, at.ITMStatus, actx.Option.Underlying, actx.VolumeOverOI, at.DTE)
	} else {
		// Equity print: the traded dollar value plays the premium's role
		// against the ATM ladder, and notional equals it.
		at.Premium = trade.Price * float64(trade.Size)
		at.Notional = at.Premium
		at.Tier, at.Flags = c.Classify(at.Premium, models.ATM, trade.Symbol, nil, nil)
	}

	if actx.Quote != nil {
		at.Direction, at.Confidence = InferDirection(trade.Price, actx.Quote.Bid, actx.Quote.Ask)
	} else {
		at.Direction, at.Confidence = models.DirectionUnknown, 0
	}

	return at
}

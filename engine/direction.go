package engine

import (
	"math"

	"whaleflow/models"
)

// Band edges for the quote rule: trades landing in the outer 30% of the
// spread lean toward the nearer side, the middle 40% stays neutral.
const (
	askBand = 0.7
	bidBand = 0.3
)

// InferDirection estimates the initiating side of a trade from its price
// relative to the prevailing bid/ask (a simplified Lee-Ready quote rule).
// The quote may be stale relative to the trade; the caller supplies the most
// recent one it knows. Confidence is 0-100. Missing or non-positive quote
// data degrades to UNKNOWN with confidence 0 rather than failing.
func InferDirection(price, bid, ask float64) (models.Direction, int) {
	if bid <= 0 || ask <= 0 {
		return models.DirectionUnknown, 0
	}
	if ask == bid {
		// Locked market.
		return models.DirectionNeutral, 50
	}

	spread := ask - bid
	position := (price - bid) / spread
	if position < 0 {
		position = 0
	} else if position > 1 {
		position = 1
	}

	switch {
	case price >= ask:
		// Buyer lifted the offer.
		return models.DirectionBuy, 95
	case price <= bid:
		// Seller hit the bid.
		return models.DirectionSell, 95
	case position > askBand:
		return models.DirectionBuy, int(math.Round(50 + (position-0.5)*90))
	case position < bidBand:
		return models.DirectionSell, int(math.Round(50 + (0.5-position)*90))
	default:
		return models.DirectionNeutral, 50
	}
}

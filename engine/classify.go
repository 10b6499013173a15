package engine

import (
	"whaleflow/models"
)

// Volume-over-open-interest-proxy levels for the informational OI flags.
const (
	oiWhaleRatio   = 0.20
	oiUnusualRatio = 0.05
)

// Moneyness returns the percent distance in the money for a contract given
// the current underlying price. Positive means in the money for both calls
// and puts. Returns 0 when the stock price is unavailable.
func Moneyness(optType models.OptionType, strike, stockPrice float64) float64 {
	if stockPrice <= 0 {
		return 0
	}
	if optType == models.OptionCall {
		return (stockPrice - strike) / stockPrice * 100
	}
	return (strike - stockPrice) / stockPrice * 100
}

// ITMStatusFor maps a moneyness percentage onto a moneyness class using the
// configured ATM boundary.
func (c Config) ITMStatusFor(moneyness float64) models.ITMStatus {
	switch {
	case moneyness > c.MoneynessBoundary:
		return models.ITM
	case moneyness < -c.MoneynessBoundary:
		return models.OTM
	default:
		return models.ATM
	}
}

// Classify scores a trade's premium against the resolved threshold ladder and
// returns the highest tier met, plus informational flags. volOverOI and dte
// are nil when the open-interest proxy or expiration is unavailable; the
// corresponding flags are simply omitted. Pure and total: identical inputs
// always yield identical output.
func (c Config) Classify(premium float64, itm models.ITMStatus, underlying string, volOverOI *float64, dte *int) (models.Tier, []models.Flag) {
	th := c.ResolveThresholds(itm, underlying)

	tier := models.TierNoise
	switch {
	case premium >= th.Headline:
		tier = models.TierHeadline
	case premium >= th.StrongWhale:
		tier = models.TierStrongWhale
	case premium >= th.Whale:
		tier = models.TierWhale
	case premium >= th.Unusual:
		tier = models.TierUnusual
	case premium >= th.Notable:
		tier = models.TierNotable
	}

	var flags []models.Flag
	if volOverOI != nil {
		switch {
		case *volOverOI >= oiWhaleRatio:
			flags = append(flags, models.FlagOIWhale)
		case *volOverOI >= oiUnusualRatio:
			flags = append(flags, models.FlagOIUnusual)
		}
	}
	if dte != nil {
		switch {
		case *dte <= 1:
			flags = append(flags, models.FlagExpiryImminent)
		case *dte <= 7:
			flags = append(flags, models.FlagExpiryShort)
		}
	}

	return tier, flags
}

package engine

import (
	"testing"

	"whaleflow/models"
)

// MID is not in the default liquidity-class map, so it resolves to the
// default mid class with multiplier 1.0.
const midTicker = "XYZ"

func TestClassifyTierLadder(t *testing.T) {
	cfg := DefaultConfig()

	cases := []struct {
		premium    float64
		itm        models.ITMStatus
		underlying string
		want       models.Tier
	}{
		{5_000, models.OTM, midTicker, models.TierNoise},
		{10_000, models.OTM, midTicker, models.TierNotable},
		{60_000, models.OTM, midTicker, models.TierUnusual},
		{100_000, models.OTM, midTicker, models.TierWhale},
		{300_000, models.OTM, midTicker, models.TierStrongWhale},
		{1_500_000, models.OTM, midTicker, models.TierHeadline},
		// Mega tickers double every threshold: 60k meets notable (20k) but
		// not unusual (100k).
		{60_000, models.OTM, "AAPL", models.TierNotable},
		// ITM ladders sit above OTM ones for the same ticker.
		{60_000, models.ITM, midTicker, models.TierNotable},
	}

	for _, tc := range cases {
		tier, _ := cfg.Classify(tc.premium, tc.itm, tc.underlying, nil, nil)
		if tier != tc.want {
			t.Errorf("classify(%.0f, %s, %s): got %s, want %s", tc.premium, tc.itm, tc.underlying, tier, tc.want)
		}
	}
}

func TestClassifyMonotonicInPremium(t *testing.T) {
	cfg := DefaultConfig()

	prev := models.TierNoise
	for premium := 0.0; premium <= 3_000_000; premium += 2_500 {
		tier, _ := cfg.Classify(premium, models.ATM, "AAPL", nil, nil)
		if tier.Rank() < prev.Rank() {
			t.Fatalf("tier decreased at premium %.0f: %s after %s", premium, tier, prev)
		}
		prev = tier
	}
}

func TestClassifyOIFlags(t *testing.T) {
	cfg := DefaultConfig()

	ratio := 0.25
	_, flags := cfg.Classify(10_000, models.OTM, midTicker, &ratio, nil)
	if len(flags) != 1 || flags[0] != models.FlagOIWhale {
		t.Errorf("expected oi_whale flag, got %v", flags)
	}

	ratio = 0.08
	_, flags = cfg.Classify(10_000, models.OTM, midTicker, &ratio, nil)
	if len(flags) != 1 || flags[0] != models.FlagOIUnusual {
		t.Errorf("expected oi_unusual flag, got %v", flags)
	}

	ratio = 0.01
	_, flags = cfg.Classify(10_000, models.OTM, midTicker, &ratio, nil)
	if len(flags) != 0 {
		t.Errorf("expected no flags below threshold, got %v", flags)
	}

	_, flags = cfg.Classify(10_000, models.OTM, midTicker, nil, nil)
	if len(flags) != 0 {
		t.Errorf("expected no flags without OI proxy, got %v", flags)
	}
}

func TestClassifyExpirationFlags(t *testing.T) {
	cfg := DefaultConfig()

	for dte, want := range map[int]models.Flag{
		0: models.FlagExpiryImminent,
		1: models.FlagExpiryImminent,
		2: models.FlagExpiryShort,
		7: models.FlagExpiryShort,
	} {
		d := dte
		_, flags := cfg.Classify(10_000, models.OTM, midTicker, nil, &d)
		if len(flags) != 1 || flags[0] != want {
			t.Errorf("dte %d: expected %s, got %v", dte, want, flags)
		}
	}

	d := 8
	_, flags := cfg.Classify(10_000, models.OTM, midTicker, nil, &d)
	if len(flags) != 0 {
		t.Errorf("dte 8: expected no flag, got %v", flags)
	}
}

func TestResolveThresholdsUnmappedTickerDefaultsToMid(t *testing.T) {
	cfg := DefaultConfig()

	if cls := cfg.LiquidityClassFor("ZZZZ"); cls != LiquidityMid {
		t.Fatalf("expected default class mid, got %s", cls)
	}

	base := cfg.Thresholds[models.OTM]
	resolved := cfg.ResolveThresholds(models.OTM, "ZZZZ")
	if resolved != base {
		t.Errorf("expected unmapped ticker to use base ladder, got %+v", resolved)
	}
}

func TestResolveThresholdsStrictlyIncreasing(t *testing.T) {
	cfg := DefaultConfig()

	for _, itm := range []models.ITMStatus{models.OTM, models.ATM, models.ITM} {
		for ticker := range map[string]struct{}{"AAPL": {}, "AMD": {}, midTicker: {}} {
			th := cfg.ResolveThresholds(itm, ticker)
			if !(th.Notable < th.Unusual && th.Unusual < th.Whale && th.Whale < th.StrongWhale && th.StrongWhale < th.Headline) {
				t.Errorf("ladder not strictly increasing for %s/%s: %+v", itm, ticker, th)
			}
		}
	}
}

func TestMoneynessSignConvention(t *testing.T) {
	// Positive means in the money for both calls and puts.
	if m := Moneyness(models.OptionCall, 90, 100); m <= 0 {
		t.Errorf("ITM call should have positive moneyness, got %f", m)
	}
	if m := Moneyness(models.OptionCall, 110, 100); m >= 0 {
		t.Errorf("OTM call should have negative moneyness, got %f", m)
	}
	if m := Moneyness(models.OptionPut, 110, 100); m <= 0 {
		t.Errorf("ITM put should have positive moneyness, got %f", m)
	}
	if m := Moneyness(models.OptionPut, 90, 100); m >= 0 {
		t.Errorf("OTM put should have negative moneyness, got %f", m)
	}
	if m := Moneyness(models.OptionCall, 90, 0); m != 0 {
		t.Errorf("missing stock price should yield zero moneyness, got %f", m)
	}
}

func TestITMStatusBoundary(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.ITMStatusFor(2.5); got != models.ITM {
		t.Errorf("expected ITM, got %s", got)
	}
	if got := cfg.ITMStatusFor(-2.5); got != models.OTM {
		t.Errorf("expected OTM, got %s", got)
	}
	for _, m := range []float64{2.0, -2.0, 0, 1.5} {
		if got := cfg.ITMStatusFor(m); got != models.ATM {
			t.Errorf("moneyness %f: expected ATM, got %s", m, got)
		}
	}
}

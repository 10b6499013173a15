package engine

import (
	"reflect"
	"testing"
	"time"

	"whaleflow/models"
)

func TestAnnotateOptionTrade(t *testing.T) {
	cfg := DefaultConfig()
	opt := ParseOptionSymbol("XYZ251219C00100000")
	if opt == nil {
		t.Fatalf("bad test symbol")
	}

	trade := models.Trade{
		Symbol:    "XYZ251219C00100000",
		Price:     5.0,
		Size:      30,
		Timestamp: time.Date(2025, time.December, 12, 15, 0, 0, 0, time.UTC),
	}
	actx := AnnotateContext{
		Option:     opt,
		StockPrice: 90,
		Quote:      &models.Quote{Symbol: trade.Symbol, Bid: 4.9, Ask: 5.0},
		Now:        time.Date(2025, time.December, 12, 0, 0, 0, 0, time.UTC),
	}

	at := cfg.Annotate(trade, actx)

	if at.Premium != 5.0*30*100 {
		t.Errorf("unexpected premium: %f", at.Premium)
	}
	if at.Notional != 100.0*30*100 {
		t.Errorf("unexpected notional: %f", at.Notional)
	}
	if at.ITMStatus != models.OTM {
		t.Errorf("call struck above stock should be OTM, got %s", at.ITMStatus)
	}
	if at.Moneyness >= 0 {
		t.Errorf("expected negative moneyness, got %f", at.Moneyness)
	}
	if at.Tier != models.TierNotable {
		t.Errorf("15k OTM premium on a mid ticker should be notable, got %s", at.Tier)
	}
	if at.DTE == nil || *at.DTE != 7 {
		t.Errorf("unexpected DTE: %v", at.DTE)
	}
	if !at.HasFlag(models.FlagExpiryShort) {
		t.Errorf("expected expiry_short flag, got %v", at.Flags)
	}
	if at.Direction != models.DirectionBuy || at.Confidence != 95 {
		t.Errorf("trade at the ask should be a high-confidence buy, got %s/%d", at.Direction, at.Confidence)
	}
}

func TestAnnotateIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	opt := ParseOptionSymbol("AAPL251219C00275000")
	ratio := 0.25
	trade := models.Trade{
		Symbol:    "AAPL251219C00275000",
		Price:     2.5,
		Size:      40,
		Timestamp: time.Date(2025, time.June, 2, 14, 30, 0, 0, time.UTC),
	}
	actx := AnnotateContext{
		Option:       opt,
		StockPrice:   260,
		Quote:        &models.Quote{Symbol: trade.Symbol, Bid: 2.4, Ask: 2.6},
		VolumeOverOI: &ratio,
		Now:          time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC),
	}

	first := cfg.Annotate(trade, actx)
	second := cfg.Annotate(trade, actx)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("annotation of identical inputs diverged:\n%+v\n%+v", first, second)
	}
}

func TestAnnotateMissingQuote(t *testing.T) {
	cfg := DefaultConfig()
	opt := ParseOptionSymbol("XYZ251219P00050000")
	trade := models.Trade{Symbol: "XYZ251219P00050000", Price: 1.0, Size: 10}

	at := cfg.Annotate(trade, AnnotateContext{Option: opt, StockPrice: 55, Now: time.Now()})
	if at.Direction != models.DirectionUnknown || at.Confidence != 0 {
		t.Errorf("missing quote should degrade to unknown, got %s/%d", at.Direction, at.Confidence)
	}
}

func TestAnnotateMissingStockPrice(t *testing.T) {
	cfg := DefaultConfig()
	opt := ParseOptionSymbol("XYZ251219C00100000")
	trade := models.Trade{Symbol: "XYZ251219C00100000", Price: 1.0, Size: 10}

	at := cfg.Annotate(trade, AnnotateContext{Option: opt, Now: time.Now()})
	if at.ITMStatus != models.ATM {
		t.Errorf("missing stock price should fall back to ATM thresholds, got %s", at.ITMStatus)
	}
	if at.Moneyness != 0 {
		t.Errorf("expected zero moneyness without a stock price, got %f", at.Moneyness)
	}
}

func TestAnnotateUnparsableExpiration(t *testing.T) {
	cfg := DefaultConfig()
	opt := ParseOptionSymbol("TSLA251332C00300000")
	if opt == nil || !opt.Expiration.IsZero() {
		t.Fatalf("fixture should carry a zero expiration")
	}
	trade := models.Trade{Symbol: "TSLA251332C00300000", Price: 1.0, Size: 10}

	at := cfg.Annotate(trade, AnnotateContext{Option: opt, StockPrice: 300, Now: time.Now()})
	if at.DTE != nil {
		t.Errorf("unparsable expiration should leave DTE unset, got %d", *at.DTE)
	}
	if at.HasFlag(models.FlagExpiryImminent) || at.HasFlag(models.FlagExpiryShort) {
		t.Errorf("no expiration flags without a DTE, got %v", at.Flags)
	}
}

func TestAnnotateEquityTrade(t *testing.T) {
	cfg := DefaultConfig()
	trade := models.Trade{
		Symbol:    "AAPL",
		Price:     230,
		Size:      1000,
		Timestamp: time.Date(2025, time.June, 2, 14, 30, 0, 0, time.UTC),
	}
	actx := AnnotateContext{
		Quote: &models.Quote{Symbol: "AAPL", Bid: 229.9, Ask: 230.0},
	}

	at := cfg.Annotate(trade, actx)

	if at.Option != nil {
		t.Fatalf("equity trade must not carry contract details")
	}
	if at.Premium != 230_000 || at.Notional != 230_000 {
		t.Errorf("equity dollar value should be price*size, got %f/%f", at.Premium, at.Notional)
	}
	// Mega-class ATM ladder: 230k clears unusual (150k) but not whale (300k).
	if at.Tier != models.TierUnusual {
		t.Errorf("unexpected tier: %s", at.Tier)
	}
	if at.Direction != models.DirectionBuy || at.Confidence != 95 {
		t.Errorf("trade at the ask should be a high-confidence buy, got %s/%d", at.Direction, at.Confidence)
	}
	if at.DTE != nil || len(at.Flags) != 0 {
		t.Errorf("equity trades carry no contract metadata, got dte=%v flags=%v", at.DTE, at.Flags)
	}
}

package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	appconfig "whaleflow/config"
	"whaleflow/internal/channel"
	"whaleflow/models"
)

func minimalConfig() *appconfig.Config {
	return &appconfig.Config{
		Processor: appconfig.ProcessorConfig{
			MaxWorkers:   1,
			BatchSize:    16,
			BatchTimeout: time.Millisecond,
		},
	}
}

func rawTrade(t *testing.T, symbol string, price float64, size int64, ts time.Time) models.RawTradeMessage {
	t.Helper()
	data, err := json.Marshal(models.AlpacaTrade{
		Timestamp: ts.Format(time.RFC3339Nano),
		Price:     price,
		Size:      size,
		Exchange:  "C",
	})
	if err != nil {
		t.Fatalf("marshal trade: %v", err)
	}
	return models.RawTradeMessage{
		Source:      "alpaca",
		Symbol:      symbol,
		Data:        data,
		Timestamp:   ts,
		MessageType: "trade",
	}
}

func TestAnnotatorStartStop(t *testing.T) {
	cfg := minimalConfig()
	ch := channel.NewChannels(1, 1, 1, 1)
	a := NewAnnotator(cfg, ch)
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}
	cancel()
	a.Stop()
}

func TestAnnotatorBatchesByUnderlying(t *testing.T) {
	cfg := minimalConfig()
	ch := channel.NewChannels(4, 4, 4, 4)
	a := NewAnnotator(cfg, ch)
	a.ctx = context.Background()

	ts := time.Date(2025, time.June, 2, 14, 30, 0, 0, time.UTC)
	if !a.processTrade(rawTrade(t, "AAPL251219C00275000", 2.5, 40, ts)) {
		t.Fatalf("expected trade to process")
	}
	if !a.processTrade(rawTrade(t, "AAPL251219P00270000", 1.5, 10, ts.Add(time.Second))) {
		t.Fatalf("expected trade to process")
	}

	a.mu.RLock()
	batch, ok := a.batches["AAPL"]
	a.mu.RUnlock()
	if !ok {
		t.Fatalf("expected batch keyed by underlying")
	}
	if batch.RecordCount != 2 {
		t.Fatalf("expected 2 trades in batch, got %d", batch.RecordCount)
	}
	if batch.Trades[0].Premium != 2.5*40*100 {
		t.Errorf("unexpected premium: %f", batch.Trades[0].Premium)
	}
	if !batch.Timestamp.Equal(ts.Add(time.Second)) {
		t.Errorf("batch timestamp should track the latest trade, got %v", batch.Timestamp)
	}
}

func TestAnnotatorRejectsMalformedPayload(t *testing.T) {
	cfg := minimalConfig()
	ch := channel.NewChannels(1, 1, 1, 1)
	a := NewAnnotator(cfg, ch)
	a.ctx = context.Background()

	if a.processTrade(models.RawTradeMessage{Symbol: "AAPL", Data: []byte("{broken")}) {
		t.Fatalf("expected malformed payload to be rejected")
	}
	a.mu.RLock()
	errors := a.errorsCount
	a.mu.RUnlock()
	if errors != 1 {
		t.Fatalf("expected one recorded error, got %d", errors)
	}
}

func TestAnnotatorQuoteFeedsDirection(t *testing.T) {
	cfg := minimalConfig()
	ch := channel.NewChannels(4, 4, 4, 4)
	a := NewAnnotator(cfg, ch)
	a.ctx = context.Background()

	quoteData, _ := json.Marshal(models.AlpacaQuote{
		Timestamp: "2025-06-02T14:29:59Z",
		BidPrice:  2.4,
		AskPrice:  2.5,
	})
	a.processQuote(models.RawQuoteMessage{Symbol: "AAPL251219C00275000", Data: quoteData})

	ts := time.Date(2025, time.June, 2, 14, 30, 0, 0, time.UTC)
	a.processTrade(rawTrade(t, "AAPL251219C00275000", 2.5, 40, ts))

	a.mu.RLock()
	batch := a.batches["AAPL"]
	a.mu.RUnlock()
	if batch == nil || len(batch.Trades) != 1 {
		t.Fatalf("expected one annotated trade")
	}
	if batch.Trades[0].Direction != models.DirectionBuy || batch.Trades[0].Confidence != 95 {
		t.Errorf("trade at the ask should be a buy, got %s/%d", batch.Trades[0].Direction, batch.Trades[0].Confidence)
	}
}

func TestAnnotatorEquityTradeUpdatesStockPrice(t *testing.T) {
	cfg := minimalConfig()
	ch := channel.NewChannels(4, 4, 4, 4)
	a := NewAnnotator(cfg, ch)
	a.ctx = context.Background()

	ts := time.Date(2025, time.June, 2, 14, 30, 0, 0, time.UTC)
	a.processTrade(rawTrade(t, "AAPL", 280, 100, ts))
	a.processTrade(rawTrade(t, "AAPL251219C00275000", 2.5, 40, ts.Add(time.Second)))

	a.mu.RLock()
	batch := a.batches["AAPL"]
	a.mu.RUnlock()
	if batch == nil || len(batch.Trades) != 2 {
		t.Fatalf("expected equity and option trade in one batch")
	}
	opt := batch.Trades[1]
	if opt.StockPrice != 280 {
		t.Errorf("option should see the equity print as stock price, got %f", opt.StockPrice)
	}
	if opt.ITMStatus != models.ITM {
		t.Errorf("280 stock against a 275 call is ITM, got %s", opt.ITMStatus)
	}
}

func TestAnnotatorOpenInterestFlags(t *testing.T) {
	cfg := minimalConfig()
	ch := channel.NewChannels(4, 4, 4, 4)
	a := NewAnnotator(cfg, ch)
	a.ctx = context.Background()

	a.SetOpenInterest("AAPL251219C00275000", 100)

	ts := time.Date(2025, time.June, 2, 14, 30, 0, 0, time.UTC)
	a.processTrade(rawTrade(t, "AAPL251219C00275000", 2.5, 25, ts))

	a.mu.RLock()
	batch := a.batches["AAPL"]
	a.mu.RUnlock()
	if batch == nil || len(batch.Trades) != 1 {
		t.Fatalf("expected one annotated trade")
	}
	if !batch.Trades[0].HasFlag(models.FlagOIWhale) {
		t.Errorf("25 contracts against 100 OI should flag oi_whale, got %v", batch.Trades[0].Flags)
	}
}

func TestSweeperStartStop(t *testing.T) {
	cfg := minimalConfig()
	ch := channel.NewChannels(1, 1, 1, 1)
	s := NewSweeper(cfg, ch)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}
	cancel()
	s.Stop()
}

func TestSweeperForwardsBatchesAndDetectsSweeps(t *testing.T) {
	cfg := minimalConfig()
	ch := channel.NewChannels(4, 4, 4, 4)
	s := NewSweeper(cfg, ch)
	s.ctx = context.Background()

	a := NewAnnotator(cfg, ch)
	base := time.Date(2025, time.June, 2, 14, 30, 0, 0, time.UTC)
	var trades []models.AnnotatedTrade
	for i, symbol := range []string{
		"AAPL251219C00275000",
		"AAPL251219C00280000",
		"AAPL251219C00285000",
	} {
		trade := models.Trade{
			Symbol:    symbol,
			Price:     2.0,
			Size:      50,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Second),
		}
		trades = append(trades, a.annotate(trade))
	}

	batch := models.AnnotatedBatch{
		BatchID:     "test-batch",
		Underlying:  "AAPL",
		Trades:      trades,
		RecordCount: len(trades),
	}
	s.processBatch(batch)

	forwarded := <-ch.Reports
	if forwarded.BatchID != "test-batch" || forwarded.RecordCount != 3 {
		t.Fatalf("unexpected forwarded batch: %+v", forwarded)
	}

	s.flushBuffer("AAPL", "test")
	sweeps := <-ch.Sweeps
	if len(sweeps) != 1 {
		t.Fatalf("expected one sweep, got %d", len(sweeps))
	}
	if sweeps[0].Underlying != "AAPL" || len(sweeps[0].Legs) != 3 {
		t.Errorf("unexpected sweep: %+v", sweeps[0])
	}
}

func TestSweeperIgnoresEquityTrades(t *testing.T) {
	cfg := minimalConfig()
	ch := channel.NewChannels(4, 4, 4, 4)
	s := NewSweeper(cfg, ch)
	s.ctx = context.Background()

	batch := models.AnnotatedBatch{
		BatchID:    "equities",
		Underlying: "AAPL",
		Trades: []models.AnnotatedTrade{
			{Trade: models.Trade{Symbol: "AAPL", Price: 280, Size: 100, Timestamp: time.Now()}},
		},
		RecordCount: 1,
	}
	s.processBatch(batch)
	<-ch.Reports

	s.mu.RLock()
	buffered := len(s.buffer["AAPL"])
	s.mu.RUnlock()
	if buffered != 0 {
		t.Fatalf("equity trades must not enter the sweep buffer, got %d", buffered)
	}
}

package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "whaleflow/config"
	"whaleflow/internal/channel"
	"whaleflow/logger"
	"whaleflow/models"
)

// minimalConfig returns a minimal configuration required for testing.
func minimalConfig(dataURL string) *appconfig.Config {
	return &appconfig.Config{
		Reader: appconfig.ReaderConfig{
			Timeout:   time.Second,
			RateLimit: appconfig.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 10},
		},
		Source: appconfig.SourceConfig{
			Alpaca: appconfig.AlpacaSourceConfig{
				DataURL:        dataURL,
				KeyID:          "test-key",
				SecretKey:      "test-secret",
				ConnectionPool: appconfig.ConnectionPoolConfig{MaxIdleConns: 1, MaxConnsPerHost: 1, IdleConnTimeout: time.Second},
			},
		},
	}
}

func TestFetchOptionTradesPagination(t *testing.T) {
	token := "page-2"
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if got := r.Header.Get("APCA-API-KEY-ID"); got != "test-key" {
			t.Errorf("missing auth header, got %q", got)
		}

		page := models.AlpacaTradesResponse{
			Trades: map[string][]models.AlpacaTrade{
				"AAPL251219C00275000": {{Timestamp: "2025-06-02T14:30:00Z", Price: 2.5, Size: 40}},
			},
		}
		if r.URL.Query().Get("page_token") == "" {
			page.NextPageToken = &token
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	c := NewClient(minimalConfig(server.URL))
	start := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)
	trades, err := c.FetchOptionTrades(context.Background(), []string{"AAPL251219C00275000"}, start, start.Add(8*time.Hour))
	if err != nil {
		t.Fatalf("FetchOptionTrades failed: %v", err)
	}
	if requests != 2 {
		t.Errorf("expected 2 paginated requests, got %d", requests)
	}
	if len(trades["AAPL251219C00275000"]) != 2 {
		t.Errorf("expected trades merged across pages, got %d", len(trades["AAPL251219C00275000"]))
	}
}

func TestFetchOptionTradesErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	c := NewClient(minimalConfig(server.URL))
	if _, err := c.FetchOptionTrades(context.Background(), []string{"AAPL251219C00275000"}, time.Now().Add(-time.Hour), time.Now()); err == nil {
		t.Fatalf("expected error for non-200 status")
	}
}

func TestChainSnapshotsAndOIProxy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := models.AlpacaChainResponse{
			Snapshots: map[string]models.AlpacaSnapshot{
				"AAPL251219C00275000": {
					LatestQuote: &models.AlpacaQuote{BidPrice: 2.4, BidSize: 120, AskPrice: 2.6, AskSize: 80},
				},
				"AAPL251219P00270000": {},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient(minimalConfig(server.URL))
	snapshots, err := c.ChainSnapshots(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("ChainSnapshots failed: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 contracts, got %d", len(snapshots))
	}

	proxy := OIProxyFromChain(snapshots)
	if proxy["AAPL251219C00275000"] != 200 {
		t.Errorf("expected proxy 200, got %f", proxy["AAPL251219C00275000"])
	}
	if _, ok := proxy["AAPL251219P00270000"]; ok {
		t.Errorf("contract without a quote should have no proxy")
	}
}

func TestLatestStockTrade(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/stocks/AAPL/trades/latest" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(models.AlpacaLatestTradeResponse{
			Symbol: "AAPL",
			Trade:  models.AlpacaTrade{Timestamp: "2025-06-02T14:30:00Z", Price: 280, Size: 100},
		})
	}))
	defer server.Close()

	c := NewClient(minimalConfig(server.URL))
	trade, err := c.LatestStockTrade(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("LatestStockTrade failed: %v", err)
	}
	if trade.Price != 280 {
		t.Errorf("unexpected price: %f", trade.Price)
	}
}

func TestSymbolBatches(t *testing.T) {
	symbols := make([]string, 250)
	for i := range symbols {
		symbols[i] = "SYM"
	}
	batches := symbolBatches(symbols)
	if len(batches) != 3 || len(batches[0]) != 100 || len(batches[2]) != 50 {
		t.Fatalf("unexpected batching: %d batches", len(batches))
	}
	if batches := symbolBatches(nil); batches != nil {
		t.Fatalf("expected no batches for empty input")
	}
}

func TestStreamProcessMessage(t *testing.T) {
	ch := channel.NewChannels(2, 2, 2, 2)
	r := &StreamReader{
		config:   minimalConfig(""),
		channels: ch,
		ctx:      context.Background(),
		log:      logger.GetLogger(),
	}

	frame := []byte(`[
		{"T":"t","S":"AAPL251219C00275000","t":"2025-06-02T14:30:00Z","p":2.5,"s":40,"x":"C"},
		{"T":"q","S":"AAPL251219C00275000","t":"2025-06-02T14:30:00Z","bp":2.4,"bs":10,"ap":2.6,"as":12},
		{"T":"success","msg":"authenticated"}
	]`)

	if forwarded := r.processMessage(frame); forwarded != 2 {
		t.Fatalf("expected 2 forwarded messages, got %d", forwarded)
	}

	trade := <-ch.RawTrades
	if trade.Symbol != "AAPL251219C00275000" || trade.MessageType != "trade" {
		t.Fatalf("unexpected trade message: %+v", trade)
	}
	var wireTrade models.AlpacaTrade
	if err := json.Unmarshal(trade.Data, &wireTrade); err != nil {
		t.Fatalf("unmarshal trade payload: %v", err)
	}
	if wireTrade.Price != 2.5 || wireTrade.Size != 40 {
		t.Fatalf("unexpected trade payload: %+v", wireTrade)
	}

	quote := <-ch.RawQuotes
	var wireQuote models.AlpacaQuote
	if err := json.Unmarshal(quote.Data, &wireQuote); err != nil {
		t.Fatalf("unmarshal quote payload: %v", err)
	}
	if wireQuote.BidPrice != 2.4 || wireQuote.AskPrice != 2.6 {
		t.Fatalf("unexpected quote payload: %+v", wireQuote)
	}
}

func TestStreamProcessMessageMalformedFrame(t *testing.T) {
	ch := channel.NewChannels(1, 1, 1, 1)
	r := &StreamReader{
		config:   minimalConfig(""),
		channels: ch,
		ctx:      context.Background(),
		log:      logger.GetLogger(),
	}
	if forwarded := r.processMessage([]byte("{not an array")); forwarded != 0 {
		t.Fatalf("expected nothing forwarded, got %d", forwarded)
	}
}

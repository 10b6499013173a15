package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "whaleflow/config"
	"whaleflow/engine"
	"whaleflow/internal/channel"
	"whaleflow/logger"
	"whaleflow/models"
)

// Annotator consumes raw trade and quote payloads, classifies every trade
// through the engine, and emits per-underlying batches of annotated trades.
type Annotator struct {
	config    *appconfig.Config
	engineCfg engine.Config
	channels  *channel.Channels
	quotes    *engine.QuoteCache
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log

	// Batching
	batches   map[string]*models.AnnotatedBatch
	lastFlush map[string]time.Time

	// Session state feeding the classification context
	stateMu      sync.RWMutex
	stockPrices  map[string]float64
	openInterest map[string]float64
	volume       map[string]int64

	// Metrics
	tradesProcessed  int64
	quotesProcessed  int64
	batchesProcessed int64
	errorsCount      int64
}

func NewAnnotator(cfg *appconfig.Config, channels *channel.Channels) *Annotator {
	return &Annotator{
		config:       cfg,
		engineCfg:    cfg.EngineConfig(),
		channels:     channels,
		quotes:       engine.NewQuoteCache(),
		wg:           &sync.WaitGroup{},
		log:          logger.GetLogger(),
		batches:      make(map[string]*models.AnnotatedBatch),
		lastFlush:    make(map[string]time.Time),
		stockPrices:  make(map[string]float64),
		openInterest: make(map[string]float64),
		volume:       make(map[string]int64),
	}
}

// Quotes exposes the cache so readers can seed it before streaming starts.
func (a *Annotator) Quotes() *engine.QuoteCache {
	return a.quotes
}

// SetStockPrice records the latest underlying price used for moneyness.
func (a *Annotator) SetStockPrice(underlying string, price float64) {
	if price <= 0 {
		return
	}
	a.stateMu.Lock()
	a.stockPrices[underlying] = price
	a.stateMu.Unlock()
}

// SetOpenInterest records the open-interest proxy for a contract symbol.
func (a *Annotator) SetOpenInterest(symbol string, oi float64) {
	if oi <= 0 {
		return
	}
	a.stateMu.Lock()
	a.openInterest[symbol] = oi
	a.stateMu.Unlock()
}

func (a *Annotator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("annotator already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("annotator").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting annotator")

	numWorkers := a.config.Processor.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting annotator workers")

	for i := 0; i < numWorkers; i++ {
		a.wg.Add(1)
		go a.tradeWorker(i)
	}

	// Single quote worker so cache writes per symbol stay ordered.
	a.wg.Add(1)
	go a.quoteWorker()

	a.wg.Add(1)
	go a.batchFlusher()

	go a.metricsReporter(ctx)

	log.Info("annotator started successfully")
	return nil
}

func (a *Annotator) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.log.WithComponent("annotator").Info("stopping annotator")

	a.flushAllBatches()

	a.wg.Wait()
	a.log.WithComponent("annotator").Info("annotator stopped")
}

func (a *Annotator) tradeWorker(workerID int) {
	defer a.wg.Done()

	log := a.log.WithComponent("annotator").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "trade",
	})

	log.Info("starting annotator trade worker")

	for {
		select {
		case <-a.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case rawMsg, ok := <-a.channels.RawTrades:
			if !ok {
				log.Info("raw trade channel closed, worker stopping")
				return
			}

			start := time.Now()
			ok = a.processTrade(rawMsg)
			duration := time.Since(start)

			if ok {
				a.mu.Lock()
				a.tradesProcessed++
				a.mu.Unlock()
			}

			logger.LogPerformanceEntry(log, "annotator", "process_trade", duration, logger.Fields{
				"worker_id": workerID,
				"symbol":    rawMsg.Symbol,
				"source":    rawMsg.Source,
			})
		}
	}
}

func (a *Annotator) quoteWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("annotator").WithFields(logger.Fields{"worker": "quote"})
	log.Info("starting annotator quote worker")

	for {
		select {
		case <-a.ctx.Done():
			log.Info("quote worker stopped due to context cancellation")
			return
		case rawMsg, ok := <-a.channels.RawQuotes:
			if !ok {
				log.Info("raw quote channel closed, quote worker stopping")
				return
			}
			a.processQuote(rawMsg)
		}
	}
}

func (a *Annotator) processTrade(rawMsg models.RawTradeMessage) bool {
	log := a.log.WithComponent("annotator").WithFields(logger.Fields{
		"symbol":    rawMsg.Symbol,
		"source":    rawMsg.Source,
		"operation": "process_trade",
	})

	var wire models.AlpacaTrade
	if err := json.Unmarshal(rawMsg.Data, &wire); err != nil {
		a.mu.Lock()
		a.errorsCount++
		a.mu.Unlock()
		log.WithError(err).Warn("failed to unmarshal trade data")
		return false
	}

	trade := models.Trade{
		Symbol:    rawMsg.Symbol,
		Price:     wire.Price,
		Size:      wire.Size,
		Exchange:  wire.Exchange,
		Timestamp: parseWireTimestamp(wire.Timestamp),
	}

	annotated := a.annotate(trade)
	a.addToBatch(annotated)

	logger.LogDataFlowEntry(log, "raw_trades_channel", "annotated_channel", 1, "annotated_trade")
	return true
}

// annotate assembles the classification context for one trade and runs the
// engine on it.
func (a *Annotator) annotate(trade models.Trade) models.AnnotatedTrade {
	opt := engine.ParseOptionSymbol(trade.Symbol)

	actx := engine.AnnotateContext{
		Option: opt,
		Now:    time.Now(),
	}

	if opt == nil {
		// Equity print: it is also the freshest underlying price we have.
		a.SetStockPrice(trade.Symbol, trade.Price)
	} else {
		a.stateMu.Lock()
		a.volume[trade.Symbol] += trade.Size
		volume := a.volume[trade.Symbol]
		oi := a.openInterest[trade.Symbol]
		price := a.stockPrices[opt.Underlying]
		a.stateMu.Unlock()

		actx.StockPrice = price
		if oi > 0 {
			ratio := float64(volume) / oi
			actx.VolumeOverOI = &ratio
		}
	}

	if quote, ok := a.quotes.Get(trade.Symbol); ok {
		actx.Quote = &quote
	}

	return a.engineCfg.Annotate(trade, actx)
}

func (a *Annotator) processQuote(rawMsg models.RawQuoteMessage) {
	var wire models.AlpacaQuote
	if err := json.Unmarshal(rawMsg.Data, &wire); err != nil {
		a.mu.Lock()
		a.errorsCount++
		a.mu.Unlock()
		a.log.WithComponent("annotator").WithError(err).WithFields(logger.Fields{
			"symbol": rawMsg.Symbol,
		}).Warn("failed to unmarshal quote data")
		return
	}

	a.quotes.Set(models.Quote{
		Symbol:    rawMsg.Symbol,
		Bid:       wire.BidPrice,
		Ask:       wire.AskPrice,
		Timestamp: parseWireTimestamp(wire.Timestamp),
	})

	a.mu.Lock()
	a.quotesProcessed++
	a.mu.Unlock()
}

func (a *Annotator) addToBatch(annotated models.AnnotatedTrade) {
	batchKey := annotated.Underlying()

	a.mu.Lock()
	defer a.mu.Unlock()

	batch, exists := a.batches[batchKey]
	if !exists {
		batch = &models.AnnotatedBatch{
			BatchID:     uuid.New().String(),
			Underlying:  batchKey,
			Trades:      make([]models.AnnotatedTrade, 0, a.config.Processor.BatchSize),
			RecordCount: 0,
			Timestamp:   annotated.Timestamp,
			ProcessedAt: time.Now(),
		}
		a.batches[batchKey] = batch
		a.lastFlush[batchKey] = time.Now()
	}

	batch.Trades = append(batch.Trades, annotated)
	batch.RecordCount = len(batch.Trades)

	if annotated.Timestamp.After(batch.Timestamp) {
		batch.Timestamp = annotated.Timestamp
	}

	if batch.RecordCount >= a.config.Processor.BatchSize {
		a.flushBatch(batchKey)
	}
}

func (a *Annotator) batchFlusher() {
	defer a.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.flushTimedOutBatches()
		}
	}
}

func (a *Annotator) flushTimedOutBatches() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	for batchKey, lastFlush := range a.lastFlush {
		if now.Sub(lastFlush) >= a.config.Processor.BatchTimeout {
			a.flushBatch(batchKey)
		}
	}
}

// flushBatch sends one batch downstream. Callers must hold a.mu.
func (a *Annotator) flushBatch(batchKey string) {
	batch, exists := a.batches[batchKey]
	if !exists || batch.RecordCount == 0 {
		return
	}

	log := a.log.WithComponent("annotator").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"underlying":   batch.Underlying,
		"record_count": batch.RecordCount,
		"operation":    "flush_batch",
	})

	if a.channels.SendAnnotated(a.ctx, *batch) {
		a.batchesProcessed++
		delete(a.batches, batchKey)
		delete(a.lastFlush, batchKey)

		logger.LogDataFlowEntry(log, "annotator", "annotated_channel", batch.RecordCount, "batch")
	} else {
		log.Warn("annotated channel is full, batch not sent")
	}
}

func (a *Annotator) flushAllBatches() {
	a.mu.Lock()
	defer a.mu.Unlock()

	log := a.log.WithComponent("annotator").WithFields(logger.Fields{"operation": "flush_all_batches"})
	log.Info("flushing all remaining batches")

	for batchKey := range a.batches {
		a.flushBatch(batchKey)
	}

	log.WithFields(logger.Fields{"remaining_batches": len(a.batches)}).Info("all batches flushed")
}

func (a *Annotator) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.reportMetrics()
		}
	}
}

func (a *Annotator) reportMetrics() {
	a.mu.RLock()
	tradesProcessed := a.tradesProcessed
	quotesProcessed := a.quotesProcessed
	batchesProcessed := a.batchesProcessed
	errorsCount := a.errorsCount
	activeBatches := len(a.batches)
	a.mu.RUnlock()

	errorRate := float64(0)
	if tradesProcessed+errorsCount > 0 {
		errorRate = float64(errorsCount) / float64(tradesProcessed+errorsCount)
	}

	log := a.log.WithComponent("annotator")
	a.log.LogMetric("annotator", "trades_processed", tradesProcessed, "counter", logger.Fields{})
	a.log.LogMetric("annotator", "quotes_processed", quotesProcessed, "counter", logger.Fields{})
	a.log.LogMetric("annotator", "batches_processed", batchesProcessed, "counter", logger.Fields{})
	a.log.LogMetric("annotator", "errors_count", errorsCount, "counter", logger.Fields{})
	a.log.LogMetric("annotator", "error_rate", errorRate, "gauge", logger.Fields{})
	a.log.LogMetric("annotator", "active_batches", activeBatches, "gauge", logger.Fields{})
	a.log.LogMetric("annotator", "cached_quotes", a.quotes.Len(), "gauge", logger.Fields{})

	log.WithFields(logger.Fields{
		"trades_processed":  tradesProcessed,
		"quotes_processed":  quotesProcessed,
		"batches_processed": batchesProcessed,
		"errors_count":      errorsCount,
		"error_rate":        errorRate,
		"active_batches":    activeBatches,
		"cached_quotes":     a.quotes.Len(),
	}).Info("annotator metrics")
}

// parseWireTimestamp decodes the RFC3339 timestamps the data feed sends.
// A zero time marks an unparsable value; sweep detection skips those trades.
func parseWireTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

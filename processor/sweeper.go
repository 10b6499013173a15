package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "whaleflow/config"
	"whaleflow/engine"
	"whaleflow/internal/channel"
	"whaleflow/logger"
	"whaleflow/models"
)

const defaultSweepFlushInterval = 5 * time.Second

// Sweeper buffers annotated trades per underlying, runs sweep detection once
// a full window has accumulated, and forwards every batch unchanged to the
// report channel.
type Sweeper struct {
	config    *appconfig.Config
	engineCfg engine.Config
	channels  *channel.Channels
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log

	// Buffering
	buffer        map[string][]models.AnnotatedTrade
	lastFlushTime map[string]time.Time

	// Metrics
	batchesForwarded int64
	tradesBuffered   int64
	sweepsDetected   int64
	bufferFlushes    int64
}

func NewSweeper(cfg *appconfig.Config, channels *channel.Channels) *Sweeper {
	log := logger.GetLogger()

	sweeper := &Sweeper{
		config:        cfg,
		engineCfg:     cfg.EngineConfig(),
		channels:      channels,
		wg:            &sync.WaitGroup{},
		log:           log,
		buffer:        make(map[string][]models.AnnotatedTrade),
		lastFlushTime: make(map[string]time.Time),
	}

	log.WithComponent("sweeper").Info("sweeper initialized")
	return sweeper
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("sweeper").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting sweeper")

	s.wg.Add(1)
	go s.batchProcessor()

	s.wg.Add(1)
	go s.bufferFlusher()

	go s.metricsReporter(ctx)

	log.Info("sweeper started successfully")
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.WithComponent("sweeper").Info("stopping sweeper")

	s.flushAllBuffers()

	s.wg.Wait()
	s.log.WithComponent("sweeper").Info("sweeper stopped")
}

func (s *Sweeper) batchProcessor() {
	defer s.wg.Done()

	log := s.log.WithComponent("sweeper").WithFields(logger.Fields{"worker": "batch_processor"})
	log.Info("starting batch processor worker")

	for {
		select {
		case <-s.ctx.Done():
			log.Info("batch processor stopped due to context cancellation")
			return
		case batch, ok := <-s.channels.Annotated:
			if !ok {
				log.Info("annotated channel closed, batch processor stopping")
				return
			}
			s.processBatch(batch)
		}
	}
}

func (s *Sweeper) processBatch(batch models.AnnotatedBatch) {
	// Reporting sees every batch regardless of sweep outcome.
	if !s.channels.SendReport(s.ctx, batch) {
		s.log.WithComponent("sweeper").WithFields(logger.Fields{
			"batch_id":     batch.BatchID,
			"record_count": batch.RecordCount,
		}).Warn("report channel is full, batch not forwarded")
	} else {
		s.mu.Lock()
		s.batchesForwarded++
		s.mu.Unlock()
	}

	s.mu.Lock()
	if _, exists := s.buffer[batch.Underlying]; !exists {
		s.buffer[batch.Underlying] = make([]models.AnnotatedTrade, 0, batch.RecordCount)
		s.lastFlushTime[batch.Underlying] = time.Now()
	}
	for _, trade := range batch.Trades {
		if trade.Option == nil {
			continue
		}
		s.buffer[batch.Underlying] = append(s.buffer[batch.Underlying], trade)
		s.tradesBuffered++
	}
	bufferSize := len(s.buffer[batch.Underlying])
	s.mu.Unlock()

	s.log.WithComponent("sweeper").WithFields(logger.Fields{
		"underlying":  batch.Underlying,
		"buffer_size": bufferSize,
	}).Debug("batch buffered for sweep detection")
}

func (s *Sweeper) bufferFlusher() {
	defer s.wg.Done()

	log := s.log.WithComponent("sweeper").WithFields(logger.Fields{"worker": "buffer_flusher"})
	log.Info("starting buffer flusher worker")

	interval := s.config.Processor.SweepFlushInterval
	if interval <= 0 {
		interval = defaultSweepFlushInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Info("buffer flusher stopped due to context cancellation")
			return
		case <-ticker.C:
			s.flushMatureBuffers()
		}
	}
}

// flushMatureBuffers detects sweeps in buffers that have accumulated at least
// one full clustering window since their last flush, so clusters are never
// cut short by an early scan.
func (s *Sweeper) flushMatureBuffers() {
	s.mu.RLock()
	keysToFlush := make([]string, 0)
	now := time.Now()

	for key, lastFlush := range s.lastFlushTime {
		if now.Sub(lastFlush) >= s.engineCfg.SweepWindow && len(s.buffer[key]) > 0 {
			keysToFlush = append(keysToFlush, key)
		}
	}
	s.mu.RUnlock()

	for _, key := range keysToFlush {
		s.flushBuffer(key, "window_elapsed")
	}

	if len(keysToFlush) > 0 {
		s.log.WithComponent("sweeper").WithFields(logger.Fields{
			"flushed_buffers": len(keysToFlush),
			"reason":          "window_elapsed",
		}).Debug("flushed mature buffers")
	}
}

func (s *Sweeper) flushBuffer(key, reason string) {
	s.mu.Lock()
	trades, exists := s.buffer[key]
	if !exists || len(trades) == 0 {
		s.mu.Unlock()
		return
	}

	tradesToScan := make([]models.AnnotatedTrade, len(trades))
	copy(tradesToScan, trades)
	s.buffer[key] = s.buffer[key][:0]
	s.lastFlushTime[key] = time.Now()
	s.mu.Unlock()

	start := time.Now()
	sweeps := engine.DetectSweeps(tradesToScan, s.engineCfg.SweepWindow, s.engineCfg.SweepMinLegs)
	scanDuration := time.Since(start)

	log := s.log.WithComponent("sweeper").WithFields(logger.Fields{
		"underlying":    key,
		"trades":        len(tradesToScan),
		"sweeps":        len(sweeps),
		"reason":        reason,
		"scan_duration": scanDuration.Milliseconds(),
	})

	logger.LogPerformanceEntry(log, "sweeper", "detect_sweeps", scanDuration, logger.Fields{
		"underlying": key,
		"trades":     len(tradesToScan),
		"sweeps":     len(sweeps),
		"reason":     reason,
	})

	s.mu.Lock()
	s.bufferFlushes++
	s.mu.Unlock()

	if len(sweeps) == 0 {
		log.Debug("no sweeps in window")
		return
	}

	if s.channels.SendSweeps(s.ctx, sweeps) {
		s.mu.Lock()
		s.sweepsDetected += int64(len(sweeps))
		s.mu.Unlock()

		log.Info("sweeps detected")
		logger.LogDataFlowEntry(log, "annotated_channel", "sweeps_channel", len(sweeps), "sweeps")
	} else {
		log.Warn("sweeps channel is full, sweeps dropped")
	}
}

func (s *Sweeper) flushAllBuffers() {
	log := s.log.WithComponent("sweeper").WithFields(logger.Fields{"operation": "flush_all_buffers"})

	s.mu.RLock()
	keys := make([]string, 0, len(s.buffer))
	for key := range s.buffer {
		if len(s.buffer[key]) > 0 {
			keys = append(keys, key)
		}
	}
	s.mu.RUnlock()

	log.WithFields(logger.Fields{"buffers_to_flush": len(keys)}).Info("flushing all remaining buffers")

	for _, key := range keys {
		s.flushBuffer(key, "shutdown")
	}
}

func (s *Sweeper) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reportMetrics()
		}
	}
}

func (s *Sweeper) reportMetrics() {
	s.mu.RLock()
	batchesForwarded := s.batchesForwarded
	tradesBuffered := s.tradesBuffered
	sweepsDetected := s.sweepsDetected
	bufferFlushes := s.bufferFlushes

	totalBufferedTrades := 0
	bufferCount := len(s.buffer)
	for _, trades := range s.buffer {
		totalBufferedTrades += len(trades)
	}
	s.mu.RUnlock()

	log := s.log.WithComponent("sweeper")
	s.log.LogMetric("sweeper", "batches_forwarded", batchesForwarded, "counter", logger.Fields{})
	s.log.LogMetric("sweeper", "trades_buffered", tradesBuffered, "counter", logger.Fields{})
	s.log.LogMetric("sweeper", "sweeps_detected", sweepsDetected, "counter", logger.Fields{})
	s.log.LogMetric("sweeper", "buffer_flushes", bufferFlushes, "counter", logger.Fields{})
	s.log.LogMetric("sweeper", "current_buffer_count", bufferCount, "gauge", logger.Fields{})
	s.log.LogMetric("sweeper", "current_buffered_trades", totalBufferedTrades, "gauge", logger.Fields{})

	log.WithFields(logger.Fields{
		"batches_forwarded":       batchesForwarded,
		"trades_buffered":         tradesBuffered,
		"sweeps_detected":         sweepsDetected,
		"buffer_flushes":          bufferFlushes,
		"current_buffer_count":    bufferCount,
		"current_buffered_trades": totalBufferedTrades,
	}).Info("sweeper metrics")
}

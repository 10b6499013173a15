package channel

import (
	"context"
	"sync"
	"time"

	"whaleflow/logger"
	"whaleflow/models"
)

type ChannelStats struct {
	RawTradesSent        int64
	RawQuotesSent        int64
	AnnotatedBatchesSent int64
	ReportBatchesSent    int64
	SweepsSent           int64

	RawTradesDropped        int64
	RawQuotesDropped        int64
	AnnotatedBatchesDropped int64
	ReportBatchesDropped    int64
	SweepsDropped           int64
}

// Channels wires the pipeline stages together: raw market data fans in from
// the readers, annotated batches flow through sweep detection, and the writer
// consumes reports and sweeps.
type Channels struct {
	RawTrades chan models.RawTradeMessage
	RawQuotes chan models.RawQuoteMessage
	Annotated chan models.AnnotatedBatch
	Reports   chan models.AnnotatedBatch
	Sweeps    chan []models.Sweep

	stats               ChannelStats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(rawBufferSize, annotatedBufferSize, reportBufferSize, sweepBufferSize int) *Channels {
	log := logger.GetLogger()

	c := &Channels{
		RawTrades: make(chan models.RawTradeMessage, rawBufferSize),
		RawQuotes: make(chan models.RawQuoteMessage, rawBufferSize),
		Annotated: make(chan models.AnnotatedBatch, annotatedBufferSize),
		Reports:   make(chan models.AnnotatedBatch, reportBufferSize),
		Sweeps:    make(chan []models.Sweep, sweepBufferSize),
		log:       log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer_size":       rawBufferSize,
		"annotated_buffer_size": annotatedBufferSize,
		"report_buffer_size":    reportBufferSize,
		"sweep_buffer_size":     sweepBufferSize,
	}).Info("channels initialized")

	return c
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats(c.log)
			}
		}
	}()
}

func (c *Channels) logChannelStats(log *logger.Log) {
	c.statsMutex.RLock()
	stats := c.stats
	c.statsMutex.RUnlock()

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_trades_sent":           stats.RawTradesSent,
		"raw_quotes_sent":           stats.RawQuotesSent,
		"annotated_batches_sent":    stats.AnnotatedBatchesSent,
		"report_batches_sent":       stats.ReportBatchesSent,
		"sweeps_sent":               stats.SweepsSent,
		"raw_trades_dropped":        stats.RawTradesDropped,
		"raw_quotes_dropped":        stats.RawQuotesDropped,
		"annotated_batches_dropped": stats.AnnotatedBatchesDropped,
		"report_batches_dropped":    stats.ReportBatchesDropped,
		"sweeps_dropped":            stats.SweepsDropped,
		"raw_trades_channel_len":    len(c.RawTrades),
		"raw_trades_channel_cap":    cap(c.RawTrades),
		"raw_quotes_channel_len":    len(c.RawQuotes),
		"raw_quotes_channel_cap":    cap(c.RawQuotes),
		"annotated_channel_len":     len(c.Annotated),
		"annotated_channel_cap":     cap(c.Annotated),
		"reports_channel_len":       len(c.Reports),
		"reports_channel_cap":       cap(c.Reports),
		"sweeps_channel_len":        len(c.Sweeps),
		"sweeps_channel_cap":        cap(c.Sweeps),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}

	close(c.RawTrades)
	close(c.RawQuotes)
	close(c.Annotated)
	close(c.Reports)
	close(c.Sweeps)

	c.log.WithComponent("channels").Info("all channels closed")
}

// SendRawTrade offers the message to the raw trade channel without blocking;
// a full buffer counts as a drop.
func (c *Channels) SendRawTrade(ctx context.Context, msg models.RawTradeMessage) bool {
	select {
	case c.RawTrades <- msg:
		c.increment(func(s *ChannelStats) { s.RawTradesSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.increment(func(s *ChannelStats) { s.RawTradesDropped++ })
		return false
	}
}

func (c *Channels) SendRawQuote(ctx context.Context, msg models.RawQuoteMessage) bool {
	select {
	case c.RawQuotes <- msg:
		c.increment(func(s *ChannelStats) { s.RawQuotesSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.increment(func(s *ChannelStats) { s.RawQuotesDropped++ })
		return false
	}
}

func (c *Channels) SendAnnotated(ctx context.Context, batch models.AnnotatedBatch) bool {
	select {
	case c.Annotated <- batch:
		c.increment(func(s *ChannelStats) { s.AnnotatedBatchesSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.increment(func(s *ChannelStats) { s.AnnotatedBatchesDropped++ })
		return false
	}
}

func (c *Channels) SendReport(ctx context.Context, batch models.AnnotatedBatch) bool {
	select {
	case c.Reports <- batch:
		c.increment(func(s *ChannelStats) { s.ReportBatchesSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.increment(func(s *ChannelStats) { s.ReportBatchesDropped++ })
		return false
	}
}

func (c *Channels) SendSweeps(ctx context.Context, sweeps []models.Sweep) bool {
	select {
	case c.Sweeps <- sweeps:
		c.increment(func(s *ChannelStats) { s.SweepsSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.increment(func(s *ChannelStats) { s.SweepsDropped++ })
		return false
	}
}

func (c *Channels) increment(apply func(*ChannelStats)) {
	c.statsMutex.Lock()
	apply(&c.stats)
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

package writer

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	appconfig "whaleflow/config"
	"whaleflow/internal/channel"
	"whaleflow/logger"
	"whaleflow/models"
)

// Reporter consumes annotated batches and detected sweeps, emits alert lines
// for trades at or above the configured tier, and hands qualifying batches to
// the archiver when one is configured.
type Reporter struct {
	config   *appconfig.Config
	channels *channel.Channels
	archiver *Archiver
	minTier  models.Tier
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// Metrics
	batchesReported int64
	alertsEmitted   int64
	sweepsReported  int64
	archiveErrors   int64
}

// NewReporter builds a reporter. archiver may be nil, in which case alerts
// are logged but never persisted.
func NewReporter(cfg *appconfig.Config, channels *channel.Channels, archiver *Archiver) *Reporter {
	log := logger.GetLogger()

	reporter := &Reporter{
		config:   cfg,
		channels: channels,
		archiver: archiver,
		minTier:  cfg.MinReportTier(),
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("reporter").WithFields(logger.Fields{
		"min_tier":  string(reporter.minTier),
		"archiving": archiver != nil,
	}).Info("reporter initialized")
	return reporter
}

func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reporter already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("reporter").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting reporter")

	r.wg.Add(1)
	go r.batchWorker()

	r.wg.Add(1)
	go r.sweepWorker()

	go r.metricsReporter(ctx)

	log.Info("reporter started successfully")
	return nil
}

func (r *Reporter) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("reporter").Info("stopping reporter")
	r.wg.Wait()
	r.log.WithComponent("reporter").Info("reporter stopped")
}

func (r *Reporter) batchWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("reporter").WithFields(logger.Fields{"worker": "batch_worker"})
	log.Info("starting batch worker")

	for {
		select {
		case <-r.ctx.Done():
			log.Info("batch worker stopped due to context cancellation")
			return
		case batch, ok := <-r.channels.Reports:
			if !ok {
				log.Info("report channel closed, batch worker stopping")
				return
			}
			r.handleBatch(batch)
		}
	}
}

func (r *Reporter) sweepWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("reporter").WithFields(logger.Fields{"worker": "sweep_worker"})
	log.Info("starting sweep worker")

	for {
		select {
		case <-r.ctx.Done():
			log.Info("sweep worker stopped due to context cancellation")
			return
		case sweeps, ok := <-r.channels.Sweeps:
			if !ok {
				log.Info("sweeps channel closed, sweep worker stopping")
				return
			}
			for _, sweep := range sweeps {
				r.handleSweep(sweep)
			}
		}
	}
}

func (r *Reporter) handleBatch(batch models.AnnotatedBatch) {
	emitted := 0
	for _, trade := range batch.Trades {
		if trade.Option == nil || !trade.Tier.AtLeast(r.minTier) {
			continue
		}
		r.logAlert(trade)
		emitted++
	}

	r.mu.Lock()
	r.batchesReported++
	r.alertsEmitted += int64(emitted)
	r.mu.Unlock()

	if r.archiver != nil {
		if err := r.archiver.ArchiveBatch(r.ctx, batch); err != nil {
			r.mu.Lock()
			r.archiveErrors++
			r.mu.Unlock()
		}
	}
}

func (r *Reporter) logAlert(trade models.AnnotatedTrade) {
	fields := logger.Fields{
		"symbol":     trade.Symbol,
		"underlying": trade.Underlying(),
		"tier":       string(trade.Tier),
		"premium":    trade.Premium,
		"notional":   trade.Notional,
		"direction":  string(trade.Direction),
		"confidence": trade.Confidence,
		"itm_status": string(trade.ITMStatus),
		"size":       trade.Size,
		"price":      trade.Price,
	}
	if trade.Option != nil {
		fields["strike"] = trade.Option.Strike
		fields["option_type"] = string(trade.Option.Type)
		fields["expiration"] = trade.Option.ExpirationLabel()
	}
	if trade.DTE != nil {
		fields["dte"] = *trade.DTE
	}
	if len(trade.Flags) > 0 {
		fields["flags"] = joinFlags(trade.Flags)
	}

	r.log.WithComponent("reporter").WithFields(fields).Info(FormatAlert(trade))
}

func (r *Reporter) handleSweep(sweep models.Sweep) {
	r.mu.Lock()
	r.sweepsReported++
	r.mu.Unlock()

	r.log.WithComponent("reporter").WithFields(logger.Fields{
		"underlying":      sweep.Underlying,
		"legs":            len(sweep.Legs),
		"total_premium":   sweep.TotalPremium,
		"total_contracts": sweep.TotalContracts,
		"sentiment":       string(sweep.Sentiment),
		"span_ms":         sweep.End.Sub(sweep.Start).Milliseconds(),
	}).Info(FormatSweep(sweep))
}

func (r *Reporter) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reportMetrics()
		}
	}
}

func (r *Reporter) reportMetrics() {
	r.mu.RLock()
	batchesReported := r.batchesReported
	alertsEmitted := r.alertsEmitted
	sweepsReported := r.sweepsReported
	archiveErrors := r.archiveErrors
	r.mu.RUnlock()

	log := r.log.WithComponent("reporter")
	r.log.LogMetric("reporter", "batches_reported", batchesReported, "counter", logger.Fields{})
	r.log.LogMetric("reporter", "alerts_emitted", alertsEmitted, "counter", logger.Fields{})
	r.log.LogMetric("reporter", "sweeps_reported", sweepsReported, "counter", logger.Fields{})
	r.log.LogMetric("reporter", "archive_errors", archiveErrors, "counter", logger.Fields{})

	log.WithFields(logger.Fields{
		"batches_reported": batchesReported,
		"alerts_emitted":   alertsEmitted,
		"sweeps_reported":  sweepsReported,
		"archive_errors":   archiveErrors,
	}).Info("reporter metrics")
}

// FormatAlert renders one trade as a single human-readable alert line.
func FormatAlert(trade models.AnnotatedTrade) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s]", strings.ToUpper(string(trade.Tier)))
	fmt.Fprintf(&b, " %s", trade.Underlying())
	if trade.Option != nil {
		fmt.Fprintf(&b, " $%s %s %s", formatStrike(trade.Option.Strike), trade.Option.Type, trade.Option.ExpirationLabel())
	}
	fmt.Fprintf(&b, " | %d @ $%.2f | premium $%s", trade.Size, trade.Price, formatAmount(trade.Premium))
	if trade.Direction != models.DirectionUnknown {
		fmt.Fprintf(&b, " | %s %d%%", trade.Direction, trade.Confidence)
	}
	fmt.Fprintf(&b, " | %s", trade.ITMStatus)
	if trade.DTE != nil {
		fmt.Fprintf(&b, " | %dDTE", *trade.DTE)
	}
	if len(trade.Flags) > 0 {
		fmt.Fprintf(&b, " | %s", joinFlags(trade.Flags))
	}
	return b.String()
}

// FormatSweep renders one sweep as a single human-readable alert line.
func FormatSweep(sweep models.Sweep) string {
	span := sweep.End.Sub(sweep.Start)
	return fmt.Sprintf("[SWEEP] %s | %d legs, %d contracts across %d strikes | premium $%s | %s | %.1fs",
		sweep.Underlying,
		len(sweep.Legs),
		sweep.TotalContracts,
		len(sweep.Strikes),
		formatAmount(sweep.TotalPremium),
		sweep.Sentiment,
		span.Seconds())
}

// WriteTradeTable renders trades as an aligned table, most premium first,
// keeping at most topN rows when topN is positive.
func WriteTradeTable(w io.Writer, trades []models.AnnotatedTrade, topN int) {
	sorted := make([]models.AnnotatedTrade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Premium > sorted[j].Premium
	})
	if topN > 0 && len(sorted) > topN {
		sorted = sorted[:topN]
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tUNDERLYING\tCONTRACT\tSIZE\tPRICE\tPREMIUM\tDIR\tCONF\tMONEY\tDTE\tFLAGS")
	for _, trade := range sorted {
		contract := "-"
		dte := "-"
		if trade.Option != nil {
			contract = fmt.Sprintf("$%s %s %s", formatStrike(trade.Option.Strike), trade.Option.Type, trade.Option.ExpirationLabel())
		}
		if trade.DTE != nil {
			dte = fmt.Sprintf("%d", *trade.DTE)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%s\t%s\t%d\t%s\t%s\t%s\n",
			trade.Tier,
			trade.Underlying(),
			contract,
			trade.Size,
			trade.Price,
			formatAmount(trade.Premium),
			trade.Direction,
			trade.Confidence,
			trade.ITMStatus,
			dte,
			joinFlags(trade.Flags))
	}
	tw.Flush()
}

// WriteSweepTable renders sweeps as an aligned table in the order given,
// which is most premium first when they come from detection.
func WriteSweepTable(w io.Writer, sweeps []models.Sweep) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNDERLYING\tLEGS\tCONTRACTS\tSTRIKES\tPREMIUM\tSENTIMENT\tSPAN")
	for _, sweep := range sweeps {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\t%.1fs\n",
			sweep.Underlying,
			len(sweep.Legs),
			sweep.TotalContracts,
			len(sweep.Strikes),
			formatAmount(sweep.TotalPremium),
			sweep.Sentiment,
			sweep.End.Sub(sweep.Start).Seconds())
	}
	tw.Flush()
}

// WriteScanSummary renders the full scan-mode report: qualifying trades at or
// above minTier, then detected sweeps, then per-tier counts over all trades.
func WriteScanSummary(w io.Writer, trades []models.AnnotatedTrade, sweeps []models.Sweep, minTier models.Tier, topN int) {
	qualifying := make([]models.AnnotatedTrade, 0, len(trades))
	tierCounts := make(map[models.Tier]int)
	for _, trade := range trades {
		if trade.Option == nil {
			continue
		}
		tierCounts[trade.Tier]++
		if trade.Tier.AtLeast(minTier) {
			qualifying = append(qualifying, trade)
		}
	}

	fmt.Fprintf(w, "Trades at or above %s (%d of %d option trades):\n\n", minTier, len(qualifying), totalCount(tierCounts))
	if len(qualifying) > 0 {
		WriteTradeTable(w, qualifying, topN)
	} else {
		fmt.Fprintln(w, "  none")
	}

	fmt.Fprintf(w, "\nSweeps detected: %d\n\n", len(sweeps))
	if len(sweeps) > 0 {
		WriteSweepTable(w, sweeps)
	}

	fmt.Fprintln(w, "\nTier distribution:")
	for _, tier := range []models.Tier{models.TierHeadline, models.TierStrongWhale, models.TierWhale, models.TierUnusual, models.TierNotable, models.TierNoise} {
		if count := tierCounts[tier]; count > 0 {
			fmt.Fprintf(w, "  %-13s %d\n", tier, count)
		}
	}

	WriteFlowBreakdown(w, trades)
}

// flowBucket accumulates a count and summed premium for one report dimension.
type flowBucket struct {
	count   int
	premium float64
}

// WriteFlowBreakdown renders the aggregate view of option flow: sentiment
// totals, per-underlying totals, and expiration/moneyness buckets.
func WriteFlowBreakdown(w io.Writer, trades []models.AnnotatedTrade) {
	sentiment := make(map[models.Direction]*flowBucket)
	byUnderlying := make(map[string]*flowBucket)
	callsByUnderlying := make(map[string]int)
	expiry := make(map[string]*flowBucket)
	moneyness := make(map[models.ITMStatus]*flowBucket)

	add := func(m map[string]*flowBucket, key string, premium float64) {
		bucket := m[key]
		if bucket == nil {
			bucket = &flowBucket{}
			m[key] = bucket
		}
		bucket.count++
		bucket.premium += premium
	}

	optionCount := 0
	for _, trade := range trades {
		if trade.Option == nil {
			continue
		}
		optionCount++

		bucket := sentiment[trade.Direction]
		if bucket == nil {
			bucket = &flowBucket{}
			sentiment[trade.Direction] = bucket
		}
		bucket.count++
		bucket.premium += trade.Premium

		add(byUnderlying, trade.Option.Underlying, trade.Premium)
		if trade.Option.Type == models.OptionCall {
			callsByUnderlying[trade.Option.Underlying]++
		}

		add(expiry, expiryBucket(trade.DTE), trade.Premium)

		mb := moneyness[trade.ITMStatus]
		if mb == nil {
			mb = &flowBucket{}
			moneyness[trade.ITMStatus] = mb
		}
		mb.count++
		mb.premium += trade.Premium
	}
	if optionCount == 0 {
		return
	}

	fmt.Fprintln(w, "\nSentiment:")
	for _, dir := range []models.Direction{models.DirectionBuy, models.DirectionSell, models.DirectionNeutral, models.DirectionUnknown} {
		if bucket := sentiment[dir]; bucket != nil {
			fmt.Fprintf(w, "  %-8s %5d trades  $%s\n", dir, bucket.count, formatAmount(bucket.premium))
		}
	}

	underlyings := make([]string, 0, len(byUnderlying))
	for underlying := range byUnderlying {
		underlyings = append(underlyings, underlying)
	}
	sort.Slice(underlyings, func(i, j int) bool {
		return byUnderlying[underlyings[i]].premium > byUnderlying[underlyings[j]].premium
	})

	fmt.Fprintln(w, "\nBy underlying:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  UNDERLYING\tTRADES\tCALLS\tPUTS\tPREMIUM")
	for _, underlying := range underlyings {
		bucket := byUnderlying[underlying]
		calls := callsByUnderlying[underlying]
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%s\n",
			underlying, bucket.count, calls, bucket.count-calls, formatAmount(bucket.premium))
	}
	tw.Flush()

	fmt.Fprintln(w, "\nBy expiration:")
	for _, label := range []string{"0-1d", "2-7d", "8-30d", ">30d", "unknown"} {
		if bucket := expiry[label]; bucket != nil {
			fmt.Fprintf(w, "  %-8s %5d trades  $%s\n", label, bucket.count, formatAmount(bucket.premium))
		}
	}

	fmt.Fprintln(w, "\nBy moneyness:")
	for _, status := range []models.ITMStatus{models.ITM, models.ATM, models.OTM} {
		if bucket := moneyness[status]; bucket != nil {
			fmt.Fprintf(w, "  %-8s %5d trades  $%s\n", status, bucket.count, formatAmount(bucket.premium))
		}
	}
}

func expiryBucket(dte *int) string {
	switch {
	case dte == nil:
		return "unknown"
	case *dte <= 1:
		return "0-1d"
	case *dte <= 7:
		return "2-7d"
	case *dte <= 30:
		return "8-30d"
	default:
		return ">30d"
	}
}

func totalCount(counts map[models.Tier]int) int {
	total := 0
	for _, count := range counts {
		total += count
	}
	return total
}

// formatStrike drops trailing zeros so $150 prints without decimals and
// $22.50 keeps them.
func formatStrike(strike float64) string {
	s := fmt.Sprintf("%.3f", strike)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// formatAmount renders a dollar amount with thousands separators, dropping
// cents for whole amounts.
func formatAmount(amount float64) string {
	whole := int64(amount)
	cents := amount - float64(whole)

	digits := fmt.Sprintf("%d", whole)
	if whole < 0 {
		digits = digits[1:]
	}

	var b strings.Builder
	if whole < 0 {
		b.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	if cents > 0.005 {
		b.WriteString(strings.TrimPrefix(fmt.Sprintf("%.2f", cents), "0"))
	}
	return b.String()
}

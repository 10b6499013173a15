package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"whaleflow/config"
	"whaleflow/engine"
	"whaleflow/internal/channel"
	"whaleflow/logger"
	"whaleflow/models"
	"whaleflow/processor"
	"whaleflow/reader/alpaca"
	"whaleflow/writer"
)

const defaultLookbackWindow = 15 * time.Minute

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	mode := flag.String("mode", "live", "Run mode: live (stream) or scan (one-shot historical report)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Whaleflow.Name,
		"version": cfg.Whaleflow.Version,
		"mode":    *mode,
	}).Info("starting whaleflow")

	switch *mode {
	case "scan":
		if err := runScan(cfg); err != nil {
			log.WithError(err).Error("scan failed")
			os.Exit(1)
		}
	case "live":
		runLive(cfg)
	default:
		log.WithFields(logger.Fields{"mode": *mode}).Error("unknown mode, expected live or scan")
		os.Exit(1)
	}

	log.Info("whaleflow stopped")
}

// chainBootstrap holds the per-underlying market state gathered before any
// trades are classified.
type chainBootstrap struct {
	contracts   []string
	oiProxy     map[string]float64
	stockPrices map[string]float64
}

// bootstrapChains snapshots the options chain and latest stock print for every
// configured underlying. Contracts are ranked by displayed size so a
// chain_depth cap keeps the most liquid ones.
func bootstrapChains(ctx context.Context, cfg *config.Config, client *alpaca.Client) (*chainBootstrap, error) {
	log := logger.GetLogger().WithComponent("main")

	boot := &chainBootstrap{
		oiProxy:     make(map[string]float64),
		stockPrices: make(map[string]float64),
	}

	for _, underlying := range cfg.Source.Alpaca.Underlyings {
		snapshots, err := client.ChainSnapshots(ctx, underlying)
		if err != nil {
			return nil, fmt.Errorf("chain snapshot for %s: %w", underlying, err)
		}

		proxy := alpaca.OIProxyFromChain(snapshots)
		contracts := make([]string, 0, len(snapshots))
		for symbol := range snapshots {
			contracts = append(contracts, symbol)
		}
		sort.Slice(contracts, func(i, j int) bool {
			if proxy[contracts[i]] != proxy[contracts[j]] {
				return proxy[contracts[i]] > proxy[contracts[j]]
			}
			return contracts[i] < contracts[j]
		})
		if depth := cfg.Source.Alpaca.ChainDepth; depth > 0 && len(contracts) > depth {
			contracts = contracts[:depth]
		}

		for _, symbol := range contracts {
			if size, ok := proxy[symbol]; ok {
				boot.oiProxy[symbol] = size
			}
		}
		boot.contracts = append(boot.contracts, contracts...)

		trade, err := client.LatestStockTrade(ctx, underlying)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"underlying": underlying}).Warn("no latest stock price, moneyness degraded")
		} else if trade.Price > 0 {
			boot.stockPrices[underlying] = trade.Price
		}

		log.WithFields(logger.Fields{
			"underlying": underlying,
			"contracts":  len(contracts),
		}).Info("bootstrapped options chain")
	}

	return boot, nil
}

// runScan fetches the lookback window of historical option trades, classifies
// them offline, and prints the report to stdout.
func runScan(cfg *config.Config) error {
	log := logger.GetLogger().WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := alpaca.NewClient(cfg)

	boot, err := bootstrapChains(ctx, cfg, client)
	if err != nil {
		return err
	}
	if len(boot.contracts) == 0 {
		return fmt.Errorf("no option contracts found for configured underlyings")
	}

	lookback := cfg.Source.Alpaca.LookbackWindow
	if lookback <= 0 {
		lookback = defaultLookbackWindow
	}
	end := time.Now().UTC()
	start := end.Add(-lookback)

	trades, err := client.FetchOptionTrades(ctx, boot.contracts, start, end)
	if err != nil {
		return fmt.Errorf("fetch option trades: %w", err)
	}
	quotes, err := client.FetchOptionQuotes(ctx, boot.contracts, start, end)
	if err != nil {
		return fmt.Errorf("fetch option quotes: %w", err)
	}

	engineCfg := cfg.EngineConfig()
	annotated := annotateHistory(engineCfg, trades, quotes, boot, end)
	optionTrades := make([]models.AnnotatedTrade, 0, len(annotated))
	for _, trade := range annotated {
		if trade.Option != nil {
			optionTrades = append(optionTrades, trade)
		}
	}
	sweeps := engine.DetectSweeps(optionTrades, engineCfg.SweepWindow, engineCfg.SweepMinLegs)

	log.WithFields(logger.Fields{
		"contracts": len(boot.contracts),
		"trades":    len(annotated),
		"sweeps":    len(sweeps),
		"window":    lookback.String(),
	}).Info("scan complete")

	fmt.Fprintf(os.Stdout, "whaleflow scan: %d contracts, %s window ending %s\n\n",
		len(boot.contracts), lookback, end.Format(time.RFC3339))
	writer.WriteScanSummary(os.Stdout, annotated, sweeps, cfg.MinReportTier(), cfg.Writer.TopN)
	return nil
}

// annotateHistory classifies fetched trades in timestamp order per contract,
// pairing each trade with the latest quote at or before it and accumulating
// session volume against the chain's size proxy.
func annotateHistory(engineCfg engine.Config, trades map[string][]models.AlpacaTrade, quotes map[string][]models.AlpacaQuote, boot *chainBootstrap, now time.Time) []models.AnnotatedTrade {
	var annotated []models.AnnotatedTrade

	symbols := make([]string, 0, len(trades))
	for symbol := range trades {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		option := engine.ParseOptionSymbol(symbol)

		symbolTrades := trades[symbol]
		sort.SliceStable(symbolTrades, func(i, j int) bool {
			return symbolTrades[i].Timestamp < symbolTrades[j].Timestamp
		})

		symbolQuotes := quotes[symbol]
		quoteTimes := make([]time.Time, len(symbolQuotes))
		for i, quote := range symbolQuotes {
			quoteTimes[i] = parseAPITimestamp(quote.Timestamp)
		}

		var volume int64
		for _, wire := range symbolTrades {
			ts := parseAPITimestamp(wire.Timestamp)
			trade := models.Trade{
				Symbol:    symbol,
				Price:     wire.Price,
				Size:      wire.Size,
				Exchange:  wire.Exchange,
				Timestamp: ts,
			}

			actx := engine.AnnotateContext{Option: option, Now: now}
			if option != nil {
				actx.StockPrice = boot.stockPrices[option.Underlying]
				volume += wire.Size
				if proxy := boot.oiProxy[symbol]; proxy > 0 {
					ratio := float64(volume) / proxy
					actx.VolumeOverOI = &ratio
				}
			}
			if i := latestQuoteAt(quoteTimes, ts); i >= 0 {
				actx.Quote = &models.Quote{
					Symbol:    symbol,
					Bid:       symbolQuotes[i].BidPrice,
					Ask:       symbolQuotes[i].AskPrice,
					Timestamp: quoteTimes[i],
				}
			}

			annotated = append(annotated, engineCfg.Annotate(trade, actx))
		}
	}

	return annotated
}

// latestQuoteAt returns the index of the last quote timestamped at or before
// ts, or -1 when no quote precedes it. Quote times are in ascending order.
func latestQuoteAt(quoteTimes []time.Time, ts time.Time) int {
	i := sort.Search(len(quoteTimes), func(i int) bool {
		return quoteTimes[i].After(ts)
	})
	return i - 1
}

func parseAPITimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// runLive wires the full streaming pipeline and blocks until SIGINT/SIGTERM.
func runLive(cfg *config.Config) {
	log := logger.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Storage.S3.Enabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Whaleflow.Name)
	}

	channels := channel.NewChannels(
		cfg.Channels.RawBuffer,
		cfg.Channels.AnnotatedBuffer,
		cfg.Channels.ReportBuffer,
		cfg.Channels.SweepBuffer,
	)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx)

	client := alpaca.NewClient(cfg)
	boot, err := bootstrapChains(ctx, cfg, client)
	if err != nil {
		log.WithError(err).Error("failed to bootstrap option chains")
		os.Exit(1)
	}
	if len(boot.contracts) == 0 {
		log.Error("no option contracts found for configured underlyings")
		os.Exit(1)
	}

	annotator := processor.NewAnnotator(cfg, channels)
	for symbol, proxy := range boot.oiProxy {
		annotator.SetOpenInterest(symbol, proxy)
	}
	for underlying, price := range boot.stockPrices {
		annotator.SetStockPrice(underlying, price)
	}

	sweeper := processor.NewSweeper(cfg, channels)

	var archiver *writer.Archiver
	if cfg.Storage.S3.Enabled {
		archiver, err = writer.NewArchiver(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; alerts will not be archived")
	}
	reporter := writer.NewReporter(cfg, channels, archiver)

	// Stock prints for the underlyings ride the trade stream alongside the
	// option contracts to keep moneyness current.
	tradeSymbols := append(append([]string{}, boot.contracts...), cfg.Source.Alpaca.Underlyings...)
	stream := alpaca.NewStreamReader(cfg, channels, tradeSymbols, boot.contracts)

	if err := reporter.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start reporter")
		os.Exit(1)
	}
	if err := sweeper.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start sweeper")
		os.Exit(1)
	}
	if err := annotator.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start annotator")
		os.Exit(1)
	}
	if err := stream.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start stream reader")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping stream reader")
	stream.Stop()

	log.Info("stopping annotator")
	annotator.Stop()

	log.Info("stopping sweeper")
	sweeper.Stop()

	log.Info("stopping reporter")
	reporter.Stop()
}

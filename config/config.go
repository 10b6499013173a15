package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"whaleflow/engine"
	"whaleflow/models"
)

type Config struct {
	Whaleflow WhaleflowConfig `yaml:"whaleflow"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Reader    ReaderConfig    `yaml:"reader"`
	Processor ProcessorConfig `yaml:"processor"`
	Writer    WriterConfig    `yaml:"writer"`
	Source    SourceConfig    `yaml:"source"`
	Engine    EngineConfig    `yaml:"engine"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type WhaleflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	ChannelSize bool `yaml:"channel_size"`
	RequestRate bool `yaml:"request_rate"`
}

type ChannelsConfig struct {
	RawBuffer       int `yaml:"raw_buffer"`
	AnnotatedBuffer int `yaml:"annotated_buffer"`
	ReportBuffer    int `yaml:"report_buffer"`
	SweepBuffer     int `yaml:"sweep_buffer"`
}

type ReaderConfig struct {
	MaxWorkers int             `yaml:"max_workers"`
	Timeout    time.Duration   `yaml:"timeout"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Retry      RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type ProcessorConfig struct {
	MaxWorkers         int           `yaml:"max_workers"`
	BatchSize          int           `yaml:"batch_size"`
	BatchTimeout       time.Duration `yaml:"batch_timeout"`
	SweepFlushInterval time.Duration `yaml:"sweep_flush_interval"`
}

type WriterConfig struct {
	MaxWorkers int           `yaml:"max_workers"`
	MinTier    string        `yaml:"min_tier"`
	TopN       int           `yaml:"top_n"`
	Parquet    ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Compression string `yaml:"compression"`
	PageSize    int    `yaml:"page_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type SourceConfig struct {
	Alpaca AlpacaSourceConfig `yaml:"alpaca"`
}

type AlpacaSourceConfig struct {
	DataURL        string               `yaml:"data_url"`
	StreamURL      string               `yaml:"stream_url"`
	Feed           string               `yaml:"feed"`
	KeyID          string               `yaml:"key_id"`
	SecretKey      string               `yaml:"secret_key"`
	Underlyings    []string             `yaml:"underlyings"`
	ChainDepth     int                  `yaml:"chain_depth"`
	LookbackWindow time.Duration        `yaml:"lookback_window"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

// EngineConfig overlays the built-in classification defaults. Empty fields
// keep the defaults; ladders given here replace the whole ladder for that
// moneyness class.
type EngineConfig struct {
	MoneynessBoundary float64                 `yaml:"moneyness_boundary"`
	SweepWindow       time.Duration           `yaml:"sweep_window"`
	SweepMinLegs      int                     `yaml:"sweep_min_legs"`
	Thresholds        map[string]LadderConfig `yaml:"thresholds"`
	LiquidityClasses  map[string]string       `yaml:"liquidity_classes"`
	Multipliers       map[string]float64      `yaml:"multipliers"`
}

type LadderConfig struct {
	Notable     float64 `yaml:"notable"`
	Unusual     float64 `yaml:"unusual"`
	Whale       float64 `yaml:"whale"`
	StrongWhale float64 `yaml:"strong_whale"`
	Headline    float64 `yaml:"headline"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	KeyPrefix       string `yaml:"key_prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string                 `yaml:"level"`
	Format string                 `yaml:"format"`
	Output string                 `yaml:"output"`
	MaxAge int                    `yaml:"max_age"`
	Fields map[string]interface{} `yaml:"fields"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{
			ChannelSize: true,
			RequestRate: true,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Credentials come from the environment when present so config files can
	// stay free of secrets.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		config.Source.Alpaca.KeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		config.Source.Alpaca.SecretKey = strings.TrimSpace(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Whaleflow.Name == "" {
		return fmt.Errorf("whaleflow.name is required")
	}

	if cfg.Whaleflow.Version == "" {
		return fmt.Errorf("whaleflow.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}

	if cfg.Reader.MaxWorkers <= 0 {
		return fmt.Errorf("reader.max_workers must be greater than 0")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}
	if cfg.Processor.BatchSize <= 0 {
		return fmt.Errorf("processor.batch_size must be greater than 0")
	}
	if cfg.Processor.BatchTimeout <= 0 {
		return fmt.Errorf("processor.batch_timeout must be greater than 0")
	}

	if cfg.Engine.SweepWindow < 0 {
		return fmt.Errorf("engine.sweep_window must not be negative")
	}
	if cfg.Engine.SweepMinLegs < 0 {
		return fmt.Errorf("engine.sweep_min_legs must not be negative")
	}
	for class, ladder := range cfg.Engine.Thresholds {
		switch class {
		case "itm", "atm", "otm":
		default:
			return fmt.Errorf("engine.thresholds.%s: unknown moneyness class", class)
		}
		if !(ladder.Notable < ladder.Unusual && ladder.Unusual < ladder.Whale &&
			ladder.Whale < ladder.StrongWhale && ladder.StrongWhale < ladder.Headline) {
			return fmt.Errorf("engine.thresholds.%s must be strictly increasing", class)
		}
		if ladder.Notable <= 0 {
			return fmt.Errorf("engine.thresholds.%s.notable must be greater than 0", class)
		}
	}
	for ticker, class := range cfg.Engine.LiquidityClasses {
		switch engine.LiquidityClass(class) {
		case engine.LiquidityMega, engine.LiquidityLarge, engine.LiquidityMid, engine.LiquiditySmall:
		default:
			return fmt.Errorf("engine.liquidity_classes.%s: unknown class '%s'", ticker, class)
		}
	}

	if cfg.Writer.MinTier != "" {
		if _, ok := parseTier(cfg.Writer.MinTier); !ok {
			return fmt.Errorf("writer.min_tier '%s' is invalid", cfg.Writer.MinTier)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

// EngineConfig materializes the classification parameters: built-in defaults
// with the file's overrides applied on top.
func (cfg *Config) EngineConfig() engine.Config {
	ec := engine.DefaultConfig()

	if cfg.Engine.MoneynessBoundary > 0 {
		ec.MoneynessBoundary = cfg.Engine.MoneynessBoundary
	}
	if cfg.Engine.SweepWindow > 0 {
		ec.SweepWindow = cfg.Engine.SweepWindow
	}
	if cfg.Engine.SweepMinLegs > 0 {
		ec.SweepMinLegs = cfg.Engine.SweepMinLegs
	}

	for class, ladder := range cfg.Engine.Thresholds {
		var itm models.ITMStatus
		switch class {
		case "itm":
			itm = models.ITM
		case "atm":
			itm = models.ATM
		case "otm":
			itm = models.OTM
		default:
			continue
		}
		ec.Thresholds[itm] = engine.Thresholds{
			Notable:     ladder.Notable,
			Unusual:     ladder.Unusual,
			Whale:       ladder.Whale,
			StrongWhale: ladder.StrongWhale,
			Headline:    ladder.Headline,
		}
	}

	for ticker, class := range cfg.Engine.LiquidityClasses {
		ec.LiquidityClasses[strings.ToUpper(ticker)] = engine.LiquidityClass(class)
	}
	for class, mult := range cfg.Engine.Multipliers {
		if mult > 0 {
			ec.Multipliers[engine.LiquidityClass(class)] = mult
		}
	}

	return ec
}

// MinReportTier resolves writer.min_tier, defaulting to whale.
func (cfg *Config) MinReportTier() models.Tier {
	if tier, ok := parseTier(cfg.Writer.MinTier); ok {
		return tier
	}
	return models.TierWhale
}

func parseTier(s string) (models.Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "noise":
		return models.TierNoise, true
	case "notable":
		return models.TierNotable, true
	case "unusual":
		return models.TierUnusual, true
	case "whale":
		return models.TierWhale, true
	case "strong_whale":
		return models.TierStrongWhale, true
	case "headline":
		return models.TierHeadline, true
	}
	return "", false
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

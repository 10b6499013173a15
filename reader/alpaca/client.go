package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	appconfig "whaleflow/config"
	"whaleflow/logger"
)

const (
	defaultDataURL = "https://data.alpaca.markets"
	defaultTimeout = 30 * time.Second

	// Historical endpoints accept at most this many symbols per request.
	maxSymbolsPerRequest = 100

	// Page size for historical trade and quote requests.
	historicalPageLimit = 1000
)

// Client is a rate-limited HTTP client for the Alpaca market-data REST API.
type Client struct {
	config     *appconfig.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
	baseURL    string
	keyID      string
	secretKey  string
}

func NewClient(cfg *appconfig.Config) *Client {
	pool := cfg.Source.Alpaca.ConnectionPool
	transport := &http.Transport{
		MaxIdleConns:    pool.MaxIdleConns,
		MaxConnsPerHost: pool.MaxConnsPerHost,
		IdleConnTimeout: pool.IdleConnTimeout,
	}

	timeout := cfg.Reader.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rl := cfg.Reader.RateLimit
	rps := rl.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := rl.BurstSize
	if burst <= 0 {
		burst = 1
	}

	baseURL := cfg.Source.Alpaca.DataURL
	if baseURL == "" {
		baseURL = defaultDataURL
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		log:        logger.GetLogger(),
		baseURL:    baseURL,
		keyID:      cfg.Source.Alpaca.KeyID,
		secretKey:  cfg.Source.Alpaca.SecretKey,
	}
}

// get performs one authenticated GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.log.WithComponent("alpaca_client").WithFields(logger.Fields{"path": path}).Warn("rate limited by data API")
		return fmt.Errorf("request %s: rate limited", path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request %s: status %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// symbolBatches splits the symbol list into request-sized groups.
func symbolBatches(symbols []string) [][]string {
	var batches [][]string
	for len(symbols) > maxSymbolsPerRequest {
		batches = append(batches, symbols[:maxSymbolsPerRequest])
		symbols = symbols[maxSymbolsPerRequest:]
	}
	if len(symbols) > 0 {
		batches = append(batches, symbols)
	}
	return batches
}

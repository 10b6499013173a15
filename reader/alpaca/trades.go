package alpaca

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"whaleflow/logger"
	"whaleflow/models"
)

// FetchOptionTrades retrieves historical option trades for the given contract
// symbols between start and end, following pagination until exhausted.
func (c *Client) FetchOptionTrades(ctx context.Context, symbols []string, start, end time.Time) (map[string][]models.AlpacaTrade, error) {
	log := c.log.WithComponent("alpaca_client").WithFields(logger.Fields{"operation": "fetch_option_trades"})

	trades := make(map[string][]models.AlpacaTrade)
	for _, batch := range symbolBatches(symbols) {
		if err := c.fetchTradePages(ctx, "/v1beta1/options/trades", batch, start, end, trades); err != nil {
			return nil, err
		}
	}

	total := 0
	for _, symbolTrades := range trades {
		total += len(symbolTrades)
	}
	log.WithFields(logger.Fields{
		"symbols": len(symbols),
		"trades":  total,
	}).Info("fetched historical option trades")

	return trades, nil
}

// FetchStockTrades retrieves historical equity trades for the given tickers
// between start and end.
func (c *Client) FetchStockTrades(ctx context.Context, symbols []string, start, end time.Time) (map[string][]models.AlpacaTrade, error) {
	log := c.log.WithComponent("alpaca_client").WithFields(logger.Fields{"operation": "fetch_stock_trades"})

	trades := make(map[string][]models.AlpacaTrade)
	for _, batch := range symbolBatches(symbols) {
		if err := c.fetchTradePages(ctx, "/v2/stocks/trades", batch, start, end, trades); err != nil {
			return nil, err
		}
	}

	log.WithFields(logger.Fields{"symbols": len(symbols)}).Info("fetched historical stock trades")
	return trades, nil
}

func (c *Client) fetchTradePages(ctx context.Context, path string, symbols []string, start, end time.Time, into map[string][]models.AlpacaTrade) error {
	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))
	query.Set("limit", strconv.Itoa(historicalPageLimit))

	for {
		var page models.AlpacaTradesResponse
		if err := c.get(ctx, path, query, &page); err != nil {
			return fmt.Errorf("fetch trades page: %w", err)
		}

		for symbol, symbolTrades := range page.Trades {
			into[symbol] = append(into[symbol], symbolTrades...)
		}

		if page.NextPageToken == nil || *page.NextPageToken == "" {
			return nil
		}
		query.Set("page_token", *page.NextPageToken)
	}
}

// LatestStockTrade returns the most recent trade for one equity ticker.
func (c *Client) LatestStockTrade(ctx context.Context, symbol string) (models.AlpacaTrade, error) {
	var resp models.AlpacaLatestTradeResponse
	if err := c.get(ctx, "/v2/stocks/"+symbol+"/trades/latest", nil, &resp); err != nil {
		return models.AlpacaTrade{}, err
	}
	return resp.Trade, nil
}

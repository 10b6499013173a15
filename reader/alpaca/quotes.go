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

// FetchOptionQuotes retrieves historical option quotes for the given contract
// symbols between start and end, following pagination until exhausted.
func (c *Client) FetchOptionQuotes(ctx context.Context, symbols []string, start, end time.Time) (map[string][]models.AlpacaQuote, error) {
	log := c.log.WithComponent("alpaca_client").WithFields(logger.Fields{"operation": "fetch_option_quotes"})

	quotes := make(map[string][]models.AlpacaQuote)
	for _, batch := range symbolBatches(symbols) {
		query := url.Values{}
		query.Set("symbols", strings.Join(batch, ","))
		query.Set("start", start.UTC().Format(time.RFC3339))
		query.Set("end", end.UTC().Format(time.RFC3339))
		query.Set("limit", strconv.Itoa(historicalPageLimit))

		for {
			var page models.AlpacaQuotesResponse
			if err := c.get(ctx, "/v1beta1/options/quotes", query, &page); err != nil {
				return nil, fmt.Errorf("fetch quotes page: %w", err)
			}

			for symbol, symbolQuotes := range page.Quotes {
				quotes[symbol] = append(quotes[symbol], symbolQuotes...)
			}

			if page.NextPageToken == nil || *page.NextPageToken == "" {
				break
			}
			query.Set("page_token", *page.NextPageToken)
		}
	}

	total := 0
	for _, symbolQuotes := range quotes {
		total += len(symbolQuotes)
	}
	log.WithFields(logger.Fields{
		"symbols": len(symbols),
		"quotes":  total,
	}).Info("fetched historical option quotes")

	return quotes, nil
}

package alpaca

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"whaleflow/logger"
	"whaleflow/models"
)

const chainPageLimit = 1000

// ChainSnapshots retrieves the full options chain snapshot for one underlying,
// keyed by contract symbol.
func (c *Client) ChainSnapshots(ctx context.Context, underlying string) (map[string]models.AlpacaSnapshot, error) {
	log := c.log.WithComponent("alpaca_client").WithFields(logger.Fields{
		"operation":  "chain_snapshots",
		"underlying": underlying,
	})

	snapshots := make(map[string]models.AlpacaSnapshot)
	query := url.Values{}
	query.Set("limit", strconv.Itoa(chainPageLimit))

	for {
		var page models.AlpacaChainResponse
		if err := c.get(ctx, "/v1beta1/options/snapshots/"+underlying, query, &page); err != nil {
			return nil, fmt.Errorf("fetch chain page: %w", err)
		}

		for symbol, snapshot := range page.Snapshots {
			snapshots[symbol] = snapshot
		}

		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		query.Set("page_token", *page.NextPageToken)
	}

	log.WithFields(logger.Fields{"contracts": len(snapshots)}).Info("fetched options chain snapshot")
	return snapshots, nil
}

// OIProxyFromChain derives a liquidity proxy per contract from a chain
// snapshot: the sum of the quoted bid and ask sizes. The feed carries no open
// interest, so displayed size stands in for it when computing volume ratios.
func OIProxyFromChain(snapshots map[string]models.AlpacaSnapshot) map[string]float64 {
	proxy := make(map[string]float64, len(snapshots))
	for symbol, snapshot := range snapshots {
		if snapshot.LatestQuote == nil {
			continue
		}
		size := float64(snapshot.LatestQuote.BidSize + snapshot.LatestQuote.AskSize)
		if size > 0 {
			proxy[symbol] = size
		}
	}
	return proxy
}

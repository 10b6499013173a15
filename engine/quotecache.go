package engine

import (
	"sync"

	"whaleflow/models"
)

// QuoteCache holds the latest known quote per symbol for streaming
// classification. One goroutine writes per key (last write wins by arrival
// order); any number of readers may observe an absent or stale entry, which
// downstream classification tolerates by degrading direction to UNKNOWN.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]models.Quote
}

func NewQuoteCache() *QuoteCache {
	return &QuoteCache{quotes: make(map[string]models.Quote)}
}

// Set overwrites the cached quote for the symbol.
func (qc *QuoteCache) Set(quote models.Quote) {
	qc.mu.Lock()
	qc.quotes[quote.Symbol] = quote
	qc.mu.Unlock()
}

// Get returns the latest cached quote for the symbol, if any.
func (qc *QuoteCache) Get(symbol string) (models.Quote, bool) {
	qc.mu.RLock()
	quote, ok := qc.quotes[symbol]
	qc.mu.RUnlock()
	return quote, ok
}

// Len reports how many symbols currently have a cached quote.
func (qc *QuoteCache) Len() int {
	qc.mu.RLock()
	defer qc.mu.RUnlock()
	return len(qc.quotes)
}

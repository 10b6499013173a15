package models

// Wire shapes for the Alpaca market-data API. Field names follow the
// single-letter keys the data endpoints use.

// AlpacaTrade is one trade as returned by the trades endpoints and the
// live stream.
type AlpacaTrade struct {
	Timestamp string  `json:"t"`
	Price     float64 `json:"p"`
	Size      int64   `json:"s"`
	Exchange  string  `json:"x"`
}

// AlpacaQuote is one NBBO quote as returned by the quotes endpoints and the
// live stream.
type AlpacaQuote struct {
	Timestamp string  `json:"t"`
	BidPrice  float64 `json:"bp"`
	BidSize   int64   `json:"bs"`
	AskPrice  float64 `json:"ap"`
	AskSize   int64   `json:"as"`
}

// AlpacaTradesResponse is the paginated historical trades response, keyed by
// symbol.
type AlpacaTradesResponse struct {
	Trades        map[string][]AlpacaTrade `json:"trades"`
	NextPageToken *string                  `json:"next_page_token"`
}

// AlpacaQuotesResponse is the paginated historical quotes response, keyed by
// symbol.
type AlpacaQuotesResponse struct {
	Quotes        map[string][]AlpacaQuote `json:"quotes"`
	NextPageToken *string                  `json:"next_page_token"`
}

// AlpacaSnapshot is one contract entry in an options chain snapshot.
type AlpacaSnapshot struct {
	LatestTrade *AlpacaTrade `json:"latestTrade"`
	LatestQuote *AlpacaQuote `json:"latestQuote"`
}

// AlpacaChainResponse is the options chain snapshot response, keyed by
// contract symbol.
type AlpacaChainResponse struct {
	Snapshots     map[string]AlpacaSnapshot `json:"snapshots"`
	NextPageToken *string                   `json:"next_page_token"`
}

// AlpacaLatestTradeResponse wraps the latest trade for a single stock.
type AlpacaLatestTradeResponse struct {
	Symbol string      `json:"symbol"`
	Trade  AlpacaTrade `json:"trade"`
}

// AlpacaStreamMessage is one element of the JSON arrays sent over the live
// websocket. T selects the message kind: "t" trade, "q" quote, "success",
// "error", "subscription".
type AlpacaStreamMessage struct {
	Type      string  `json:"T"`
	Symbol    string  `json:"S"`
	Timestamp string  `json:"t"`
	Price     float64 `json:"p"`
	Size      int64   `json:"s"`
	Exchange  string  `json:"x"`
	BidPrice  float64 `json:"bp"`
	BidSize   int64   `json:"bs"`
	AskPrice  float64 `json:"ap"`
	AskSize   int64   `json:"as"`
	Msg       string  `json:"msg"`
	Code      int     `json:"code"`
}

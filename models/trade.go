package models

import (
	"time"
)

// Trade is a raw market trade event for an equity or a listed option contract.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	Exchange  string    `json:"exchange"`
	Timestamp time.Time `json:"timestamp"`
}

// Quote is a bid/ask snapshot for a symbol. Bid or ask may be zero when the
// feed has no quote on that side.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// RawTradeMessage carries an unparsed trade payload from a reader to the
// annotator.
type RawTradeMessage struct {
	Source      string
	Symbol      string
	Data        []byte
	Timestamp   time.Time
	MessageType string
}

// RawQuoteMessage carries an unparsed quote payload from a reader to the
// quote cache writer.
type RawQuoteMessage struct {
	Source    string
	Symbol    string
	Data      []byte
	Timestamp time.Time
}

package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "whaleflow/config"
	"whaleflow/internal/channel"
	"whaleflow/logger"
	"whaleflow/models"
)

const defaultStreamURL = "wss://stream.data.alpaca.markets/v1beta1/indicative"

// StreamReader subscribes to the Alpaca websocket stream and forwards trade
// and quote messages into the raw channels. If the connection drops it is
// re-established automatically until the context is cancelled.
type StreamReader struct {
	config       *appconfig.Config
	channels     *channel.Channels
	ctx          context.Context
	wg           *sync.WaitGroup
	mu           sync.RWMutex
	running      bool
	log          *logger.Log
	tradeSymbols []string
	quoteSymbols []string
}

func NewStreamReader(cfg *appconfig.Config, channels *channel.Channels, tradeSymbols, quoteSymbols []string) *StreamReader {
	return &StreamReader{
		config:       cfg,
		channels:     channels,
		wg:           &sync.WaitGroup{},
		log:          logger.GetLogger(),
		tradeSymbols: tradeSymbols,
		quoteSymbols: quoteSymbols,
	}
}

func (r *StreamReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("stream reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	wsURL := r.config.Source.Alpaca.StreamURL
	if wsURL == "" {
		wsURL = defaultStreamURL
	}

	log := r.log.WithComponent("alpaca_stream").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"url":           wsURL,
		"trade_symbols": len(r.tradeSymbols),
		"quote_symbols": len(r.quoteSymbols),
	}).Info("starting alpaca stream reader")

	r.wg.Add(1)
	go r.stream(wsURL)

	log.Info("alpaca stream reader started successfully")
	return nil
}

func (r *StreamReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.log.WithComponent("alpaca_stream").Info("stopping alpaca stream reader")
	r.wg.Wait()
	r.log.WithComponent("alpaca_stream").Info("alpaca stream reader stopped")
}

// stream handles the websocket lifecycle: connect, authenticate, subscribe,
// read until failure, reconnect.
func (r *StreamReader) stream(wsURL string) {
	defer r.wg.Done()
	log := r.log.WithComponent("alpaca_stream").WithFields(logger.Fields{"worker": "stream"})

	for {
		if r.ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.Dial(wsURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket, retrying")
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		auth := map[string]string{
			"action": "auth",
			"key":    r.config.Source.Alpaca.KeyID,
			"secret": r.config.Source.Alpaca.SecretKey,
		}
		if err := conn.WriteJSON(auth); err != nil {
			log.WithError(err).Warn("failed to authenticate")
			conn.Close()
			continue
		}

		sub := map[string]interface{}{
			"action": "subscribe",
			"trades": r.tradeSymbols,
			"quotes": r.quoteSymbols,
		}
		if err := conn.WriteJSON(sub); err != nil {
			log.WithError(err).Warn("failed to subscribe")
			conn.Close()
			continue
		}

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				log.WithError(err).Warn("websocket read error, reconnecting")
				break
			}
			r.processMessage(msg)
		}

		select {
		case <-time.After(time.Second):
		case <-r.ctx.Done():
			return
		}
	}
}

// processMessage decodes one websocket frame, which carries an array of
// stream messages, and forwards trades and quotes into the raw channels. It
// returns the number of messages forwarded.
func (r *StreamReader) processMessage(msg []byte) int {
	log := r.log.WithComponent("alpaca_stream")

	var events []models.AlpacaStreamMessage
	if err := json.Unmarshal(msg, &events); err != nil {
		log.WithError(err).Debug("failed to decode stream frame")
		return 0
	}

	forwarded := 0
	for _, event := range events {
		switch event.Type {
		case "t":
			payload, err := json.Marshal(models.AlpacaTrade{
				Timestamp: event.Timestamp,
				Price:     event.Price,
				Size:      event.Size,
				Exchange:  event.Exchange,
			})
			if err != nil {
				log.WithError(err).Warn("failed to marshal trade event")
				continue
			}
			raw := models.RawTradeMessage{
				Source:      "alpaca_stream",
				Symbol:      event.Symbol,
				Data:        payload,
				Timestamp:   time.Now().UTC(),
				MessageType: "trade",
			}
			if r.channels.SendRawTrade(r.ctx, raw) {
				forwarded++
			} else if r.ctx.Err() == nil {
				log.Warn("raw trade channel full, dropping message")
			}
		case "q":
			payload, err := json.Marshal(models.AlpacaQuote{
				Timestamp: event.Timestamp,
				BidPrice:  event.BidPrice,
				BidSize:   event.BidSize,
				AskPrice:  event.AskPrice,
				AskSize:   event.AskSize,
			})
			if err != nil {
				log.WithError(err).Warn("failed to marshal quote event")
				continue
			}
			raw := models.RawQuoteMessage{
				Source:    "alpaca_stream",
				Symbol:    event.Symbol,
				Data:      payload,
				Timestamp: time.Now().UTC(),
			}
			if r.channels.SendRawQuote(r.ctx, raw) {
				forwarded++
			} else if r.ctx.Err() == nil {
				log.Warn("raw quote channel full, dropping message")
			}
		case "error":
			log.WithFields(logger.Fields{"code": event.Code, "msg": event.Msg}).Warn("stream error message")
		case "success", "subscription":
			log.WithFields(logger.Fields{"type": event.Type, "msg": event.Msg}).Debug("stream control message")
		}
	}
	return forwarded
}

package binance

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"binance-signal-engine/internal/market"
)

// TickerStream consumes the combined !ticker@arr stream and hands the most
// recent batch to the ingest loop. If batches arrive faster than they are
// consumed, older undelivered batches are replaced, never queued.
type TickerStream struct {
	streamURL string
	reconnect time.Duration

	mu        sync.RWMutex
	connected bool
	lastEvent map[string]int64 // symbol -> last delivered event time (ms)

	batches  chan []market.Ticker
	onStatus func(connected bool)
}

// NewTickerStream creates a stream consumer for the given futures WS base URL.
func NewTickerStream(streamURL string, reconnect time.Duration) *TickerStream {
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	return &TickerStream{
		streamURL: streamURL,
		reconnect: reconnect,
		lastEvent: make(map[string]int64),
		batches:   make(chan []market.Ticker, 1),
	}
}

// Batches returns the channel delivering the latest ticker batch.
func (ts *TickerStream) Batches() <-chan []market.Ticker {
	return ts.batches
}

// OnStatusChange registers a callback fired on connect and disconnect.
func (ts *TickerStream) OnStatusChange(fn func(connected bool)) {
	ts.onStatus = fn
}

// IsConnected reports the current connection state.
func (ts *TickerStream) IsConnected() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.connected
}

// Run connects and reconnects with a fixed backoff until ctx is cancelled.
func (ts *TickerStream) Run(ctx context.Context) {
	url := ts.streamURL + "/ws/!ticker@arr"

	for {
		if ctx.Err() != nil {
			return
		}

		if err := ts.consume(ctx, url); err != nil && ctx.Err() == nil {
			log.Printf("[STREAM] Connection lost: %v, reconnecting in %v", err, ts.reconnect)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(ts.reconnect):
		}
	}
}

func (ts *TickerStream) consume(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ts.setConnected(true)
	defer ts.setConnected(false)

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var events []StreamTicker
		if err := json.Unmarshal(payload, &events); err != nil {
			log.Printf("[STREAM] Malformed payload dropped: %v", err)
			continue
		}

		batch := ts.toBatch(events)
		if len(batch) == 0 {
			continue
		}

		// Replace an undelivered batch instead of queueing behind it.
		select {
		case ts.batches <- batch:
		default:
			select {
			case <-ts.batches:
			default:
			}
			select {
			case ts.batches <- batch:
			default:
			}
		}
	}
}

// toBatch converts stream events to tickers, dropping per-symbol duplicates
// of the same event time.
func (ts *TickerStream) toBatch(events []StreamTicker) []market.Ticker {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	batch := make([]market.Ticker, 0, len(events))
	for _, ev := range events {
		if ev.Symbol == "" {
			continue
		}
		if last, ok := ts.lastEvent[ev.Symbol]; ok && ev.EventTime <= last {
			continue
		}
		ts.lastEvent[ev.Symbol] = ev.EventTime

		batch = append(batch, market.Ticker{
			Symbol:             ev.Symbol,
			LastPrice:          ev.LastPrice,
			OpenPrice:          ev.OpenPrice,
			HighPrice:          ev.HighPrice,
			LowPrice:           ev.LowPrice,
			PriceChange:        ev.PriceChange,
			PriceChangePercent: ev.PriceChangePercent,
			BaseVolume:         ev.BaseVolume,
			QuoteVolume:        ev.QuoteVolume,
			TradeCount:         ev.TradeCount,
			EventTime:          time.UnixMilli(ev.EventTime),
		})
	}
	return batch
}

func (ts *TickerStream) setConnected(connected bool) {
	ts.mu.Lock()
	changed := ts.connected != connected
	ts.connected = connected
	ts.mu.Unlock()

	if changed {
		if connected {
			log.Printf("[STREAM] Connected to %s", ts.streamURL)
		}
		if ts.onStatus != nil {
			ts.onStatus(connected)
		}
	}
}

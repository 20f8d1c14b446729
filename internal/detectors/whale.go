package detectors

import (
	"sync"
	"time"

	"binance-signal-engine/internal/market"
)

// WhaleActivity classifies large-flow behaviour.
type WhaleActivity string

const (
	WhaleAccumulation WhaleActivity = "Accumulation"
	WhaleDistribution WhaleActivity = "Distribution"
	WhaleLargeBuy     WhaleActivity = "Large Buy"
	WhaleLargeSell    WhaleActivity = "Large Sell"
)

const (
	whaleSnapshots   = 60
	whaleRecentSpan  = 10
	whaleAvgSpan     = 20
	whaleMinSize     = 100_000 // recent quote-flow delta floor
	whaleMinRatio    = 3.0
	whaleStrongRatio = 5.0
)

// WhaleAlert flags an outsized flow burst.
type WhaleAlert struct {
	Symbol     string           `json:"symbol"`
	Size       float64          `json:"size"`  // recent quote flow, USD
	Ratio      float64          `json:"ratio"` // recent rate vs older rate
	PriceMove  float64          `json:"price_move"`
	Activity   WhaleActivity    `json:"activity"`
	Confidence float64          `json:"confidence"`
	Direction  market.Direction `json:"direction"`
	Timestamp  time.Time        `json:"timestamp"`
}

type whaleSnapshot struct {
	cumQuote float64
	price    float64
	ts       time.Time
}

// WhaleDetector watches for large flow bursts against the rolling average and
// classifies them by the concurrent price move.
type WhaleDetector struct {
	store *market.DataStore

	mu        sync.RWMutex
	snapshots map[string][]whaleSnapshot
}

func NewWhaleDetector(store *market.DataStore) *WhaleDetector {
	return &WhaleDetector{
		store:     store,
		snapshots: make(map[string][]whaleSnapshot),
	}
}

// Update samples every symbol's cumulative quote volume and price.
// Driven at the whale cadence rather than per ingest batch.
func (d *WhaleDetector) Update() {
	now := d.store.Clock().Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for symbol, state := range d.store.All() {
		ring := append(d.snapshots[symbol], whaleSnapshot{
			cumQuote: state.Current.QuoteVolume,
			price:    state.Current.LastPrice,
			ts:       now,
		})
		if len(ring) > whaleSnapshots {
			ring = ring[len(ring)-whaleSnapshots:]
		}
		d.snapshots[symbol] = ring
	}
}

func (d *WhaleDetector) Detect() []WhaleAlert {
	now := d.store.Clock().Now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	var alerts []WhaleAlert
	for symbol, ring := range d.snapshots {
		n := len(ring)
		if n < whaleRecentSpan+whaleAvgSpan+1 {
			continue
		}

		recentDelta := ring[n-1].cumQuote - ring[n-1-whaleRecentSpan].cumQuote
		olderDelta := ring[n-1-whaleRecentSpan].cumQuote - ring[n-1-whaleRecentSpan-whaleAvgSpan].cumQuote

		recentRate := recentDelta / whaleRecentSpan
		olderRate := olderDelta / whaleAvgSpan
		if olderRate <= 0 || recentDelta <= whaleMinSize {
			continue
		}

		ratio := recentRate / olderRate
		if ratio < whaleMinRatio {
			continue
		}

		refPrice := ring[n-1-whaleRecentSpan].price
		priceMove := 0.0
		if refPrice > 0 {
			priceMove = (ring[n-1].price - refPrice) / refPrice * 100
		}

		activity, direction := classifyWhale(ratio, priceMove)
		alerts = append(alerts, WhaleAlert{
			Symbol:     symbol,
			Size:       recentDelta,
			Ratio:      ratio,
			PriceMove:  priceMove,
			Activity:   activity,
			Confidence: clamp(recentDelta*25/1_000_000+ratio*50/10, 0, 100),
			Direction:  direction,
			Timestamp:  now,
		})
	}

	sortAlerts(alerts,
		func(a WhaleAlert) float64 { return a.Size },
		func(a WhaleAlert) string { return a.Symbol })
	return alerts
}

// Activity returns the latest whale confidence for one symbol, zero when the
// flow is unremarkable.
func (d *WhaleDetector) Activity(symbol string) float64 {
	for _, a := range d.Detect() {
		if a.Symbol == symbol {
			return a.Confidence
		}
	}
	return 0
}

func classifyWhale(ratio, priceMove float64) (WhaleActivity, market.Direction) {
	if ratio > whaleStrongRatio {
		if priceMove < 0 {
			return WhaleDistribution, market.DirectionShort
		}
		return WhaleAccumulation, market.DirectionLong
	}
	if priceMove < 0 {
		return WhaleLargeSell, market.DirectionShort
	}
	return WhaleLargeBuy, market.DirectionLong
}

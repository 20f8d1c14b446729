package detectors

import (
	"sync"
	"time"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/market"
)

const (
	volumeSnapshots  = 60 // bounded per-symbol snapshot ring
	volumeRecentSpan = 10
	volumeAvgSpan    = 20
)

// VolumeAlert flags a symbol whose short-term flow rate spiked against its
// recent average.
type VolumeAlert struct {
	Symbol        string           `json:"symbol"`
	Multiplier    float64          `json:"multiplier"`
	RecentRate    float64          `json:"recent_rate"`
	AvgRate       float64          `json:"avg_rate"`
	QuoteVolume   float64          `json:"quote_volume"`
	LastPrice     float64          `json:"last_price"`
	Change24h     float64          `json:"change_24h"`
	Direction     market.Direction `json:"direction"`
	Timestamp     time.Time        `json:"timestamp"`
}

type volumeSnapshot struct {
	cumQuote float64
	ts       time.Time
}

// VolumeDetector tracks cumulative 24h quote volume per ingest snapshot and
// alerts when the recent delta rate exceeds the rolling average by the
// configured multiplier. Deltas of the cumulative counter are a flow-rate
// proxy; they are approximate across the exchange's 24h rollover.
type VolumeDetector struct {
	store *market.DataStore
	cfg   config.VolumeConfig

	mu        sync.RWMutex
	snapshots map[string][]volumeSnapshot
}

func NewVolumeDetector(store *market.DataStore, cfg config.VolumeConfig) *VolumeDetector {
	return &VolumeDetector{
		store:     store,
		cfg:       cfg,
		snapshots: make(map[string][]volumeSnapshot),
	}
}

// TrackBatch appends one volume snapshot per symbol. Called by the ingest
// path after every absorbed batch.
func (d *VolumeDetector) TrackBatch(batch []market.Ticker) {
	now := d.store.Clock().Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range batch {
		ring := append(d.snapshots[t.Symbol], volumeSnapshot{cumQuote: t.QuoteVolume, ts: now})
		if len(ring) > volumeSnapshots {
			ring = ring[len(ring)-volumeSnapshots:]
		}
		d.snapshots[t.Symbol] = ring
	}
}

// Detect compares the delta rate over the last 10 snapshots against the rate
// over the 20 snapshots before them. Requires at least 31 snapshots and a 24h
// quote volume strictly above the configured floor.
func (d *VolumeDetector) Detect() []VolumeAlert {
	now := d.store.Clock().Now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	var alerts []VolumeAlert
	for symbol, ring := range d.snapshots {
		multiplier, recentRate, avgRate, ok := spikeMultiplier(ring)
		if !ok || multiplier < d.cfg.SpikeMultiplier {
			continue
		}

		state, found := d.store.Get(symbol)
		if !found {
			continue
		}
		if !(state.Current.QuoteVolume > d.cfg.MinQuoteVolume) {
			continue
		}

		alerts = append(alerts, VolumeAlert{
			Symbol:      symbol,
			Multiplier:  multiplier,
			RecentRate:  recentRate,
			AvgRate:     avgRate,
			QuoteVolume: state.Current.QuoteVolume,
			LastPrice:   state.Current.LastPrice,
			Change24h:   state.Current.PriceChangePercent,
			Direction:   market.DirectionFromChange(state.Current.PriceChangePercent),
			Timestamp:   now,
		})
	}

	sortAlerts(alerts,
		func(a VolumeAlert) float64 { return a.Multiplier },
		func(a VolumeAlert) string { return a.Symbol })
	return alerts
}

// Multiplier exposes the current spike multiplier for one symbol, used by the
// signal engine's volume component.
func (d *VolumeDetector) Multiplier(symbol string) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	multiplier, _, _, ok := spikeMultiplier(d.snapshots[symbol])
	return multiplier, ok
}

// spikeMultiplier computes recentRate/avgRate over the snapshot ring.
func spikeMultiplier(ring []volumeSnapshot) (multiplier, recentRate, avgRate float64, ok bool) {
	n := len(ring)
	if n < volumeRecentSpan+volumeAvgSpan+1 {
		return 0, 0, 0, false
	}

	recentDelta := ring[n-1].cumQuote - ring[n-1-volumeRecentSpan].cumQuote
	avgDelta := ring[n-1-volumeRecentSpan].cumQuote - ring[n-1-volumeRecentSpan-volumeAvgSpan].cumQuote

	recentRate = recentDelta / volumeRecentSpan
	avgRate = avgDelta / volumeAvgSpan
	if avgRate <= 0 {
		return 0, recentRate, avgRate, false
	}
	return recentRate / avgRate, recentRate, avgRate, true
}

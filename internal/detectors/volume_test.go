package detectors

import (
	"math"
	"testing"
	"time"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/market"
)

func testVolumeConfig() config.VolumeConfig {
	return config.VolumeConfig{SpikeMultiplier: 3.0, AvgWindowMinutes: 60, MinQuoteVolume: 1_000_000}
}

// feedVolumeRamp pushes 60 snapshots whose cumulative quote volume grows by
// 100 per step for the first 50 and 400 per step for the last 10.
func feedVolumeRamp(store *market.DataStore, clock *market.MockClock, det *VolumeDetector, symbol string) {
	cum := 2_000_000.0
	for i := 0; i < 60; i++ {
		step := 100.0
		if i >= 50 {
			step = 400.0
		}
		cum += step
		batch := []market.Ticker{{
			Symbol:             symbol,
			LastPrice:          1.0,
			QuoteVolume:        cum,
			PriceChangePercent: 2,
		}}
		store.Update(batch)
		det.TrackBatch(batch)
		clock.Advance(2 * time.Second)
	}
}

func TestVolumeSpike(t *testing.T) {
	store, clock := newTestStore()
	det := NewVolumeDetector(store, testVolumeConfig())

	feedVolumeRamp(store, clock, det, "BBBUSDT")

	alerts := det.Detect()
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}

	alert := alerts[0]
	if alert.Symbol != "BBBUSDT" {
		t.Errorf("symbol = %s", alert.Symbol)
	}
	// Recent rate 400/step against an average of 100/step.
	if math.Abs(alert.Multiplier-4.0) > 0.01 {
		t.Errorf("multiplier = %v, want 4.0", alert.Multiplier)
	}
	if alert.Direction != market.DirectionLong {
		t.Errorf("direction = %s, want LONG from positive 24h change", alert.Direction)
	}
}

func TestVolumeQuoteFloorIsStrict(t *testing.T) {
	store, clock := newTestStore()
	det := NewVolumeDetector(store, testVolumeConfig())

	// Same spike shape but the 24h quote volume sits exactly at the floor.
	cum := 0.0
	for i := 0; i < 60; i++ {
		step := 100.0
		if i >= 50 {
			step = 400.0
		}
		cum += step
		batch := []market.Ticker{{Symbol: "CCCUSDT", LastPrice: 1, QuoteVolume: cum}}
		store.Update(batch)
		det.TrackBatch(batch)
		clock.Advance(2 * time.Second)
	}
	// Final state carries exactly the minimum volume; equal means excluded.
	batch := []market.Ticker{{Symbol: "CCCUSDT", LastPrice: 1, QuoteVolume: 1_000_000}}
	store.Update(batch)

	if alerts := det.Detect(); len(alerts) != 0 {
		t.Fatalf("equal-to-floor volume must be excluded, got %d alerts", len(alerts))
	}
}

func TestVolumeRequiresEnoughSnapshots(t *testing.T) {
	store, clock := newTestStore()
	det := NewVolumeDetector(store, testVolumeConfig())

	for i := 0; i < 30; i++ {
		batch := []market.Ticker{{Symbol: "DDDUSDT", LastPrice: 1, QuoteVolume: float64(i) * 1000}}
		store.Update(batch)
		det.TrackBatch(batch)
		clock.Advance(2 * time.Second)
	}

	if _, ok := det.Multiplier("DDDUSDT"); ok {
		t.Error("30 snapshots should not be enough for a multiplier")
	}
}

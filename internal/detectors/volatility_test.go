package detectors

import (
	"testing"
	"time"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/market"
)

func testVolatilityConfig() config.VolatilityConfig {
	return config.VolatilityConfig{MinChange24h: 10, CriticalChange24h: 25}
}

func newTestStore() (*market.DataStore, *market.MockClock) {
	clock := market.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return market.NewDataStore(clock, 15*time.Minute, time.Hour), clock
}

func TestVolatilityGate(t *testing.T) {
	store, _ := newTestStore()
	store.Update([]market.Ticker{{
		Symbol:             "AAAUSDT",
		OpenPrice:          100,
		LastPrice:          111,
		HighPrice:          112,
		LowPrice:           99,
		QuoteVolume:        2e7,
		PriceChangePercent: 11,
	}})

	alerts := NewVolatilityDetector(store, testVolatilityConfig()).Detect()
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}

	alert := alerts[0]
	if alert.Symbol != "AAAUSDT" {
		t.Errorf("symbol = %s", alert.Symbol)
	}
	if alert.Direction != market.DirectionLong {
		t.Errorf("direction = %s, want LONG", alert.Direction)
	}
	if alert.IsCritical {
		t.Error("11%% should not be critical at a 25%% threshold")
	}
	if alert.Change24h != 11 {
		t.Errorf("change24h = %v, want 11", alert.Change24h)
	}
}

func TestVolatilityBelowThresholdSilent(t *testing.T) {
	store, _ := newTestStore()
	store.Update([]market.Ticker{{Symbol: "AAAUSDT", LastPrice: 100, PriceChangePercent: 9.9}})

	if alerts := NewVolatilityDetector(store, testVolatilityConfig()).Detect(); len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(alerts))
	}
}

func TestCriticalSet(t *testing.T) {
	store, _ := newTestStore()
	store.Update([]market.Ticker{
		{Symbol: "AAAUSDT", LastPrice: 111, PriceChangePercent: 11},
		{Symbol: "XXXUSDT", LastPrice: 50, PriceChangePercent: -30},
		{Symbol: "YYYUSDT", LastPrice: 10, PriceChangePercent: 27},
	})

	set := NewVolatilityDetector(store, testVolatilityConfig()).CriticalSet()
	if len(set) != 2 {
		t.Fatalf("critical set = %v, want 2 entries", set)
	}
	if !set["XXXUSDT"] || !set["YYYUSDT"] {
		t.Errorf("critical set = %v", set)
	}
	if set["AAAUSDT"] {
		t.Error("AAAUSDT at 11%% should not be critical")
	}
}

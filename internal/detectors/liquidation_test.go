package detectors

import (
	"testing"
	"time"

	"binance-signal-engine/internal/market"
)

func feedSlide(store *market.DataStore, clock *market.MockClock, symbol string, start float64, steps int) float64 {
	price := start
	for i := 0; i < steps; i++ {
		store.Update([]market.Ticker{{Symbol: symbol, LastPrice: price, QuoteVolume: 2e7}})
		clock.Advance(10 * time.Second)
		price -= 0.35
	}
	return price
}

func TestLiquidationAccumulatesOnUpdateOnly(t *testing.T) {
	store, clock := newTestStore()
	det := NewLiquidationDetector(store)

	// Ten snapshots sliding about 3% on heavy volume.
	price := feedSlide(store, clock, "KKKUSDT", 100, 10)

	// Reading before any sample sees nothing.
	if alerts := det.Detect(); len(alerts) != 0 {
		t.Fatalf("alerts before sampling = %d, want 0", len(alerts))
	}

	det.Update()
	alerts := det.Detect()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	first := alerts[0]
	if first.MovePercent >= 0 {
		t.Errorf("move = %v, want negative on a slide", first.MovePercent)
	}
	if first.Direction != market.DirectionShort {
		t.Errorf("direction = %s, want SHORT", first.Direction)
	}
	if first.Estimated <= 0 || first.WindowTotal != first.Estimated {
		t.Errorf("estimated = %v window = %v", first.Estimated, first.WindowTotal)
	}

	// Repeated reads never inflate the window total.
	again := det.Detect()
	if len(again) != 1 || again[0].WindowTotal != first.WindowTotal {
		t.Fatalf("window total moved on a read: %v", again)
	}

	// Another sample while the cascade continues grows the total.
	feedSlide(store, clock, "KKKUSDT", price, 1)
	det.Update()
	grown := det.Detect()
	if len(grown) != 1 || grown[0].WindowTotal <= first.WindowTotal {
		t.Errorf("window total = %v, want growth past %v", grown[0].WindowTotal, first.WindowTotal)
	}
}

func TestLiquidationIgnoresQuietSymbols(t *testing.T) {
	store, clock := newTestStore()
	det := NewLiquidationDetector(store)

	// Flat price on heavy volume never qualifies.
	for i := 0; i < 12; i++ {
		store.Update([]market.Ticker{{Symbol: "LLLUSDT", LastPrice: 100, QuoteVolume: 2e7}})
		clock.Advance(10 * time.Second)
	}
	det.Update()
	if alerts := det.Detect(); len(alerts) != 0 {
		t.Errorf("flat price alerts = %d, want 0", len(alerts))
	}
}

func TestLiquidationWindowExpires(t *testing.T) {
	store, clock := newTestStore()
	det := NewLiquidationDetector(store)

	feedSlide(store, clock, "MMMUSDT", 100, 10)
	det.Update()
	if alerts := det.Detect(); len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}

	// Past the rolling window the accumulated events no longer count.
	clock.Advance(6 * time.Minute)
	if alerts := det.Detect(); len(alerts) != 0 {
		t.Errorf("expired events still reported: %d alerts", len(alerts))
	}
}

package market

import (
	"testing"
	"time"
)

func testStore() (*DataStore, *MockClock) {
	clock := NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewDataStore(clock, 15*time.Minute, time.Hour), clock
}

func tick(symbol string, price float64) Ticker {
	return Ticker{Symbol: symbol, LastPrice: price, QuoteVolume: 1e6}
}

func TestUpdateAbsorbsBatchAtomically(t *testing.T) {
	store, _ := testStore()

	store.Update([]Ticker{tick("BTCUSDT", 50000), tick("ETHUSDT", 3000)})

	if store.Len() != 2 {
		t.Fatalf("expected 2 symbols, got %d", store.Len())
	}
	state, ok := store.Get("BTCUSDT")
	if !ok {
		t.Fatal("BTCUSDT not found")
	}
	if state.Current.LastPrice != 50000 {
		t.Errorf("expected price 50000, got %v", state.Current.LastPrice)
	}
	if store.Updates() != 1 {
		t.Errorf("expected 1 update, got %d", store.Updates())
	}
}

func TestNewListingsOnlyAfterFirstBatch(t *testing.T) {
	store, clock := testStore()

	// The seeding batch never reports listings: everything is first-seen.
	listings := store.Update([]Ticker{tick("BTCUSDT", 50000), tick("ETHUSDT", 3000)})
	if len(listings) != 0 {
		t.Fatalf("seeding batch reported listings: %v", listings)
	}

	clock.Advance(2 * time.Second)
	listings = store.Update([]Ticker{tick("BTCUSDT", 50001), tick("NEWUSDT", 1)})
	if len(listings) != 1 || listings[0] != "NEWUSDT" {
		t.Fatalf("expected [NEWUSDT], got %v", listings)
	}

	state, _ := store.Get("NEWUSDT")
	if !state.IsNew {
		t.Error("NEWUSDT should carry the IsNew flag")
	}

	// The flag expires after an hour.
	clock.Advance(61 * time.Minute)
	store.Update([]Ticker{tick("NEWUSDT", 1.1)})
	state, _ = store.Get("NEWUSDT")
	if state.IsNew {
		t.Error("IsNew should expire after an hour")
	}
}

func TestOutOfOrderEventsDropped(t *testing.T) {
	store, _ := testStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := tick("BTCUSDT", 50000)
	first.EventTime = base
	store.Update([]Ticker{first})

	stale := tick("BTCUSDT", 1)
	stale.EventTime = base.Add(-time.Second)
	store.Update([]Ticker{stale})

	state, _ := store.Get("BTCUSDT")
	if state.Current.LastPrice != 50000 {
		t.Errorf("stale event overwrote state: price %v", state.Current.LastPrice)
	}
}

func TestPriceHistoryTrimmedToWindow(t *testing.T) {
	store, clock := testStore()

	for i := 0; i < 30; i++ {
		store.Update([]Ticker{tick("BTCUSDT", 50000+float64(i))})
		clock.Advance(time.Minute)
	}

	state, _ := store.Get("BTCUSDT")
	for _, p := range state.PriceHistory {
		if clock.Now().Sub(p.Ts) > 15*time.Minute {
			t.Errorf("history point %v is outside the 15m window", p.Ts)
		}
	}
	if len(state.PriceHistory) == 0 {
		t.Fatal("history should not be empty")
	}
}

func TestPriceChangeOver(t *testing.T) {
	store, clock := testStore()

	store.Update([]Ticker{tick("BTCUSDT", 100)})
	clock.Advance(5 * time.Minute)
	store.Update([]Ticker{tick("BTCUSDT", 105)})

	state, _ := store.Get("BTCUSDT")
	change, minutes, ok := state.PriceChangeOver(10*time.Minute, clock.Now())
	if !ok {
		t.Fatal("expected a measurable change")
	}
	if change != 5 {
		t.Errorf("expected 5%% change, got %v", change)
	}
	if minutes != 5 {
		t.Errorf("expected 5 minutes, got %v", minutes)
	}

	// A single point in the window is not measurable.
	single, _ := testStore()
	single.Update([]Ticker{tick("ETHUSDT", 3000)})
	state, _ = single.Get("ETHUSDT")
	if _, _, ok := state.PriceChangeOver(10*time.Minute, clock.Now()); ok {
		t.Error("one point should not produce a change")
	}
}

func TestVolumeChangeOver(t *testing.T) {
	store, clock := testStore()

	for i := 0; i <= 10; i++ {
		store.Update([]Ticker{{Symbol: "BTCUSDT", LastPrice: 100, QuoteVolume: 1e6 + float64(i)*1e5}})
		clock.Advance(time.Minute)
	}

	state, _ := store.Get("BTCUSDT")
	change, ok := state.VolumeChangeOver(time.Hour, clock.Now())
	if !ok {
		t.Fatal("expected a measurable change")
	}
	if change != 100 {
		t.Errorf("expected 100%% growth, got %v", change)
	}

	// A decreasing cumulative counter means the 24h rollover landed in the
	// window; the pair is not measurable.
	store.Update([]Ticker{{Symbol: "BTCUSDT", LastPrice: 100, QuoteVolume: 1e5}})
	state, _ = store.Get("BTCUSDT")
	if _, ok := state.VolumeChangeOver(time.Hour, clock.Now()); ok {
		t.Error("rollover window should not be measurable")
	}
}

func TestReadersReceiveCopies(t *testing.T) {
	store, _ := testStore()
	store.Update([]Ticker{tick("BTCUSDT", 50000)})

	state, _ := store.Get("BTCUSDT")
	state.PriceHistory[0].Price = -1
	state.Current.LastPrice = -1

	again, _ := store.Get("BTCUSDT")
	if again.PriceHistory[0].Price == -1 || again.Current.LastPrice == -1 {
		t.Error("reader mutation leaked into the store")
	}
}

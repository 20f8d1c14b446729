package market

import (
	"sort"
	"sync"
	"time"
)

// newListingAge is how long a first-seen symbol keeps its IsNew flag.
const newListingAge = time.Hour

// DataStore holds the rolling per-symbol market state. A single ingest task
// calls Update; everything else reads copies through the accessor methods, so
// a reader never observes a partially applied batch.
type DataStore struct {
	mu          sync.RWMutex
	clock       Clock
	symbols     map[string]*SymbolState
	priceWindow time.Duration
	volWindow   time.Duration
	seeded      bool // first batch absorbed; later first-sights are new listings
	updates     int64
}

// NewDataStore creates a store with the configured rolling windows.
func NewDataStore(clock Clock, priceWindow, volumeWindow time.Duration) *DataStore {
	return &DataStore{
		clock:       clock,
		symbols:     make(map[string]*SymbolState),
		priceWindow: priceWindow,
		volWindow:   volumeWindow,
	}
}

// Update absorbs one ticker batch atomically and returns symbols seen for the
// first time after the initial batch. Out-of-order events (event time behind
// the current one for the same symbol) are dropped.
func (ds *DataStore) Update(batch []Ticker) []string {
	if len(batch) == 0 {
		return nil
	}

	now := ds.clock.Now()
	var newListings []string

	ds.mu.Lock()
	defer ds.mu.Unlock()

	for _, t := range batch {
		if t.Symbol == "" {
			continue
		}

		state, exists := ds.symbols[t.Symbol]
		if !exists {
			state = &SymbolState{
				Symbol:    t.Symbol,
				FirstSeen: now,
				IsNew:     true,
			}
			ds.symbols[t.Symbol] = state
			if ds.seeded {
				newListings = append(newListings, t.Symbol)
			}
		}

		if !state.Current.EventTime.IsZero() && t.EventTime.Before(state.Current.EventTime) {
			continue
		}

		state.Current = t
		state.PriceHistory = appendTrimmedPrice(state.PriceHistory, PricePoint{Price: t.LastPrice, Ts: now}, now.Add(-ds.priceWindow))
		state.VolumeHistory = appendTrimmedVolume(state.VolumeHistory, VolumePoint{CumQuoteVolume: t.QuoteVolume, Ts: now}, now.Add(-ds.volWindow))

		if state.IsNew && now.Sub(state.FirstSeen) > newListingAge {
			state.IsNew = false
		}
	}

	ds.seeded = true
	ds.updates++
	sort.Strings(newListings)
	return newListings
}

// appendTrimmedPrice appends p keeping the history strictly increasing in ts
// and within the window.
func appendTrimmedPrice(hist []PricePoint, p PricePoint, cutoff time.Time) []PricePoint {
	if n := len(hist); n > 0 && !p.Ts.After(hist[n-1].Ts) {
		return hist
	}
	hist = append(hist, p)
	i := 0
	for i < len(hist) && hist[i].Ts.Before(cutoff) {
		i++
	}
	return hist[i:]
}

func appendTrimmedVolume(hist []VolumePoint, p VolumePoint, cutoff time.Time) []VolumePoint {
	if n := len(hist); n > 0 && !p.Ts.After(hist[n-1].Ts) {
		return hist
	}
	hist = append(hist, p)
	i := 0
	for i < len(hist) && hist[i].Ts.Before(cutoff) {
		i++
	}
	return hist[i:]
}

// Get returns a deep copy of one symbol's state.
func (ds *DataStore) Get(symbol string) (SymbolState, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	state, ok := ds.symbols[symbol]
	if !ok {
		return SymbolState{}, false
	}
	return copyState(state), true
}

// All returns deep copies of every symbol's state.
func (ds *DataStore) All() map[string]SymbolState {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	out := make(map[string]SymbolState, len(ds.symbols))
	for sym, state := range ds.symbols {
		out[sym] = copyState(state)
	}
	return out
}

// Symbols returns all known symbols sorted ascending.
func (ds *DataStore) Symbols() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	out := make([]string, 0, len(ds.symbols))
	for sym := range ds.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked symbols.
func (ds *DataStore) Len() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return len(ds.symbols)
}

// Updates returns how many batches have been absorbed.
func (ds *DataStore) Updates() int64 {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.updates
}

// Clock exposes the injected clock so collaborators share one "now".
func (ds *DataStore) Clock() Clock { return ds.clock }

func copyState(s *SymbolState) SymbolState {
	out := *s
	out.PriceHistory = append([]PricePoint(nil), s.PriceHistory...)
	out.VolumeHistory = append([]VolumePoint(nil), s.VolumeHistory...)
	return out
}

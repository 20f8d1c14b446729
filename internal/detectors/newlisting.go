package detectors

import (
	"sync"
	"time"

	"binance-signal-engine/internal/market"
)

// NewListingAlert tracks a freshly listed contract against its first
// observed price.
type NewListingAlert struct {
	Symbol          string           `json:"symbol"`
	FirstPrice      float64          `json:"first_price"`
	CurrentPrice    float64          `json:"current_price"`
	ChangeFromFirst float64          `json:"change_from_first"`
	Direction       market.Direction `json:"direction"`
	Timestamp       time.Time        `json:"timestamp"`
}

// NewListingDetector records the first observed price of symbols the
// DataStore reports as new and follows them while the flag lasts.
type NewListingDetector struct {
	store *market.DataStore

	mu          sync.Mutex
	firstPrices map[string]float64
}

func NewNewListingDetector(store *market.DataStore) *NewListingDetector {
	return &NewListingDetector{
		store:       store,
		firstPrices: make(map[string]float64),
	}
}

func (d *NewListingDetector) Detect() []NewListingAlert {
	now := d.store.Clock().Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	var alerts []NewListingAlert
	for symbol, state := range d.store.All() {
		if !state.IsNew {
			delete(d.firstPrices, symbol)
			continue
		}

		first, seen := d.firstPrices[symbol]
		if !seen {
			first = state.Current.LastPrice
			d.firstPrices[symbol] = first
		}
		if first <= 0 {
			continue
		}

		change := (state.Current.LastPrice - first) / first * 100
		alerts = append(alerts, NewListingAlert{
			Symbol:          symbol,
			FirstPrice:      first,
			CurrentPrice:    state.Current.LastPrice,
			ChangeFromFirst: change,
			Direction:       market.DirectionFromChange(change),
			Timestamp:       now,
		})
	}

	sortAlerts(alerts,
		func(a NewListingAlert) float64 { return a.ChangeFromFirst },
		func(a NewListingAlert) string { return a.Symbol })
	return alerts
}

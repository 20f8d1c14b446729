package detectors

import (
	"time"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/market"
)

// VolatilityAlert flags a symbol whose 24h move crossed the configured
// threshold.
type VolatilityAlert struct {
	Symbol      string           `json:"symbol"`
	Change24h   float64          `json:"change_24h"`
	LastPrice   float64          `json:"last_price"`
	QuoteVolume float64          `json:"quote_volume"`
	IsCritical  bool             `json:"is_critical"`
	Direction   market.Direction `json:"direction"`
	Timestamp   time.Time        `json:"timestamp"`
}

// VolatilityDetector emits alerts for large 24h percentage moves.
type VolatilityDetector struct {
	store *market.DataStore
	cfg   config.VolatilityConfig
}

func NewVolatilityDetector(store *market.DataStore, cfg config.VolatilityConfig) *VolatilityDetector {
	return &VolatilityDetector{store: store, cfg: cfg}
}

// Detect returns one alert per symbol whose |24h %| meets the minimum,
// ordered by descending magnitude.
func (d *VolatilityDetector) Detect() []VolatilityAlert {
	now := d.store.Clock().Now()
	var alerts []VolatilityAlert

	for _, state := range d.store.All() {
		change := state.Current.PriceChangePercent
		if abs(change) < d.cfg.MinChange24h {
			continue
		}
		alerts = append(alerts, VolatilityAlert{
			Symbol:      state.Symbol,
			Change24h:   change,
			LastPrice:   state.Current.LastPrice,
			QuoteVolume: state.Current.QuoteVolume,
			IsCritical:  abs(change) >= d.cfg.CriticalChange24h,
			Direction:   market.DirectionFromChange(change),
			Timestamp:   now,
		})
	}

	sortAlerts(alerts,
		func(a VolatilityAlert) float64 { return a.Change24h },
		func(a VolatilityAlert) string { return a.Symbol })
	return alerts
}

// CriticalSet returns the symbols currently above the critical threshold.
// The scheduler diffs consecutive sets to fire edge alerts exactly once.
func (d *VolatilityDetector) CriticalSet() map[string]bool {
	set := make(map[string]bool)
	for _, a := range d.Detect() {
		if a.IsCritical {
			set[a.Symbol] = true
		}
	}
	return set
}

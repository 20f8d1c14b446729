package detectors

import (
	"sync"
	"time"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/market"
)

// VelocityTrend classifies how a symbol's velocity is evolving between calls.
type VelocityTrend string

const (
	TrendAccelerating VelocityTrend = "Accelerating"
	TrendSteady       VelocityTrend = "Steady"
	TrendDecelerating VelocityTrend = "Decelerating"
)

// VelocityAlert flags a symbol moving faster than the configured %/min.
type VelocityAlert struct {
	Symbol    string           `json:"symbol"`
	Velocity  float64          `json:"velocity"` // percent per minute, signed
	Change    float64          `json:"change"`   // percent over the window
	Minutes   float64          `json:"minutes"`
	Trend     VelocityTrend    `json:"trend"`
	LastPrice float64          `json:"last_price"`
	Direction market.Direction `json:"direction"`
	Timestamp time.Time        `json:"timestamp"`
}

// VelocityDetector measures short-window price velocity. It remembers the
// previous call's velocity per symbol to classify the trend.
type VelocityDetector struct {
	store *market.DataStore
	cfg   config.VelocityConfig

	mu    sync.Mutex
	prev  map[string]float64
	accel map[string]float64
}

func NewVelocityDetector(store *market.DataStore, cfg config.VelocityConfig) *VelocityDetector {
	return &VelocityDetector{
		store: store,
		cfg:   cfg,
		prev:  make(map[string]float64),
		accel: make(map[string]float64),
	}
}

// Detect computes velocity over each symbol's price history. Symbols with
// fewer than two points in the window are skipped.
func (d *VelocityDetector) Detect() []VelocityAlert {
	now := d.store.Clock().Now()
	window := time.Duration(d.cfg.WindowMinutes) * time.Minute

	d.mu.Lock()
	defer d.mu.Unlock()

	var alerts []VelocityAlert
	for _, state := range d.store.All() {
		change, minutes, ok := state.PriceChangeOver(window, now)
		if !ok || minutes <= 0 {
			continue
		}

		velocity := change / minutes
		prev, hadPrev := d.prev[state.Symbol]
		d.prev[state.Symbol] = velocity
		if hadPrev {
			d.accel[state.Symbol] = velocity - prev
		}

		if abs(velocity) < d.cfg.MinVelocity {
			continue
		}

		trend := TrendSteady
		if hadPrev {
			switch {
			case abs(velocity)-abs(prev) > d.cfg.AccelerationThreshold:
				trend = TrendAccelerating
			case abs(prev)-abs(velocity) > d.cfg.AccelerationThreshold:
				trend = TrendDecelerating
			}
		}

		alerts = append(alerts, VelocityAlert{
			Symbol:    state.Symbol,
			Velocity:  velocity,
			Change:    change,
			Minutes:   minutes,
			Trend:     trend,
			LastPrice: state.Current.LastPrice,
			Direction: market.DirectionFromChange(velocity),
			Timestamp: now,
		})
	}

	sortAlerts(alerts,
		func(a VelocityAlert) float64 { return a.Velocity },
		func(a VelocityAlert) string { return a.Symbol })
	return alerts
}

// Acceleration returns the signed velocity delta between the last two Detect
// passes. ok is false until a symbol has been measured twice.
func (d *VelocityDetector) Acceleration(symbol string) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accel[symbol]
	return a, ok
}

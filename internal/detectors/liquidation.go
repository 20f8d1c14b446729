package detectors

import (
	"sync"
	"time"

	"binance-signal-engine/internal/market"
)

// LiquidationIntensity bands the estimated liquidated notional in a window.
type LiquidationIntensity string

const (
	LiquidationExtreme LiquidationIntensity = "Extreme"
	LiquidationHigh    LiquidationIntensity = "High"
	LiquidationMedium  LiquidationIntensity = "Medium"
	LiquidationLow     LiquidationIntensity = "Low"
)

const (
	liqMinMovePercent = 1.0
	liqMinVolume      = 5_000_000
	liqNotionalFactor = 0.3
	liqWindow         = 5 * time.Minute
	liqSnapshotSpan   = 10
)

// LiquidationAlert estimates a liquidation cascade. The estimate is inferred
// from public ticker data only, not a liquidation feed, so it is an
// approximation of cascade pressure rather than ground truth.
type LiquidationAlert struct {
	Symbol      string               `json:"symbol"`
	Estimated   float64              `json:"estimated"`    // notional from this event
	WindowTotal float64              `json:"window_total"` // accumulated over the window
	MovePercent float64              `json:"move_percent"`
	Intensity   LiquidationIntensity `json:"intensity"`
	Direction   market.Direction     `json:"direction"` // side being liquidated out
	Timestamp   time.Time            `json:"timestamp"`
}

type liqEvent struct {
	notional float64
	move     float64
	ts       time.Time
}

// LiquidationDetector infers forced-liquidation pressure from sharp moves on
// heavy volume and accumulates estimates over a rolling window.
type LiquidationDetector struct {
	store *market.DataStore

	mu     sync.Mutex
	events map[string][]liqEvent
}

func NewLiquidationDetector(store *market.DataStore) *LiquidationDetector {
	return &LiquidationDetector{
		store:  store,
		events: make(map[string][]liqEvent),
	}
}

// Update samples every symbol for fresh cascade evidence. Driven at the
// liquidation cadence; accumulation only happens here, so reading the alerts
// any number of times never inflates the window totals.
func (d *LiquidationDetector) Update() {
	now := d.store.Clock().Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for symbol, state := range d.store.All() {
		move, ok := recentMove(state.PriceHistory, liqSnapshotSpan)
		if !ok || abs(move) <= liqMinMovePercent {
			d.trimEvents(symbol, now)
			continue
		}
		if state.Current.QuoteVolume <= liqMinVolume {
			d.trimEvents(symbol, now)
			continue
		}

		estimated := state.Current.QuoteVolume * abs(move) / 100 * liqNotionalFactor
		d.events[symbol] = append(d.events[symbol], liqEvent{notional: estimated, move: move, ts: now})
		d.trimEvents(symbol, now)
	}
}

// Detect reports the accumulated cascade picture without sampling.
func (d *LiquidationDetector) Detect() []LiquidationAlert {
	now := d.store.Clock().Now()
	cutoff := now.Add(-liqWindow)

	d.mu.Lock()
	defer d.mu.Unlock()

	var alerts []LiquidationAlert
	for symbol, events := range d.events {
		var total float64
		var last *liqEvent
		for i := range events {
			if events[i].ts.Before(cutoff) {
				continue
			}
			total += events[i].notional
			last = &events[i]
		}
		if last == nil {
			continue
		}

		// A sharp drop liquidates longs, a sharp rise liquidates shorts.
		direction := market.DirectionShort
		if last.move > 0 {
			direction = market.DirectionLong
		}

		alerts = append(alerts, LiquidationAlert{
			Symbol:      symbol,
			Estimated:   last.notional,
			WindowTotal: total,
			MovePercent: last.move,
			Intensity:   liquidationIntensity(total),
			Direction:   direction,
			Timestamp:   now,
		})
	}

	sortAlerts(alerts,
		func(a LiquidationAlert) float64 { return a.WindowTotal },
		func(a LiquidationAlert) string { return a.Symbol })
	return alerts
}

func (d *LiquidationDetector) trimEvents(symbol string, now time.Time) {
	events := d.events[symbol]
	cutoff := now.Add(-liqWindow)
	i := 0
	for i < len(events) && events[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		events = events[i:]
	}
	if len(events) == 0 {
		delete(d.events, symbol)
		return
	}
	d.events[symbol] = events
}

// recentMove returns the percent change across the last n price snapshots.
func recentMove(hist []market.PricePoint, n int) (float64, bool) {
	if len(hist) < n {
		return 0, false
	}
	first := hist[len(hist)-n].Price
	last := hist[len(hist)-1].Price
	if first == 0 {
		return 0, false
	}
	return (last - first) / first * 100, true
}

func liquidationIntensity(total float64) LiquidationIntensity {
	switch {
	case total >= 5_000_000:
		return LiquidationExtreme
	case total >= 1_000_000:
		return LiquidationHigh
	case total >= 500_000:
		return LiquidationMedium
	default:
		return LiquidationLow
	}
}

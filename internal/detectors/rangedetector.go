package detectors

import (
	"time"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/market"
)

// RangePosition locates the last price inside the 24h range.
type RangePosition string

const (
	PositionBreaking RangePosition = "Breaking"
	PositionNearHigh RangePosition = "Near High"
	PositionNearLow  RangePosition = "Near Low"
	PositionMiddle   RangePosition = "Middle"
)

// RangeAlert flags a symbol with a wide 24h range.
type RangeAlert struct {
	Symbol       string           `json:"symbol"`
	RangePercent float64          `json:"range_percent"`
	Position     RangePosition    `json:"position"`
	LastPrice    float64          `json:"last_price"`
	High         float64          `json:"high"`
	Low          float64          `json:"low"`
	Direction    market.Direction `json:"direction"`
	Timestamp    time.Time        `json:"timestamp"`
}

// RangeDetector emits alerts when (high-low)/open exceeds the configured
// percentage.
type RangeDetector struct {
	store *market.DataStore
	cfg   config.RangeConfig
}

func NewRangeDetector(store *market.DataStore, cfg config.RangeConfig) *RangeDetector {
	return &RangeDetector{store: store, cfg: cfg}
}

func (d *RangeDetector) Detect() []RangeAlert {
	now := d.store.Clock().Now()
	var alerts []RangeAlert

	for _, state := range d.store.All() {
		t := state.Current
		if t.OpenPrice <= 0 || t.HighPrice <= t.LowPrice {
			continue
		}

		rangePct := (t.HighPrice - t.LowPrice) / t.OpenPrice * 100
		if rangePct < d.cfg.MinRange {
			continue
		}

		alerts = append(alerts, RangeAlert{
			Symbol:       state.Symbol,
			RangePercent: rangePct,
			Position:     rangePosition(t.LastPrice, t.HighPrice, t.LowPrice),
			LastPrice:    t.LastPrice,
			High:         t.HighPrice,
			Low:          t.LowPrice,
			Direction:    market.DirectionFromChange(t.PriceChangePercent),
			Timestamp:    now,
		})
	}

	sortAlerts(alerts,
		func(a RangeAlert) float64 { return a.RangePercent },
		func(a RangeAlert) string { return a.Symbol })
	return alerts
}

// rangePosition classifies where price sits in the range. Breaking means
// within 0.1% of either extreme; Near High/Low are the outer 20% bands.
func rangePosition(price, high, low float64) RangePosition {
	span := high - low
	if span <= 0 {
		return PositionMiddle
	}

	if high > 0 && abs(high-price)/high*100 <= 0.1 {
		return PositionBreaking
	}
	if low > 0 && abs(price-low)/low*100 <= 0.1 {
		return PositionBreaking
	}

	pos := (price - low) / span
	switch {
	case pos >= 0.8:
		return PositionNearHigh
	case pos <= 0.2:
		return PositionNearLow
	default:
		return PositionMiddle
	}
}

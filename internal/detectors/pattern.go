package detectors

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"binance-signal-engine/internal/binance"
	"binance-signal-engine/internal/market"
)

// LevelKind names how a key price level was derived.
type LevelKind string

const (
	LevelDayHigh LevelKind = "24h High"
	LevelDayLow  LevelKind = "24h Low"
	LevelRound   LevelKind = "Round Number"
	LevelCluster LevelKind = "Touch Cluster"
)

// PatternKind names a detected chart structure.
type PatternKind string

const (
	PatternDoubleTop      PatternKind = "Double Top"
	PatternDoubleBottom   PatternKind = "Double Bottom"
	PatternNearSupport    PatternKind = "Near Support"
	PatternNearResistance PatternKind = "Near Resistance"
)

const (
	patternKlineSpan      = 48 // 1h candles, two days of structure
	patternUniverseSize   = 30
	patternPerCycle       = 3
	patternProximityPct   = 2.0
	patternTouchTolerance = 0.5 // percent band counting as a touch
	patternMinTouches     = 3
	patternDoubleSpan     = 20  // closes inspected for double tops/bottoms
	patternDoubleTolPct   = 2.0 // extreme equality tolerance between halves
	patternReclaimPct     = 2.0 // close must have moved away from the level
)

// KeyLevel is a price the market has respected.
type KeyLevel struct {
	Price   float64   `json:"price"`
	Kind    LevelKind `json:"kind"`
	Touches int       `json:"touches,omitempty"`
}

// PatternAlert reports structure near the current price.
type PatternAlert struct {
	Symbol    string           `json:"symbol"`
	Pattern   PatternKind      `json:"pattern"`
	Level     KeyLevel         `json:"level"`
	Price     float64          `json:"price"`
	Distance  float64          `json:"distance"` // percent from level
	Direction market.Direction `json:"direction"`
	Timestamp time.Time        `json:"timestamp"`
}

// PatternDetector builds key levels from hourly structure and flags symbols
// trading close to them. Like the MTF detector it rotates through a liquid
// universe a few symbols at a time to stay inside the REST budget.
type PatternDetector struct {
	store  *market.DataStore
	client binance.FuturesClient
	oi     *OpenInterestDetector

	mu     sync.RWMutex
	queue  []string
	cursor int
	cache  map[string][]PatternAlert
}

func NewPatternDetector(store *market.DataStore, client binance.FuturesClient, oi *OpenInterestDetector) *PatternDetector {
	return &PatternDetector{
		store:  store,
		client: client,
		oi:     oi,
		cache:  make(map[string][]PatternAlert),
	}
}

// Update analyses the next few symbols in the rotation.
func (d *PatternDetector) Update(ctx context.Context) error {
	d.mu.Lock()
	if d.cursor == 0 || d.cursor >= len(d.queue) {
		d.queue = d.oi.topByVolume(patternUniverseSize)
		d.cursor = 0
	}
	end := d.cursor + patternPerCycle
	if end > len(d.queue) {
		end = len(d.queue)
	}
	batch := append([]string(nil), d.queue[d.cursor:end]...)
	d.cursor = end
	d.mu.Unlock()

	var firstErr error
	for _, symbol := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		alerts, err := d.analyse(ctx, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.mu.Lock()
		if len(alerts) == 0 {
			delete(d.cache, symbol)
		} else {
			d.cache[symbol] = alerts
		}
		d.mu.Unlock()
	}
	return firstErr
}

func (d *PatternDetector) analyse(ctx context.Context, symbol string) ([]PatternAlert, error) {
	klines, err := d.client.GetKlines(ctx, symbol, "1h", patternKlineSpan)
	if err != nil {
		return nil, err
	}
	if len(klines) < patternDoubleSpan {
		return nil, fmt.Errorf("insufficient 1h klines for %s", symbol)
	}

	state, ok := d.store.Get(symbol)
	if !ok || state.Current.LastPrice <= 0 {
		return nil, fmt.Errorf("no ticker state for %s", symbol)
	}
	price := state.Current.LastPrice
	now := d.store.Clock().Now()

	levels := buildKeyLevels(klines, state.Current)

	var alerts []PatternAlert
	for _, level := range levels {
		dist := (price - level.Price) / level.Price * 100
		if abs(dist) > patternProximityPct {
			continue
		}
		pattern := PatternNearSupport
		direction := market.DirectionLong
		if dist < 0 {
			// Price is below the level, so it acts as resistance.
			pattern = PatternNearResistance
			direction = market.DirectionShort
		}
		alerts = append(alerts, PatternAlert{
			Symbol:    symbol,
			Pattern:   pattern,
			Level:     level,
			Price:     price,
			Distance:  dist,
			Direction: direction,
			Timestamp: now,
		})
	}

	if kind, level, ok := detectDouble(klines); ok {
		direction := market.DirectionShort
		if kind == PatternDoubleBottom {
			direction = market.DirectionLong
		}
		alerts = append(alerts, PatternAlert{
			Symbol:    symbol,
			Pattern:   kind,
			Level:     level,
			Price:     price,
			Distance:  (price - level.Price) / level.Price * 100,
			Direction: direction,
			Timestamp: now,
		})
	}

	return alerts, nil
}

// Detect returns the cached pattern alerts, nearest level first.
func (d *PatternDetector) Detect() []PatternAlert {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var alerts []PatternAlert
	for _, list := range d.cache {
		alerts = append(alerts, list...)
	}
	sortAlerts(alerts,
		func(a PatternAlert) float64 { return patternProximityPct - abs(a.Distance) },
		func(a PatternAlert) string { return a.Symbol })
	return alerts
}

// Get returns the cached alerts for one symbol.
func (d *PatternDetector) Get(symbol string) []PatternAlert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]PatternAlert(nil), d.cache[symbol]...)
}

// buildKeyLevels derives the respected levels: the 24h extremes, the nearest
// round numbers, and any price band the hourly highs or lows touched at least
// three times.
func buildKeyLevels(klines []binance.Kline, ticker market.Ticker) []KeyLevel {
	levels := []KeyLevel{
		{Price: ticker.HighPrice, Kind: LevelDayHigh},
		{Price: ticker.LowPrice, Kind: LevelDayLow},
	}

	for _, round := range nearestRounds(ticker.LastPrice) {
		levels = append(levels, KeyLevel{Price: round, Kind: LevelRound})
	}

	levels = append(levels, touchClusters(klines)...)
	return levels
}

// nearestRounds returns the round-number levels bracketing the price at a
// step matched to its magnitude.
func nearestRounds(price float64) []float64 {
	if price <= 0 {
		return nil
	}
	magnitude := math.Pow(10, math.Floor(math.Log10(price)))
	step := magnitude / 10
	below := math.Floor(price/step) * step
	above := below + step
	if below == price {
		return []float64{below}
	}
	return []float64{below, above}
}

// touchClusters finds price bands the hourly extremes revisited.
func touchClusters(klines []binance.Kline) []KeyLevel {
	var extremes []float64
	for _, k := range klines {
		extremes = append(extremes, k.High, k.Low)
	}

	var levels []KeyLevel
	used := make([]bool, len(extremes))
	for i, base := range extremes {
		if used[i] || base <= 0 {
			continue
		}
		touches := 0
		var sum float64
		for j, p := range extremes {
			if used[j] {
				continue
			}
			if abs((p-base)/base*100) <= patternTouchTolerance {
				touches++
				sum += p
				used[j] = true
			}
		}
		if touches >= patternMinTouches {
			levels = append(levels, KeyLevel{
				Price:   sum / float64(touches),
				Kind:    LevelCluster,
				Touches: touches,
			})
		}
	}
	return levels
}

// detectDouble splits the last 20 closes into two halves and looks for a
// double top (matching highs) or double bottom (matching lows). The halves'
// extremes must agree within tolerance and the current close must have moved
// away from the level by the reclaim threshold.
func detectDouble(klines []binance.Kline) (PatternKind, KeyLevel, bool) {
	n := len(klines)
	if n < patternDoubleSpan {
		return "", KeyLevel{}, false
	}
	closes := make([]float64, patternDoubleSpan)
	for i := 0; i < patternDoubleSpan; i++ {
		closes[i] = klines[n-patternDoubleSpan+i].Close
	}

	half := patternDoubleSpan / 2
	first, second := closes[:half], closes[half:]
	current := closes[len(closes)-1]

	h1, l1 := sliceExtremes(first)
	h2, l2 := sliceExtremes(second)

	if h1 > 0 && abs((h2-h1)/h1*100) <= patternDoubleTolPct {
		level := (h1 + h2) / 2
		if current <= level*(1-patternReclaimPct/100) {
			return PatternDoubleTop, KeyLevel{Price: level, Kind: LevelCluster, Touches: 2}, true
		}
	}
	if l1 > 0 && abs((l2-l1)/l1*100) <= patternDoubleTolPct {
		level := (l1 + l2) / 2
		if current >= level*(1+patternReclaimPct/100) {
			return PatternDoubleBottom, KeyLevel{Price: level, Kind: LevelCluster, Touches: 2}, true
		}
	}
	return "", KeyLevel{}, false
}

func sliceExtremes(closes []float64) (high, low float64) {
	high, low = closes[0], closes[0]
	for _, c := range closes[1:] {
		if c > high {
			high = c
		}
		if c < low {
			low = c
		}
	}
	return high, low
}

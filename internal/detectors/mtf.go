package detectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"binance-signal-engine/internal/binance"
	"binance-signal-engine/internal/market"
)

// MTFAlignment classifies agreement across the 15m/1h/4h timeframes.
type MTFAlignment string

const (
	AlignStrongBullish MTFAlignment = "Strong Bullish"
	AlignBullish       MTFAlignment = "Bullish"
	AlignStrongBearish MTFAlignment = "Strong Bearish"
	AlignBearish       MTFAlignment = "Bearish"
	AlignMixed         MTFAlignment = "Mixed"
)

// MTFDivergence marks a short timeframe fighting the long one.
type MTFDivergence string

const (
	DivergenceNone    MTFDivergence = "None"
	DivergenceBullish MTFDivergence = "Bullish" // 15m up against a falling 4h
	DivergenceBearish MTFDivergence = "Bearish" // 15m down against a rising 4h
)

// MTFMomentum compares move magnitudes across timeframes.
type MTFMomentum string

const (
	MomentumAccelerating MTFMomentum = "Accelerating"
	MomentumDecelerating MTFMomentum = "Decelerating"
	MomentumSteady       MTFMomentum = "Steady"
)

const (
	mtfUniverseSize  = 50 // highest-liquidity symbols kept in rotation
	mtfPerCycle      = 5  // symbols refreshed per Update call
	mtfCandleSpan    = 5  // candles per timeframe for the change measure
	mtfStrongPercent = 1.0
	mtfDivergencePct = 2.0
)

// MTFAlert summarises one symbol's multi-timeframe posture.
type MTFAlert struct {
	Symbol     string           `json:"symbol"`
	Change15m  float64          `json:"change_15m"`
	Change1h   float64          `json:"change_1h"`
	Change4h   float64          `json:"change_4h"`
	RSI1h      float64          `json:"rsi_1h"`
	Alignment  MTFAlignment     `json:"alignment"`
	Divergence MTFDivergence    `json:"divergence"`
	Momentum   MTFMomentum      `json:"momentum"`
	Direction  market.Direction `json:"direction"`
	Strength   float64          `json:"strength"` // 0-100
	Timestamp  time.Time        `json:"timestamp"`
}

// MTFDetector maintains a rotating refresh over the most liquid symbols,
// polling three kline intervals and the 1h RSI for a few symbols per cycle.
type MTFDetector struct {
	store  *market.DataStore
	client binance.FuturesClient
	oi     *OpenInterestDetector // shares the liquidity ranking

	mu     sync.RWMutex
	queue  []string
	cursor int
	cache  map[string]MTFAlert
}

func NewMTFDetector(store *market.DataStore, client binance.FuturesClient, oi *OpenInterestDetector) *MTFDetector {
	return &MTFDetector{
		store:  store,
		client: client,
		oi:     oi,
		cache:  make(map[string]MTFAlert),
	}
}

// Update refreshes the rotation queue and analyses the next few symbols.
func (d *MTFDetector) Update(ctx context.Context) error {
	d.mu.Lock()
	if d.cursor == 0 || d.cursor >= len(d.queue) {
		d.queue = d.oi.topByVolume(mtfUniverseSize)
		d.cursor = 0
	}
	end := d.cursor + mtfPerCycle
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
		alert, err := d.analyse(ctx, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.mu.Lock()
		d.cache[symbol] = alert
		d.mu.Unlock()
	}
	return firstErr
}

func (d *MTFDetector) analyse(ctx context.Context, symbol string) (MTFAlert, error) {
	changes := make(map[string]float64, 3)
	for _, interval := range []string{"15m", "1h", "4h"} {
		klines, err := d.client.GetKlines(ctx, symbol, interval, mtfCandleSpan+1)
		if err != nil {
			return MTFAlert{}, err
		}
		if len(klines) < 2 {
			return MTFAlert{}, fmt.Errorf("insufficient %s klines for %s", interval, symbol)
		}
		first, last := klines[0].Close, klines[len(klines)-1].Close
		if first == 0 {
			return MTFAlert{}, fmt.Errorf("zero close in %s klines for %s", interval, symbol)
		}
		changes[interval] = (last - first) / first * 100
	}

	rsi, err := d.client.GetSymbolRSI(ctx, symbol, "1h")
	if err != nil {
		rsi = 50 // neutral when RSI is unavailable
	}

	c15, c1, c4 := changes["15m"], changes["1h"], changes["4h"]
	alignment, direction, strength := classifyAlignment(c15, c1, c4)

	return MTFAlert{
		Symbol:     symbol,
		Change15m:  c15,
		Change1h:   c1,
		Change4h:   c4,
		RSI1h:      rsi,
		Alignment:  alignment,
		Divergence: classifyDivergence(c15, c4),
		Momentum:   classifyMomentum(c15, c1, c4),
		Direction:  direction,
		Strength:   strength,
		Timestamp:  d.store.Clock().Now(),
	}, nil
}

// Detect returns the cached analyses ordered by strength.
func (d *MTFDetector) Detect() []MTFAlert {
	d.mu.RLock()
	defer d.mu.RUnlock()

	alerts := make([]MTFAlert, 0, len(d.cache))
	for _, a := range d.cache {
		alerts = append(alerts, a)
	}
	sortAlerts(alerts,
		func(a MTFAlert) float64 { return a.Strength },
		func(a MTFAlert) string { return a.Symbol })
	return alerts
}

// Get returns the cached analysis for one symbol.
func (d *MTFDetector) Get(symbol string) (MTFAlert, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.cache[symbol]
	return a, ok
}

func classifyAlignment(c15, c1, c4 float64) (MTFAlignment, market.Direction, float64) {
	allPos := c15 > 0 && c1 > 0 && c4 > 0
	allNeg := c15 < 0 && c1 < 0 && c4 < 0
	strong := abs(c15) >= mtfStrongPercent && abs(c1) >= mtfStrongPercent && abs(c4) >= mtfStrongPercent

	avg := (abs(c15) + abs(c1) + abs(c4)) / 3
	strength := clamp(avg*20, 0, 100)

	switch {
	case allPos && strong:
		return AlignStrongBullish, market.DirectionLong, strength
	case allPos:
		return AlignBullish, market.DirectionLong, strength * 0.8
	case allNeg && strong:
		return AlignStrongBearish, market.DirectionShort, strength
	case allNeg:
		return AlignBearish, market.DirectionShort, strength * 0.8
	default:
		return AlignMixed, market.DirectionNeutral, strength * 0.4
	}
}

func classifyDivergence(c15, c4 float64) MTFDivergence {
	if c15 > 0 && c4 <= -mtfDivergencePct {
		return DivergenceBullish
	}
	if c15 < 0 && c4 >= mtfDivergencePct {
		return DivergenceBearish
	}
	return DivergenceNone
}

func classifyMomentum(c15, c1, c4 float64) MTFMomentum {
	switch {
	case abs(c15) > abs(c1) && abs(c1) > abs(c4):
		return MomentumAccelerating
	case abs(c15) < abs(c1) && abs(c1) < abs(c4):
		return MomentumDecelerating
	default:
		return MomentumSteady
	}
}

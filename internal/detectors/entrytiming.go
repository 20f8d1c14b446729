package detectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"binance-signal-engine/internal/binance"
	"binance-signal-engine/internal/market"
)

// EntrySetup names the kind of entry a symbol currently offers.
type EntrySetup string

const (
	SetupPullback EntrySetup = "Pullback"
	SetupReversal EntrySetup = "Reversal"
	SetupBreakout EntrySetup = "Breakout"
	SetupMomentum EntrySetup = "Momentum"
)

const (
	entryKlineSpan    = 50 // 15m candles
	entryUniverseSize = 30
	entryPerCycle     = 3
	entryATRPeriod    = 14
	entryVWAPSpan     = 20
	entryRSIPeriod    = 14
	entryStopATR      = 2.0
	entryMinRR        = 1.5
)

// Take-profit distances in ATR multiples.
var entryTargetATR = [3]float64{1.5, 3.0, 5.0}

// EntryPlan is a fully priced trade setup: entry, stop, laddered targets.
type EntryPlan struct {
	Symbol     string           `json:"symbol"`
	Setup      EntrySetup       `json:"setup"`
	Direction  market.Direction `json:"direction"`
	Entry      float64          `json:"entry"`
	StopLoss   float64          `json:"stop_loss"`
	Targets    [3]float64       `json:"targets"`
	RiskReward float64          `json:"risk_reward"`
	ATR        float64          `json:"atr"`
	VWAP       float64          `json:"vwap"`
	RSI        float64          `json:"rsi"`
	Quality    float64          `json:"quality"` // 0-100
	Timestamp  time.Time        `json:"timestamp"`
}

// EntryTimingDetector prices concrete entries off the 15m chart: ATR-based
// stops and targets around a setup classified from VWAP posture and RSI.
type EntryTimingDetector struct {
	store  *market.DataStore
	client binance.FuturesClient
	oi     *OpenInterestDetector

	mu     sync.RWMutex
	queue  []string
	cursor int
	cache  map[string]EntryPlan
}

func NewEntryTimingDetector(store *market.DataStore, client binance.FuturesClient, oi *OpenInterestDetector) *EntryTimingDetector {
	return &EntryTimingDetector{
		store:  store,
		client: client,
		oi:     oi,
		cache:  make(map[string]EntryPlan),
	}
}

// Update analyses the next few symbols in the rotation.
func (d *EntryTimingDetector) Update(ctx context.Context) error {
	d.mu.Lock()
	if d.cursor == 0 || d.cursor >= len(d.queue) {
		d.queue = d.oi.topByVolume(entryUniverseSize)
		d.cursor = 0
	}
	end := d.cursor + entryPerCycle
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
		plan, ok, err := d.analyse(ctx, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.mu.Lock()
		if ok {
			d.cache[symbol] = plan
		} else {
			delete(d.cache, symbol)
		}
		d.mu.Unlock()
	}
	return firstErr
}

func (d *EntryTimingDetector) analyse(ctx context.Context, symbol string) (EntryPlan, bool, error) {
	klines, err := d.client.GetKlines(ctx, symbol, "15m", entryKlineSpan)
	if err != nil {
		return EntryPlan{}, false, err
	}
	if len(klines) < entryATRPeriod+1 {
		return EntryPlan{}, false, fmt.Errorf("insufficient 15m klines for %s", symbol)
	}

	price := klines[len(klines)-1].Close
	if price <= 0 {
		return EntryPlan{}, false, fmt.Errorf("zero close for %s", symbol)
	}

	atr := averageTrueRange(klines, entryATRPeriod)
	vwap := rollingVWAP(klines, entryVWAPSpan)
	rsi, ok := binance.WilderRSI(klines, entryRSIPeriod)
	if !ok {
		rsi = 50
	}

	setup, direction, quality, ok := classifyEntry(klines, price, vwap, rsi)
	if !ok || atr <= 0 {
		return EntryPlan{}, false, nil
	}

	plan := EntryPlan{
		Symbol:    symbol,
		Setup:     setup,
		Direction: direction,
		Entry:     price,
		ATR:       atr,
		VWAP:      vwap,
		RSI:       rsi,
		Quality:   quality,
		Timestamp: d.store.Clock().Now(),
	}

	if direction == market.DirectionLong {
		plan.StopLoss = price - entryStopATR*atr
		for i, mult := range entryTargetATR {
			plan.Targets[i] = price + mult*atr
		}
	} else {
		plan.StopLoss = price + entryStopATR*atr
		for i, mult := range entryTargetATR {
			plan.Targets[i] = price - mult*atr
		}
	}

	// Risk/reward measured to the second target.
	risk := abs(price - plan.StopLoss)
	if risk == 0 {
		return EntryPlan{}, false, nil
	}
	plan.RiskReward = abs(plan.Targets[1]-price) / risk
	if plan.RiskReward < entryMinRR {
		return EntryPlan{}, false, nil
	}

	return plan, true, nil
}

// Detect returns the cached plans, best quality first.
func (d *EntryTimingDetector) Detect() []EntryPlan {
	d.mu.RLock()
	defer d.mu.RUnlock()

	plans := make([]EntryPlan, 0, len(d.cache))
	for _, p := range d.cache {
		plans = append(plans, p)
	}
	sortAlerts(plans,
		func(p EntryPlan) float64 { return p.Quality },
		func(p EntryPlan) string { return p.Symbol })
	return plans
}

// Get returns the cached plan for one symbol.
func (d *EntryTimingDetector) Get(symbol string) (EntryPlan, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.cache[symbol]
	return p, ok
}

// classifyEntry maps the chart posture to a setup. Reversal wins at RSI
// extremes, breakout when price clears the recent range, pullback when a
// trending symbol rests near VWAP, momentum otherwise when RSI leans.
func classifyEntry(klines []binance.Kline, price, vwap, rsi float64) (EntrySetup, market.Direction, float64, bool) {
	aboveVWAP := vwap > 0 && price > vwap
	vwapDist := 0.0
	if vwap > 0 {
		vwapDist = abs(price-vwap) / vwap * 100
	}

	recentHigh, recentLow := rangeExtremes(klines, entryVWAPSpan)

	switch {
	case rsi <= 30:
		return SetupReversal, market.DirectionLong, clamp((30-rsi)*3+40, 0, 100), true
	case rsi >= 70:
		return SetupReversal, market.DirectionShort, clamp((rsi-70)*3+40, 0, 100), true
	case price > recentHigh && rsi > 55:
		return SetupBreakout, market.DirectionLong, clamp((rsi-55)*2+50, 0, 100), true
	case price < recentLow && rsi < 45:
		return SetupBreakout, market.DirectionShort, clamp((45-rsi)*2+50, 0, 100), true
	case aboveVWAP && vwapDist < 0.5 && rsi >= 40 && rsi <= 55:
		return SetupPullback, market.DirectionLong, clamp(70-vwapDist*20, 0, 100), true
	case !aboveVWAP && vwapDist < 0.5 && rsi >= 45 && rsi <= 60:
		return SetupPullback, market.DirectionShort, clamp(70-vwapDist*20, 0, 100), true
	case rsi > 55:
		return SetupMomentum, market.DirectionLong, clamp((rsi-55)*2+30, 0, 100), true
	case rsi < 45:
		return SetupMomentum, market.DirectionShort, clamp((45-rsi)*2+30, 0, 100), true
	default:
		return "", market.DirectionNeutral, 0, false
	}
}

// averageTrueRange is the simple mean of the last period true ranges.
func averageTrueRange(klines []binance.Kline, period int) float64 {
	if len(klines) < period+1 {
		return 0
	}
	var sum float64
	start := len(klines) - period
	for i := start; i < len(klines); i++ {
		tr := klines[i].High - klines[i].Low
		if hc := abs(klines[i].High - klines[i-1].Close); hc > tr {
			tr = hc
		}
		if lc := abs(klines[i].Low - klines[i-1].Close); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period)
}

// rollingVWAP is the volume-weighted typical price over the last span candles.
func rollingVWAP(klines []binance.Kline, span int) float64 {
	if len(klines) < span {
		span = len(klines)
	}
	var pv, vol float64
	for _, k := range klines[len(klines)-span:] {
		pv += k.TypicalPrice() * k.Volume
		vol += k.Volume
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// rangeExtremes returns the high and low of the span candles before the
// current one.
func rangeExtremes(klines []binance.Kline, span int) (high, low float64) {
	end := len(klines) - 1 // exclude the live candle
	start := end - span
	if start < 0 {
		start = 0
	}
	if start >= end {
		return 0, 0
	}
	high, low = klines[start].High, klines[start].Low
	for _, k := range klines[start:end] {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
	}
	return high, low
}

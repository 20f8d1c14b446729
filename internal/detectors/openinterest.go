package detectors

import (
	"context"
	"sort"
	"sync"
	"time"

	"binance-signal-engine/internal/binance"
	"binance-signal-engine/internal/market"
)

// OISignal classifies the joint move of open interest and price.
type OISignal string

const (
	OIStrongTrend      OISignal = "Strong Trend"
	OIBuildingShorts   OISignal = "Building Shorts"
	OIBuildingLongs    OISignal = "Building Longs"
	OIClosingPositions OISignal = "Closing Positions"
	OINeutral          OISignal = "Neutral"
)

// oiMinChangePercent is the minimum |OI Δ| worth reporting.
const oiMinChangePercent = 2.0

// oiSweepSize caps how many top-liquidity symbols the sweep covers.
const oiSweepSize = 100

// OIAlert carries a notable open-interest shift.
type OIAlert struct {
	Symbol          string           `json:"symbol"`
	OpenInterest    float64          `json:"open_interest"`
	PrevOI          float64          `json:"prev_oi"`
	OIChangePercent float64          `json:"oi_change_percent"`
	PriceChange     float64          `json:"price_change"` // over the same interval
	Signal          OISignal         `json:"signal"`
	Direction       market.Direction `json:"direction"`
	Timestamp       time.Time        `json:"timestamp"`
}

type oiSample struct {
	openInterest float64
	price        float64
	ts           time.Time
}

// OpenInterestDetector sweeps OI for the most liquid symbols and classifies
// (ΔOI, Δprice) pairs. Emission needs at least two samples per symbol.
type OpenInterestDetector struct {
	store  *market.DataStore
	client binance.FuturesClient

	mu      sync.RWMutex
	history map[string][]oiSample // bounded to 2, prev + current
}

func NewOpenInterestDetector(store *market.DataStore, client binance.FuturesClient) *OpenInterestDetector {
	return &OpenInterestDetector{
		store:   store,
		client:  client,
		history: make(map[string][]oiSample),
	}
}

// Update sweeps open interest across the top symbols by 24h quote volume.
func (d *OpenInterestDetector) Update(ctx context.Context) error {
	symbols := d.topByVolume(oiSweepSize)
	if len(symbols) == 0 {
		return nil
	}

	result, err := d.client.GetOpenInterestBatch(ctx, symbols)
	if err != nil && len(result) == 0 {
		return err
	}

	now := d.store.Clock().Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	for symbol, oi := range result {
		state, ok := d.store.Get(symbol)
		if !ok {
			continue
		}
		samples := append(d.history[symbol], oiSample{
			openInterest: oi.OpenInterest,
			price:        state.Current.LastPrice,
			ts:           now,
		})
		if len(samples) > 2 {
			samples = samples[len(samples)-2:]
		}
		d.history[symbol] = samples
	}
	return nil
}

// OIChange returns the cached OI change percent for one symbol.
func (d *OpenInterestDetector) OIChange(symbol string) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	samples := d.history[symbol]
	if len(samples) < 2 || samples[0].openInterest == 0 {
		return 0, false
	}
	return (samples[1].openInterest - samples[0].openInterest) / samples[0].openInterest * 100, true
}

func (d *OpenInterestDetector) Detect() []OIAlert {
	now := d.store.Clock().Now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	var alerts []OIAlert
	for symbol, samples := range d.history {
		if len(samples) < 2 {
			continue
		}
		prev, cur := samples[0], samples[1]
		if prev.openInterest == 0 || prev.price == 0 {
			continue
		}

		oiChange := (cur.openInterest - prev.openInterest) / prev.openInterest * 100
		if abs(oiChange) < oiMinChangePercent {
			continue
		}
		priceChange := (cur.price - prev.price) / prev.price * 100

		signal, direction := classifyOI(oiChange, priceChange)
		alerts = append(alerts, OIAlert{
			Symbol:          symbol,
			OpenInterest:    cur.openInterest,
			PrevOI:          prev.openInterest,
			OIChangePercent: oiChange,
			PriceChange:     priceChange,
			Signal:          signal,
			Direction:       direction,
			Timestamp:       now,
		})
	}

	sortAlerts(alerts,
		func(a OIAlert) float64 { return a.OIChangePercent },
		func(a OIAlert) string { return a.Symbol })
	return alerts
}

// classifyOI maps the (ΔOI, Δprice) pair onto participation labels.
func classifyOI(oiChange, priceChange float64) (OISignal, market.Direction) {
	switch {
	case oiChange > 0 && priceChange > 1:
		return OIStrongTrend, market.DirectionLong
	case oiChange > 0 && priceChange < -1:
		return OIBuildingShorts, market.DirectionShort
	case oiChange > 0:
		return OIBuildingLongs, market.DirectionLong
	case oiChange < 0:
		return OIClosingPositions, market.DirectionNeutral
	default:
		return OINeutral, market.DirectionNeutral
	}
}

// topByVolume returns up to n symbols ordered by 24h quote volume.
func (d *OpenInterestDetector) topByVolume(n int) []string {
	states := d.store.All()

	type sv struct {
		symbol string
		volume float64
	}
	ranked := make([]sv, 0, len(states))
	for symbol, state := range states {
		ranked = append(ranked, sv{symbol, state.Current.QuoteVolume})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].volume != ranked[j].volume {
			return ranked[i].volume > ranked[j].volume
		}
		return ranked[i].symbol < ranked[j].symbol
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.symbol
	}
	return out
}

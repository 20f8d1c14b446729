package detectors

import (
	"math"
	"sync"
	"time"

	"binance-signal-engine/internal/market"
)

// CorrelationType classifies a symbol's behaviour relative to BTC.
type CorrelationType string

const (
	CorrelationDecoupled       CorrelationType = "Decoupled"
	CorrelationOutperforming   CorrelationType = "Outperforming"
	CorrelationUnderperforming CorrelationType = "Underperforming"
)

const (
	correlationPoints     = 60
	correlationMinPoints  = 10
	correlationWeakBound  = 0.3
	correlationOutperform = 2.0
	correlationBenchmark  = "BTCUSDT"
)

// CorrelationAlert reports decoupling or relative strength against BTC.
type CorrelationAlert struct {
	Symbol      string           `json:"symbol"`
	Correlation float64          `json:"correlation"`
	AltChange   float64          `json:"alt_change"`
	BTCChange   float64          `json:"btc_change"`
	Type        CorrelationType  `json:"type"`
	Direction   market.Direction `json:"direction"`
	Timestamp   time.Time        `json:"timestamp"`
}

// CorrelationDetector keeps its own per-symbol price rings sampled at its
// cadence and computes Pearson correlation against the BTC ring.
type CorrelationDetector struct {
	store *market.DataStore

	mu     sync.RWMutex
	prices map[string][]float64
}

func NewCorrelationDetector(store *market.DataStore) *CorrelationDetector {
	return &CorrelationDetector{
		store:  store,
		prices: make(map[string][]float64),
	}
}

// Update samples the current price of every tracked symbol.
func (d *CorrelationDetector) Update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for symbol, state := range d.store.All() {
		ring := append(d.prices[symbol], state.Current.LastPrice)
		if len(ring) > correlationPoints {
			ring = ring[len(ring)-correlationPoints:]
		}
		d.prices[symbol] = ring
	}
}

func (d *CorrelationDetector) Detect() []CorrelationAlert {
	now := d.store.Clock().Now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	btc := d.prices[correlationBenchmark]
	if len(btc) < correlationMinPoints {
		return nil
	}
	btcChange := ringChange(btc)

	var alerts []CorrelationAlert
	for symbol, ring := range d.prices {
		if symbol == correlationBenchmark || len(ring) < correlationMinPoints {
			continue
		}

		// Equal-length tails so the series are aligned.
		n := len(ring)
		if len(btc) < n {
			n = len(btc)
		}
		r, ok := pearson(ring[len(ring)-n:], btc[len(btc)-n:])
		if !ok {
			continue
		}

		altChange := ringChange(ring)
		diff := altChange - btcChange

		var alertType CorrelationType
		var direction market.Direction
		switch {
		case abs(r) < correlationWeakBound:
			alertType = CorrelationDecoupled
			direction = market.DirectionFromChange(altChange)
		case abs(diff) > correlationOutperform && diff > 0:
			alertType = CorrelationOutperforming
			direction = market.DirectionLong
		case abs(diff) > correlationOutperform:
			alertType = CorrelationUnderperforming
			direction = market.DirectionShort
		default:
			continue
		}

		alerts = append(alerts, CorrelationAlert{
			Symbol:      symbol,
			Correlation: r,
			AltChange:   altChange,
			BTCChange:   btcChange,
			Type:        alertType,
			Direction:   direction,
			Timestamp:   now,
		})
	}

	sortAlerts(alerts,
		func(a CorrelationAlert) float64 { return a.AltChange - a.BTCChange },
		func(a CorrelationAlert) string { return a.Symbol })
	return alerts
}

// Correlation returns the cached correlation with BTC for one symbol.
func (d *CorrelationDetector) Correlation(symbol string) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ring := d.prices[symbol]
	btc := d.prices[correlationBenchmark]
	n := len(ring)
	if len(btc) < n {
		n = len(btc)
	}
	if n < correlationMinPoints {
		return 0, false
	}
	return pearsonOrZero(ring[len(ring)-n:], btc[len(btc)-n:])
}

func pearsonOrZero(a, b []float64) (float64, bool) {
	r, ok := pearson(a, b)
	if !ok {
		return 0, false
	}
	return r, true
}

// pearson computes the correlation coefficient of two equal-length series.
func pearson(a, b []float64) (float64, bool) {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0, false
	}

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}

func ringChange(ring []float64) float64 {
	if len(ring) < 2 || ring[0] == 0 {
		return 0
	}
	return (ring[len(ring)-1] - ring[0]) / ring[0] * 100
}

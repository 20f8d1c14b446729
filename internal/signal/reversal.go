package signal

import (
	"sort"
	"time"

	"binance-signal-engine/internal/detectors"
	"binance-signal-engine/internal/market"
)

// Reversal trigger scores. Additive; the first trigger to fire also fixes
// the direction.
const (
	scoreRSIExtreme     = 25
	scoreRSIDivergence  = 20
	scoreExtremeFunding = 25
	scoreOIDivergence   = 15
	scoreVolumeClimax   = 20
)

// ReversalAlert is an accumulation of independent reversal triggers for one
// symbol. At most one alert per symbol per cycle.
type ReversalAlert struct {
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"direction"`
	Confidence float64          `json:"confidence"`
	Triggers   []string         `json:"triggers"`
	Price      float64          `json:"price"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ReversalEngine scans for exhaustion setups independently of the confluence
// fusion. It reads the same detector caches but scores triggers additively.
type ReversalEngine struct {
	store *market.DataStore
	det   Detectors
}

func NewReversalEngine(store *market.DataStore, det Detectors) *ReversalEngine {
	return &ReversalEngine{store: store, det: det}
}

// Detect returns reversal candidates, strongest first.
func (r *ReversalEngine) Detect() []ReversalAlert {
	now := r.store.Clock().Now()

	oiAlerts := make(map[string]detectors.OIAlert)
	for _, a := range r.det.OI.Detect() {
		oiAlerts[a.Symbol] = a
	}

	var alerts []ReversalAlert
	for symbol, state := range r.store.All() {
		alert := r.evaluate(symbol, state, oiAlerts[symbol], now)
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}

	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Confidence != alerts[j].Confidence {
			return alerts[i].Confidence > alerts[j].Confidence
		}
		return alerts[i].Symbol < alerts[j].Symbol
	})
	return alerts
}

func (r *ReversalEngine) evaluate(symbol string, state market.SymbolState, oi detectors.OIAlert, now time.Time) *ReversalAlert {
	change := state.Current.PriceChangePercent

	var score float64
	var triggers []string
	direction := market.DirectionNeutral

	fire := func(trigger string, points float64, dir market.Direction) {
		score += points
		triggers = append(triggers, trigger)
		if direction == market.DirectionNeutral {
			direction = dir
		}
	}

	mtf, hasMTF := r.det.MTF.Get(symbol)

	// RSI extreme: overbought rolls over short, oversold bounces long.
	if hasMTF {
		if mtf.RSI1h >= 70 {
			fire("RSI overbought", scoreRSIExtreme, market.DirectionShort)
		} else if mtf.RSI1h <= 30 {
			fire("RSI oversold", scoreRSIExtreme, market.DirectionLong)
		}

		// RSI divergence: price stretched one way while RSI refuses to follow.
		if change > 3 && mtf.RSI1h < 45 {
			fire("bearish RSI divergence", scoreRSIDivergence, market.DirectionShort)
		} else if change < -3 && mtf.RSI1h > 55 {
			fire("bullish RSI divergence", scoreRSIDivergence, market.DirectionLong)
		}
	}

	// Extreme funding: a crowded side pays to stay in.
	if rate, ok := r.det.Funding.Rate(symbol); ok {
		if rate > 0.1 {
			fire("extreme positive funding", scoreExtremeFunding, market.DirectionShort)
		} else if rate < -0.1 {
			fire("extreme negative funding", scoreExtremeFunding, market.DirectionLong)
		}
	}

	// OI divergence: price moving without participation behind it.
	if oi.Symbol != "" {
		if oi.PriceChange > 1 && oi.OIChangePercent < -2 {
			fire("rally on falling open interest", scoreOIDivergence, market.DirectionShort)
		} else if oi.PriceChange < -1 && oi.OIChangePercent < -2 {
			fire("selloff on falling open interest", scoreOIDivergence, market.DirectionLong)
		}
	}

	// Volume climax: an outsized burst at the end of an outsized move.
	if mult, ok := r.det.Volume.Multiplier(symbol); ok && mult >= 5 && abs(change) >= 10 {
		dir := market.DirectionShort
		if change < 0 {
			dir = market.DirectionLong
		}
		fire("volume climax", scoreVolumeClimax, dir)
	}

	if len(triggers) == 0 {
		return nil
	}
	return &ReversalAlert{
		Symbol:     symbol,
		Direction:  direction,
		Confidence: clamp(score, 0, 100),
		Triggers:   triggers,
		Price:      state.Current.LastPrice,
		Timestamp:  now,
	}
}

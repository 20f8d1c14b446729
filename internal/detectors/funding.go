package detectors

import (
	"context"
	"sync"
	"time"

	"binance-signal-engine/internal/binance"
	"binance-signal-engine/internal/market"
)

// FundingSignal classifies the funding state of a contract.
type FundingSignal string

const (
	FundingExtremePositive FundingSignal = "Extreme Positive"
	FundingExtremeNegative FundingSignal = "Extreme Negative"
	FundingLongSqueeze     FundingSignal = "Long Squeeze"
	FundingShortSqueeze    FundingSignal = "Short Squeeze"
	FundingElevated        FundingSignal = "Elevated"
)

// FundingAlert carries a notable funding state. Rate is expressed in percent
// per funding interval.
type FundingAlert struct {
	Symbol          string           `json:"symbol"`
	Rate            float64          `json:"rate"`
	NextFundingTime time.Time        `json:"next_funding_time"`
	MarkPrice       float64          `json:"mark_price"`
	Change24h       float64          `json:"change_24h"`
	Signal          FundingSignal    `json:"signal"`
	Strength        float64          `json:"strength"` // 0-100 band on magnitude
	Direction       market.Direction `json:"direction"`
	Timestamp       time.Time        `json:"timestamp"`
}

// FundingDetector polls funding rates and classifies extremes and squeeze
// setups. The cached rates also feed the sentiment detector and the signal
// engine's funding component.
type FundingDetector struct {
	store  *market.DataStore
	client binance.FuturesClient

	mu    sync.RWMutex
	rates map[string]binance.FundingRate
}

func NewFundingDetector(store *market.DataStore, client binance.FuturesClient) *FundingDetector {
	return &FundingDetector{
		store:  store,
		client: client,
		rates:  make(map[string]binance.FundingRate),
	}
}

// Update refreshes the funding cache from the exchange.
func (d *FundingDetector) Update(ctx context.Context) error {
	rates, err := d.client.GetFundingRates(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range rates {
		d.rates[r.Symbol] = r
	}
	return nil
}

// Rate returns the cached funding rate in percent for one symbol.
func (d *FundingDetector) Rate(symbol string) (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rates[symbol]
	return r.FundingRate * 100, ok
}

func (d *FundingDetector) Detect() []FundingAlert {
	now := d.store.Clock().Now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	var alerts []FundingAlert
	for symbol, r := range d.rates {
		ratePct := r.FundingRate * 100

		state, ok := d.store.Get(symbol)
		if !ok {
			continue
		}
		change := state.Current.PriceChangePercent

		signal, direction, ok := classifyFunding(ratePct, change)
		if !ok {
			continue
		}

		alerts = append(alerts, FundingAlert{
			Symbol:          symbol,
			Rate:            ratePct,
			NextFundingTime: time.UnixMilli(r.NextFundingTime),
			MarkPrice:       r.MarkPrice,
			Change24h:       change,
			Signal:          signal,
			Strength:        fundingStrength(ratePct),
			Direction:       direction,
			Timestamp:       now,
		})
	}

	sortAlerts(alerts,
		func(a FundingAlert) float64 { return a.Rate },
		func(a FundingAlert) string { return a.Symbol })
	return alerts
}

// classifyFunding applies the extreme and squeeze rules. Extremes are read
// contrarian: heavily positive funding means crowded longs.
func classifyFunding(ratePct, change24h float64) (FundingSignal, market.Direction, bool) {
	switch {
	case ratePct > 0.1:
		return FundingExtremePositive, market.DirectionShort, true
	case ratePct < -0.1:
		return FundingExtremeNegative, market.DirectionLong, true
	case ratePct < -0.05 && change24h < -5:
		return FundingLongSqueeze, market.DirectionShort, true
	case ratePct > 0.05 && change24h > 5:
		return FundingShortSqueeze, market.DirectionLong, true
	case abs(ratePct) > 0.03:
		return FundingElevated, market.DirectionFromChange(-ratePct), true
	}
	return "", market.DirectionNeutral, false
}

// fundingStrength bands magnitude into a 0-100 score.
func fundingStrength(ratePct float64) float64 {
	r := abs(ratePct)
	switch {
	case r >= 0.3:
		return 95
	case r >= 0.15:
		return 80
	case r >= 0.1:
		return 70
	case r >= 0.05:
		return 50
	default:
		return 25
	}
}

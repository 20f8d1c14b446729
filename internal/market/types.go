package market

import "time"

// Direction is the trade direction attached to alerts and signals.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// DirectionFromChange maps a signed percentage move to a direction.
func DirectionFromChange(change float64) Direction {
	if change > 0 {
		return DirectionLong
	}
	if change < 0 {
		return DirectionShort
	}
	return DirectionNeutral
}

// Ticker is a point-in-time 24h statistics snapshot for one symbol,
// as delivered by the futures !ticker@arr stream.
type Ticker struct {
	Symbol             string    `json:"symbol"`
	LastPrice          float64   `json:"last_price"`
	OpenPrice          float64   `json:"open_price"`
	HighPrice          float64   `json:"high_price"`
	LowPrice           float64   `json:"low_price"`
	PriceChange        float64   `json:"price_change"`
	PriceChangePercent float64   `json:"price_change_percent"`
	BaseVolume         float64   `json:"base_volume"`
	QuoteVolume        float64   `json:"quote_volume"`
	TradeCount         int64     `json:"trade_count"`
	EventTime          time.Time `json:"event_time"`
}

// PricePoint is one sample in a symbol's rolling price history.
type PricePoint struct {
	Price float64
	Ts    time.Time
}

// VolumePoint is one sample of cumulative 24h quote volume. Deltas between
// samples approximate flow rate; the cumulative counter resets at the
// exchange's 24h rollover, so rates straddling the reset are approximate.
type VolumePoint struct {
	CumQuoteVolume float64
	Ts             time.Time
}

// SymbolState is the rolling per-symbol state owned by the DataStore.
// Readers receive copies; only DataStore.Update mutates it.
type SymbolState struct {
	Symbol        string
	Current       Ticker
	PriceHistory  []PricePoint
	VolumeHistory []VolumePoint
	FirstSeen     time.Time
	IsNew         bool
}

// PriceChangeOver returns the percent change between the oldest history point
// at most window old and the newest point. ok is false with fewer than two
// points in the window.
func (s *SymbolState) PriceChangeOver(window time.Duration, now time.Time) (change float64, minutes float64, ok bool) {
	cutoff := now.Add(-window)
	var pts []PricePoint
	for _, p := range s.PriceHistory {
		if !p.Ts.Before(cutoff) {
			pts = append(pts, p)
		}
	}
	if len(pts) < 2 {
		return 0, 0, false
	}
	first, last := pts[0], pts[len(pts)-1]
	if first.Price == 0 {
		return 0, 0, false
	}
	change = (last.Price - first.Price) / first.Price * 100
	minutes = last.Ts.Sub(first.Ts).Minutes()
	return change, minutes, true
}

// VolumeChangeOver returns the percent growth of the cumulative 24h quote
// volume across the window. A decreasing counter means the exchange's 24h
// rollover landed inside the window, which invalidates the pair.
func (s *SymbolState) VolumeChangeOver(window time.Duration, now time.Time) (change float64, ok bool) {
	cutoff := now.Add(-window)
	var pts []VolumePoint
	for _, p := range s.VolumeHistory {
		if !p.Ts.Before(cutoff) {
			pts = append(pts, p)
		}
	}
	if len(pts) < 2 {
		return 0, false
	}
	first, last := pts[0], pts[len(pts)-1]
	if first.CumQuoteVolume <= 0 || last.CumQuoteVolume < first.CumQuoteVolume {
		return 0, false
	}
	return (last.CumQuoteVolume - first.CumQuoteVolume) / first.CumQuoteVolume * 100, true
}

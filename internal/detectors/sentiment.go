package detectors

import (
	"time"

	"binance-signal-engine/internal/market"
)

// Sentiment component weights. They sum to 1.
const (
	sentimentFundingWeight    = 0.30
	sentimentMomentumWeight   = 0.35
	sentimentVolatilityWeight = 0.15
	sentimentOIWeight         = 0.20
)

// SymbolSentiment is a 0-100 greed/fear composite for one symbol.
type SymbolSentiment struct {
	Symbol     string    `json:"symbol"`
	Score      float64   `json:"score"`
	Label      string    `json:"label"`
	Funding    float64   `json:"funding"`
	Momentum   float64   `json:"momentum"`
	Volatility float64   `json:"volatility"`
	OI         float64   `json:"oi"`
	Timestamp  time.Time `json:"timestamp"`
}

// MarketSentiment aggregates symbol sentiment across the board.
type MarketSentiment struct {
	Score     float64   `json:"score"`
	Label     string    `json:"label"`
	Symbols   int       `json:"symbols"`
	Timestamp time.Time `json:"timestamp"`
}

// SentimentDetector reduces funding, momentum, volatility and OI posture to
// a single composite per symbol and for the whole market.
type SentimentDetector struct {
	store   *market.DataStore
	funding *FundingDetector
	oi      *OpenInterestDetector
}

func NewSentimentDetector(store *market.DataStore, funding *FundingDetector, oi *OpenInterestDetector) *SentimentDetector {
	return &SentimentDetector{store: store, funding: funding, oi: oi}
}

// Detect scores every symbol with enough data.
func (d *SentimentDetector) Detect() []SymbolSentiment {
	now := d.store.Clock().Now()

	var out []SymbolSentiment
	for symbol, state := range d.store.All() {
		change := state.Current.PriceChangePercent

		// Momentum: ±10% maps to the full 0-100 band around 50.
		momentum := clamp(50+change*5, 0, 100)

		// Volatility contributes greed when price is moving at all.
		rangePct := 0.0
		if state.Current.OpenPrice > 0 {
			rangePct = (state.Current.HighPrice - state.Current.LowPrice) / state.Current.OpenPrice * 100
		}
		volatility := clamp(rangePct*2.5, 0, 100)

		// Positive funding is greed. ±0.1% maps to the outer bounds.
		fundingScore := 50.0
		if rate, ok := d.funding.Rate(symbol); ok {
			fundingScore = clamp(50+rate*500, 0, 100)
		}

		// Rising OI is conviction. ±10% maps to the outer bounds.
		oiScore := 50.0
		if oiChange, ok := d.oi.OIChange(symbol); ok {
			oiScore = clamp(50+oiChange*5, 0, 100)
		}

		score := fundingScore*sentimentFundingWeight +
			momentum*sentimentMomentumWeight +
			volatility*sentimentVolatilityWeight +
			oiScore*sentimentOIWeight

		out = append(out, SymbolSentiment{
			Symbol:     symbol,
			Score:      score,
			Label:      sentimentLabel(score),
			Funding:    fundingScore,
			Momentum:   momentum,
			Volatility: volatility,
			OI:         oiScore,
			Timestamp:  now,
		})
	}

	sortAlerts(out,
		func(s SymbolSentiment) float64 { return s.Score - 50 },
		func(s SymbolSentiment) string { return s.Symbol })
	return out
}

// Market reduces the per-symbol scores to one market-wide composite.
func (d *SentimentDetector) Market() MarketSentiment {
	now := d.store.Clock().Now()
	symbols := d.Detect()
	if len(symbols) == 0 {
		return MarketSentiment{Score: 50, Label: sentimentLabel(50), Timestamp: now}
	}

	var sum float64
	for _, s := range symbols {
		sum += s.Score
	}
	score := sum / float64(len(symbols))

	return MarketSentiment{
		Score:     score,
		Label:     sentimentLabel(score),
		Symbols:   len(symbols),
		Timestamp: now,
	}
}

func sentimentLabel(score float64) string {
	switch {
	case score >= 80:
		return "Extreme Greed"
	case score >= 60:
		return "Greed"
	case score >= 40:
		return "Neutral"
	case score >= 20:
		return "Fear"
	default:
		return "Extreme Fear"
	}
}

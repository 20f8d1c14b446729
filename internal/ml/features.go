package ml

// QualityTier buckets a prediction by win probability.
type QualityTier string

const (
	TierHigh   QualityTier = "HIGH"
	TierMedium QualityTier = "MEDIUM"
	TierLow    QualityTier = "LOW"
	TierFilter QualityTier = "FILTER"
)

// FeatureNames is the canonical feature order shared with the predictor
// service and the signal_features table. The schema is versioned through the
// model_version field; direction is always the final column.
var FeatureNames = []string{
	"price_change_24h",
	"price_change_1h",
	"price_change_15m",
	"price_change_5m",
	"high_low_range",
	"price_position",
	"volume_quote_24h",
	"volume_multiplier",
	"volume_change_1h",
	"velocity",
	"acceleration",
	"trend_state",
	"rsi_1h",
	"mtf_alignment",
	"divergence_type",
	"funding_rate",
	"funding_signal",
	"funding_direction_match",
	"oi_change_percent",
	"oi_signal",
	"oi_price_alignment",
	"pattern_type",
	"pattern_confidence",
	"distance_from_level",
	"smart_confidence",
	"component_count",
	"entry_type",
	"risk_level",
	"atr_percent",
	"vwap_distance",
	"risk_reward_ratio",
	"whale_activity",
	"btc_correlation",
	"btc_outperformance",
	"direction",
}

// SignalFeatures is the 35-column vector sent to the predictor. Categorical
// fields carry stable integer encodings. Zero values match the predictor's
// defaults except where noted in NewSignalFeatures.
type SignalFeatures struct {
	SignalID string `json:"signal_id"`
	Symbol   string `json:"symbol"`

	PriceChange24h float64 `json:"price_change_24h"`
	PriceChange1h  float64 `json:"price_change_1h"`
	PriceChange15m float64 `json:"price_change_15m"`
	PriceChange5m  float64 `json:"price_change_5m"`
	HighLowRange   float64 `json:"high_low_range"`
	PricePosition  float64 `json:"price_position"`

	VolumeQuote24h   float64 `json:"volume_quote_24h"`
	VolumeMultiplier float64 `json:"volume_multiplier"`
	VolumeChange1h   float64 `json:"volume_change_1h"`

	Velocity     float64 `json:"velocity"`
	Acceleration float64 `json:"acceleration"`
	TrendState   int     `json:"trend_state"`

	RSI1h          float64 `json:"rsi_1h"`
	MTFAlignment   int     `json:"mtf_alignment"`
	DivergenceType int     `json:"divergence_type"`

	FundingRate           float64 `json:"funding_rate"`
	FundingSignal         int     `json:"funding_signal"`
	FundingDirectionMatch int     `json:"funding_direction_match"`

	OIChangePercent  float64 `json:"oi_change_percent"`
	OISignal         int     `json:"oi_signal"`
	OIPriceAlignment int     `json:"oi_price_alignment"`

	PatternType       int     `json:"pattern_type"`
	PatternConfidence float64 `json:"pattern_confidence"`
	DistanceFromLevel float64 `json:"distance_from_level"`

	SmartConfidence float64 `json:"smart_confidence"`
	ComponentCount  int     `json:"component_count"`
	EntryType       int     `json:"entry_type"`
	RiskLevel       int     `json:"risk_level"`

	ATRPercent      float64 `json:"atr_percent"`
	VWAPDistance    float64 `json:"vwap_distance"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`

	WhaleActivity     float64 `json:"whale_activity"`
	BTCCorrelation    float64 `json:"btc_correlation"`
	BTCOutperformance float64 `json:"btc_outperformance"`

	Direction int `json:"direction"` // +1 LONG, -1 SHORT
}

// NewSignalFeatures returns a vector with the predictor's neutral defaults.
func NewSignalFeatures(signalID, symbol string) SignalFeatures {
	return SignalFeatures{
		SignalID:         signalID,
		Symbol:           symbol,
		PricePosition:    0.5,
		VolumeMultiplier: 1,
		RSI1h:            50,
		RiskLevel:        1,
		RiskRewardRatio:  1.5,
		Direction:        1,
	}
}

// Columns returns the numeric values in FeatureNames order, for CSV export
// and training payloads.
func (f SignalFeatures) Columns() []float64 {
	return []float64{
		f.PriceChange24h,
		f.PriceChange1h,
		f.PriceChange15m,
		f.PriceChange5m,
		f.HighLowRange,
		f.PricePosition,
		f.VolumeQuote24h,
		f.VolumeMultiplier,
		f.VolumeChange1h,
		f.Velocity,
		f.Acceleration,
		float64(f.TrendState),
		f.RSI1h,
		float64(f.MTFAlignment),
		float64(f.DivergenceType),
		f.FundingRate,
		float64(f.FundingSignal),
		float64(f.FundingDirectionMatch),
		f.OIChangePercent,
		float64(f.OISignal),
		float64(f.OIPriceAlignment),
		float64(f.PatternType),
		f.PatternConfidence,
		f.DistanceFromLevel,
		f.SmartConfidence,
		float64(f.ComponentCount),
		float64(f.EntryType),
		float64(f.RiskLevel),
		f.ATRPercent,
		f.VWAPDistance,
		f.RiskRewardRatio,
		f.WhaleActivity,
		f.BTCCorrelation,
		f.BTCOutperformance,
		float64(f.Direction),
	}
}

// Stable integer encodings for the categorical columns. These must not be
// renumbered once a model has been trained against them.

// Trend state: velocity trend of the symbol.
const (
	TrendStateDecelerating = -1
	TrendStateSteady       = 0
	TrendStateAccelerating = 1
)

// MTF alignment.
const (
	MTFStrongBearish = -2
	MTFBearish       = -1
	MTFMixed         = 0
	MTFBullish       = 1
	MTFStrongBullish = 2
)

// Divergence.
const (
	DivergenceBearish = -1
	DivergenceNone    = 0
	DivergenceBullish = 1
)

// Funding signal.
const (
	FundingNone            = 0
	FundingElevated        = 1
	FundingShortSqueeze    = 2
	FundingLongSqueeze     = 3
	FundingExtremePositive = 4
	FundingExtremeNegative = 5
)

// Open interest signal.
const (
	OINone             = 0
	OIStrongTrend      = 1
	OIBuildingLongs    = 2
	OIBuildingShorts   = 3
	OIClosingPositions = 4
)

// Pattern type.
const (
	PatternNone            = 0
	PatternSupport         = 1
	PatternResistance      = 2
	PatternDoubleTopInt    = 3
	PatternDoubleBottomInt = 4
)

// Entry type.
const (
	EntryEarly    = 1
	EntryMomentum = 2
	EntryReversal = 3
	EntryBreakout = 4
)

// Risk level.
const (
	RiskLow    = 1
	RiskMedium = 2
	RiskHigh   = 3
)

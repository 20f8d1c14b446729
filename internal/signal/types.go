package signal

import (
	"time"

	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/ml"
)

// ComponentDirection is the vote of one signal component.
type ComponentDirection string

const (
	ComponentBullish ComponentDirection = "BULLISH"
	ComponentBearish ComponentDirection = "BEARISH"
	ComponentNeutral ComponentDirection = "NEUTRAL"
)

// EntryType classifies how a signal should be entered.
type EntryType string

const (
	EntryEarly    EntryType = "EARLY"
	EntryMomentum EntryType = "MOMENTUM"
	EntryReversal EntryType = "REVERSAL"
	EntryBreakout EntryType = "BREAKOUT"
)

// Encode returns the stable integer used in the feature schema.
func (e EntryType) Encode() int {
	switch e {
	case EntryEarly:
		return ml.EntryEarly
	case EntryReversal:
		return ml.EntryReversal
	case EntryBreakout:
		return ml.EntryBreakout
	default:
		return ml.EntryMomentum
	}
}

// DecodeEntryType maps the stored integer back to the entry classification.
func DecodeEntryType(v int) EntryType {
	switch v {
	case ml.EntryEarly:
		return EntryEarly
	case ml.EntryReversal:
		return EntryReversal
	case ml.EntryBreakout:
		return EntryBreakout
	default:
		return EntryMomentum
	}
}

// RiskLevel grades the setup quality.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Encode returns the stable integer used in the feature schema.
func (r RiskLevel) Encode() int {
	switch r {
	case RiskLow:
		return ml.RiskLow
	case RiskHigh:
		return ml.RiskHigh
	default:
		return ml.RiskMedium
	}
}

// SignalComponent is one weighted vote feeding the confluence calculation.
type SignalComponent struct {
	Name      string             `json:"name"`
	Direction ComponentDirection `json:"direction"`
	Strength  float64            `json:"strength"` // 0-100
	Weight    int                `json:"weight"`
}

// SmartSignal is the fused output for one symbol. The ML fields are only set
// when the predictor was reachable for this cycle.
type SmartSignal struct {
	Symbol          string            `json:"symbol"`
	Direction       market.Direction  `json:"direction"`
	Confidence      float64           `json:"confidence"`
	ConfluenceScore float64           `json:"confluence_score"`
	Components      []SignalComponent `json:"components"`
	Reasoning       []string          `json:"reasoning"`
	EntryType       EntryType         `json:"entry_type"`
	RiskLevel       RiskLevel         `json:"risk_level"`
	Price           float64           `json:"price"`
	Timestamp       time.Time         `json:"timestamp"`

	MLPrediction       *ml.Prediction `json:"ml_prediction,omitempty"`
	CombinedConfidence *float64       `json:"combined_confidence,omitempty"`
	QualityTier        ml.QualityTier `json:"quality_tier,omitempty"`
}

// EffectiveConfidence prefers the ML-blended confidence when present.
func (s SmartSignal) EffectiveConfidence() float64 {
	if s.CombinedConfidence != nil {
		return *s.CombinedConfidence
	}
	return s.Confidence
}

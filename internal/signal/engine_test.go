package signal

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/detectors"
	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/ml"
)

func fusionFixture() []SignalComponent {
	return []SignalComponent{
		{Name: "PriceMovement", Direction: ComponentBullish, Strength: 60, Weight: 20},
		{Name: "Volume", Direction: ComponentBullish, Strength: 70, Weight: 15},
		{Name: "Velocity", Direction: ComponentBullish, Strength: 55, Weight: 20},
		{Name: "Funding", Direction: ComponentNeutral, Strength: 30, Weight: 15},
		{Name: "OpenInterest", Direction: ComponentBullish, Strength: 50, Weight: 10},
		{Name: "MultiTimeframe", Direction: ComponentBullish, Strength: 80, Weight: 20},
	}
}

func TestCalculateConfluence(t *testing.T) {
	confluence, confidence, net, direction := calculateConfluence(fusionFixture())

	if math.Abs(net-53.5) > 1e-9 {
		t.Errorf("net = %v, want 53.5", net)
	}
	if math.Abs(confluence-53.5) > 1e-9 {
		t.Errorf("confluence = %v, want 53.5", confluence)
	}
	// 53.5 + 5/6*20 = 70.1666...
	if math.Abs(confidence-70.1666666667) > 1e-6 {
		t.Errorf("confidence = %v, want 70.17", confidence)
	}
	if direction != market.DirectionLong {
		t.Errorf("direction = %s, want LONG", direction)
	}
}

func TestConfluenceNeutralBand(t *testing.T) {
	components := []SignalComponent{
		{Name: "PriceMovement", Direction: ComponentBullish, Strength: 30, Weight: 20},
		{Name: "Volume", Direction: ComponentBearish, Strength: 20, Weight: 15},
	}
	_, _, net, direction := calculateConfluence(components)
	if net <= -10 || net >= 10 {
		t.Fatalf("fixture should land in the neutral band, net = %v", net)
	}
	if direction != market.DirectionNeutral {
		t.Errorf("direction = %s, want NEUTRAL", direction)
	}
}

func TestConfluenceShortDirection(t *testing.T) {
	components := []SignalComponent{
		{Name: "PriceMovement", Direction: ComponentBearish, Strength: 80, Weight: 20},
		{Name: "Velocity", Direction: ComponentBearish, Strength: 70, Weight: 20},
	}
	_, _, net, direction := calculateConfluence(components)
	if net >= 0 {
		t.Fatalf("net = %v, want negative", net)
	}
	if direction != market.DirectionShort {
		t.Errorf("direction = %s, want SHORT", direction)
	}
}

func TestConfidenceCappedAt100(t *testing.T) {
	components := []SignalComponent{
		{Name: "PriceMovement", Direction: ComponentBullish, Strength: 100, Weight: 20},
		{Name: "Velocity", Direction: ComponentBullish, Strength: 100, Weight: 20},
		{Name: "MultiTimeframe", Direction: ComponentBullish, Strength: 100, Weight: 20},
	}
	_, confidence, _, _ := calculateConfluence(components)
	if confidence > 100 {
		t.Errorf("confidence = %v, must be capped at 100", confidence)
	}
}

func TestRiskLevel(t *testing.T) {
	strong := func(n int) []SignalComponent {
		out := make([]SignalComponent, 6)
		for i := range out {
			out[i] = SignalComponent{Strength: 40, Weight: 10}
			if i < n {
				out[i].Strength = 60
			}
		}
		return out
	}

	if got := riskLevel(75, strong(4)); got != RiskLow {
		t.Errorf("confluence 75 with 4 strong = %s, want LOW", got)
	}
	if got := riskLevel(55, strong(3)); got != RiskMedium {
		t.Errorf("confluence 55 with 3 strong = %s, want MEDIUM", got)
	}
	if got := riskLevel(75, strong(2)); got != RiskHigh {
		t.Errorf("confluence 75 with 2 strong = %s, want HIGH", got)
	}
	if got := riskLevel(45, strong(6)); got != RiskHigh {
		t.Errorf("confluence 45 = %s, want HIGH", got)
	}
}

// stubPredictor returns a fixed win probability and counts how it was asked.
type stubPredictor struct {
	prediction ml.Prediction
	err        error
	batchErr   error

	predictCalls int
	batchCalls   int
}

func (s *stubPredictor) Healthy(context.Context) bool { return s.err == nil }

func (s *stubPredictor) Predict(context.Context, ml.SignalFeatures) (ml.Prediction, error) {
	s.predictCalls++
	return s.prediction, s.err
}

func (s *stubPredictor) PredictBatch(_ context.Context, features []ml.SignalFeatures) (map[string]ml.Prediction, error) {
	s.batchCalls++
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]ml.Prediction, len(features))
	for _, f := range features {
		p := s.prediction
		p.SignalID = f.SignalID
		out[f.SignalID] = p
	}
	return out, nil
}

func testEngine(predictor Predictor) *Engine {
	clock := market.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := market.NewDataStore(clock, 15*time.Minute, time.Hour)
	cfg := config.Default()
	return NewEngine(store, Detectors{}, cfg, predictor, zerolog.Nop())
}

func TestEnhanceBlendsConfidence(t *testing.T) {
	predictor := &stubPredictor{prediction: ml.Prediction{
		WinProbability: 0.80,
		QualityTier:    ml.TierHigh,
		ModelVersion:   "v3",
	}}
	engine := testEngine(predictor)

	sig := SmartSignal{Symbol: "BTCUSDT", Confidence: 70}
	engine.enhance(context.Background(), &sig, ml.SignalFeatures{})

	if sig.CombinedConfidence == nil {
		t.Fatal("combined confidence not set")
	}
	// base = 80*0.6 + 70*0.4 = 76; both above 60 so *1.1 = 83.6.
	if math.Abs(*sig.CombinedConfidence-83.6) > 1e-9 {
		t.Errorf("combined = %v, want 83.6", *sig.CombinedConfidence)
	}
	if sig.QualityTier != ml.TierHigh {
		t.Errorf("tier = %s", sig.QualityTier)
	}
	if sig.EffectiveConfidence() != 83.6 {
		t.Errorf("effective confidence = %v, want the blended value", sig.EffectiveConfidence())
	}
}

func TestEnhanceDisagreementPenalty(t *testing.T) {
	predictor := &stubPredictor{prediction: ml.Prediction{WinProbability: 0.90}}
	engine := testEngine(predictor)

	sig := SmartSignal{Symbol: "BTCUSDT", Confidence: 30}
	engine.enhance(context.Background(), &sig, ml.SignalFeatures{})

	// base = 90*0.6 + 30*0.4 = 66; |90-30| > 30 so *0.9 = 59.4.
	if math.Abs(*sig.CombinedConfidence-59.4) > 1e-9 {
		t.Errorf("combined = %v, want 59.4", *sig.CombinedConfidence)
	}
}

func TestEnhanceFailureLeavesSignalUnchanged(t *testing.T) {
	engine := testEngine(&stubPredictor{err: errors.New("down")})

	sig := SmartSignal{Symbol: "BTCUSDT", Confidence: 70}
	engine.enhance(context.Background(), &sig, ml.SignalFeatures{})

	if sig.MLPrediction != nil || sig.CombinedConfidence != nil {
		t.Error("failed prediction must leave the signal unenhanced")
	}
	if sig.EffectiveConfidence() != 70 {
		t.Errorf("effective confidence = %v, want the rule value", sig.EffectiveConfidence())
	}
}

func TestSelectEntryTypePriority(t *testing.T) {
	clock := market.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := market.NewDataStore(clock, 15*time.Minute, time.Hour)
	mtf := detectors.NewMTFDetector(store, nil, nil)
	engine := NewEngine(store, Detectors{MTF: mtf}, config.Default(), nil, zerolog.Nop())

	byName := func(volume, velocity, funding, mtfStrength float64) []SignalComponent {
		return []SignalComponent{
			{Name: "Volume", Strength: volume},
			{Name: "Velocity", Strength: velocity},
			{Name: "Funding", Strength: funding},
			{Name: "MultiTimeframe", Strength: mtfStrength},
		}
	}

	// Extreme funding outranks everything.
	if got := engine.selectEntryType("BTCUSDT", byName(90, 90, 80, 90)); got != EntryReversal {
		t.Errorf("funding 80 = %s, want REVERSAL", got)
	}
	// High volume with quiet velocity is an early entry.
	if got := engine.selectEntryType("BTCUSDT", byName(70, 30, 20, 90)); got != EntryEarly {
		t.Errorf("volume 70 velocity 30 = %s, want EARLY", got)
	}
	// Fast move with timeframe confirmation is a breakout.
	if got := engine.selectEntryType("BTCUSDT", byName(50, 80, 20, 70)); got != EntryBreakout {
		t.Errorf("velocity 80 mtf 70 = %s, want BREAKOUT", got)
	}
	// Everything else is momentum.
	if got := engine.selectEntryType("BTCUSDT", byName(50, 50, 20, 50)); got != EntryMomentum {
		t.Errorf("default = %s, want MOMENTUM", got)
	}
}

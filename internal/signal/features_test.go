package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/detectors"
	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/ml"
)

// fullEngine wires real detector instances so feature extraction can read
// every cache. The REST-backed detectors never get an Update call here, so
// nil clients are safe.
func fullEngine(predictor Predictor) (*Engine, *market.DataStore, *market.MockClock, Detectors) {
	clock := market.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := market.NewDataStore(clock, 15*time.Minute, 2*time.Hour)
	cfg := config.Default()

	oi := detectors.NewOpenInterestDetector(store, nil)
	det := Detectors{
		Volume:      detectors.NewVolumeDetector(store, cfg.VolumeConfig),
		Velocity:    detectors.NewVelocityDetector(store, cfg.VelocityConfig),
		Funding:     detectors.NewFundingDetector(store, nil),
		OI:          oi,
		MTF:         detectors.NewMTFDetector(store, nil, oi),
		Whale:       detectors.NewWhaleDetector(store),
		Correlation: detectors.NewCorrelationDetector(store),
		Pattern:     detectors.NewPatternDetector(store, nil, oi),
		Entry:       detectors.NewEntryTimingDetector(store, nil, oi),
	}
	return NewEngine(store, det, cfg, predictor, zerolog.Nop()), store, clock, det
}

func feedTick(store *market.DataStore, symbol string, price, cumVolume float64) {
	store.Update([]market.Ticker{{
		Symbol:             symbol,
		LastPrice:          price,
		PriceChangePercent: 15,
		QuoteVolume:        cumVolume,
	}})
}

func TestExtractFeaturesVelocityAndVolumeColumns(t *testing.T) {
	engine, store, clock, det := fullEngine(nil)

	// An hour of steady climb on growing flow, then a burst. Two velocity
	// passes straddle the burst so the velocity delta is observable.
	price, volume := 100.0, 5e7
	for i := 0; i <= 60; i++ {
		feedTick(store, "JJJUSDT", price, volume)
		price += 0.5
		volume += 1e5
		clock.Advance(time.Minute)
	}
	det.Velocity.Detect()

	for i := 0; i < 10; i++ {
		price += 3
		volume += 1e5
		feedTick(store, "JJJUSDT", price, volume)
		clock.Advance(time.Minute)
	}
	det.Velocity.Detect()

	state, ok := store.Get("JJJUSDT")
	if !ok {
		t.Fatal("symbol not in store")
	}
	sig := SmartSignal{Symbol: "JJJUSDT", Direction: market.DirectionLong, Confidence: 70}
	f := engine.extractFeatures("sig-1", "JJJUSDT", state, sig,
		detectors.FundingAlert{}, detectors.OIAlert{})

	if f.Velocity <= 0 {
		t.Errorf("velocity = %v, want positive on a climbing price", f.Velocity)
	}
	if f.Acceleration <= 0 {
		t.Errorf("acceleration = %v, want positive after the burst", f.Acceleration)
	}
	if f.VolumeChange1h <= 0 {
		t.Errorf("volume_change_1h = %v, want positive on growing flow", f.VolumeChange1h)
	}
}

func TestAnalyzeScoresCycleInOneBatch(t *testing.T) {
	predictor := &stubPredictor{prediction: ml.Prediction{
		WinProbability: 0.80,
		QualityTier:    ml.TierHigh,
		ModelVersion:   "v3",
	}}
	engine, store, _, _ := fullEngine(predictor)

	// A 15% mover resolves LONG from the price-movement vote alone.
	feedTick(store, "JJJUSDT", 100, 5e7)
	engine.Analyze(context.Background())

	sig, ok := engine.Latest("JJJUSDT")
	if !ok {
		t.Fatal("no signal emitted")
	}
	if sig.Direction != market.DirectionLong {
		t.Errorf("direction = %s, want LONG", sig.Direction)
	}
	if sig.CombinedConfidence == nil {
		t.Fatal("batch prediction was not applied")
	}
	if sig.QualityTier != ml.TierHigh {
		t.Errorf("tier = %s, want HIGH", sig.QualityTier)
	}
	if predictor.batchCalls != 1 {
		t.Errorf("batch calls = %d, want 1", predictor.batchCalls)
	}
	if predictor.predictCalls != 0 {
		t.Errorf("predict calls = %d, the cycle must score in one round trip", predictor.predictCalls)
	}
}

func TestAnalyzeFallsBackToPerSignalPrediction(t *testing.T) {
	predictor := &stubPredictor{
		prediction: ml.Prediction{WinProbability: 0.80, QualityTier: ml.TierHigh},
		batchErr:   errors.New("batch endpoint unavailable"),
	}
	engine, store, _, _ := fullEngine(predictor)

	feedTick(store, "JJJUSDT", 100, 5e7)
	engine.Analyze(context.Background())

	sig, ok := engine.Latest("JJJUSDT")
	if !ok {
		t.Fatal("no signal emitted")
	}
	if sig.CombinedConfidence == nil {
		t.Fatal("per-signal fallback was not applied")
	}
	if predictor.predictCalls == 0 {
		t.Error("failed batch must fall back to per-signal predictions")
	}
}

package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/detectors"
	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/ml"
)

// Component weights. Fixed integers; the confluence math divides by the sum
// of the weights actually present.
const (
	weightPriceMovement = 20
	weightVolume        = 15
	weightVelocity      = 20
	weightFunding       = 15
	weightOpenInterest  = 10
	weightMTF           = 20
)

// Direction gate on the net weighted score.
const directionThreshold = 10.0

// Predictor is the outbound port to the external win-probability service.
// A nil Predictor disables ML enhancement entirely.
type Predictor interface {
	Healthy(ctx context.Context) bool
	Predict(ctx context.Context, features ml.SignalFeatures) (ml.Prediction, error)
	PredictBatch(ctx context.Context, features []ml.SignalFeatures) (map[string]ml.Prediction, error)
}

// Detectors bundles the read-only handles the engine consumes. The engine
// never writes to any detector.
type Detectors struct {
	Volume      *detectors.VolumeDetector
	Velocity    *detectors.VelocityDetector
	Funding     *detectors.FundingDetector
	OI          *detectors.OpenInterestDetector
	MTF         *detectors.MTFDetector
	Whale       *detectors.WhaleDetector
	Correlation *detectors.CorrelationDetector
	Pattern     *detectors.PatternDetector
	Entry       *detectors.EntryTimingDetector
}

// Emitted is one generated signal together with the feature vector and the
// id that links it to outcome tracking and persistence.
type Emitted struct {
	ID       string
	Signal   SmartSignal
	Features ml.SignalFeatures
}

// Engine fuses detector evidence into directional signals. It retains the
// latest signal per symbol with overwrite semantics.
type Engine struct {
	store     *market.DataStore
	det       Detectors
	cfg       *config.Config
	predictor Predictor
	logger    zerolog.Logger

	mu     sync.RWMutex
	latest map[string]SmartSignal
	onEmit func(Emitted)
}

func NewEngine(store *market.DataStore, det Detectors, cfg *config.Config, predictor Predictor, logger zerolog.Logger) *Engine {
	return &Engine{
		store:     store,
		det:       det,
		cfg:       cfg,
		predictor: predictor,
		logger:    logger.With().Str("component", "signal_engine").Logger(),
		latest:    make(map[string]SmartSignal),
	}
}

// OnEmit registers the sink for generated signals. Called once at wiring
// time, before the scheduler starts.
func (e *Engine) OnEmit(fn func(Emitted)) {
	e.onEmit = fn
}

// Analyze runs one fusion cycle over every tracked symbol. Symbols that do
// not resolve to a non-neutral direction are skipped; everything else
// overwrites the per-symbol latest signal.
func (e *Engine) Analyze(ctx context.Context) {
	now := e.store.Clock().Now()

	fundingAlerts := make(map[string]detectors.FundingAlert)
	for _, a := range e.det.Funding.Detect() {
		fundingAlerts[a.Symbol] = a
	}
	oiAlerts := make(map[string]detectors.OIAlert)
	for _, a := range e.det.OI.Detect() {
		oiAlerts[a.Symbol] = a
	}

	mlHealthy := e.predictor != nil && e.cfg.MLConfig.Enabled && e.predictor.Healthy(ctx)

	var cycle []Emitted
	for symbol, state := range e.store.All() {
		if ctx.Err() != nil {
			return
		}
		components := e.buildComponents(symbol, state, fundingAlerts[symbol], oiAlerts[symbol], now)
		if len(components) == 0 {
			continue
		}

		confluence, confidence, net, direction := calculateConfluence(components)
		if direction == market.DirectionNeutral {
			continue
		}

		sig := SmartSignal{
			Symbol:          symbol,
			Direction:       direction,
			Confidence:      confidence,
			ConfluenceScore: confluence,
			Components:      components,
			Reasoning:       buildReasoning(components, net),
			EntryType:       e.selectEntryType(symbol, components),
			RiskLevel:       riskLevel(confluence, components),
			Price:           state.Current.LastPrice,
			Timestamp:       now,
		}

		id := uuid.NewString()
		features := e.extractFeatures(id, symbol, state, sig, fundingAlerts[symbol], oiAlerts[symbol])
		cycle = append(cycle, Emitted{ID: id, Signal: sig, Features: features})
	}

	if mlHealthy && len(cycle) > 0 {
		e.enhanceCycle(ctx, cycle)
	}

	for i := range cycle {
		e.mu.Lock()
		e.latest[cycle[i].Signal.Symbol] = cycle[i].Signal
		e.mu.Unlock()
		if e.onEmit != nil {
			e.onEmit(cycle[i])
		}
	}

	if len(cycle) > 0 {
		e.logger.Debug().Int("signals", len(cycle)).Msg("analysis cycle complete")
	}
}

// buildComponents produces up to six weighted votes for one symbol.
func (e *Engine) buildComponents(symbol string, state market.SymbolState, funding detectors.FundingAlert, oi detectors.OIAlert, now time.Time) []SignalComponent {
	var components []SignalComponent

	change := state.Current.PriceChangePercent
	components = append(components, SignalComponent{
		Name:      "PriceMovement",
		Direction: componentDirection(change),
		Strength:  clamp(abs(change)*5, 0, 100),
		Weight:    weightPriceMovement,
	})

	if mult, ok := e.det.Volume.Multiplier(symbol); ok {
		components = append(components, SignalComponent{
			Name:      "Volume",
			Direction: componentDirection(change),
			Strength:  clamp(mult*20, 0, 100),
			Weight:    weightVolume,
		})
	}

	window := time.Duration(e.cfg.VelocityConfig.WindowMinutes) * time.Minute
	if vchange, minutes, ok := state.PriceChangeOver(window, now); ok && minutes > 0 {
		v := vchange / minutes
		components = append(components, SignalComponent{
			Name:      "Velocity",
			Direction: componentDirection(v),
			Strength:  clamp(abs(v)*40, 0, 100),
			Weight:    weightVelocity,
		})
	}

	if funding.Symbol != "" {
		components = append(components, SignalComponent{
			Name:      "Funding",
			Direction: directionToComponent(funding.Direction),
			Strength:  funding.Strength,
			Weight:    weightFunding,
		})
	}

	if oi.Symbol != "" {
		components = append(components, SignalComponent{
			Name:      "OpenInterest",
			Direction: directionToComponent(oi.Direction),
			Strength:  clamp(abs(oi.OIChangePercent)*10, 0, 100),
			Weight:    weightOpenInterest,
		})
	}

	if mtf, ok := e.det.MTF.Get(symbol); ok {
		components = append(components, SignalComponent{
			Name:      "MultiTimeframe",
			Direction: directionToComponent(mtf.Direction),
			Strength:  mtf.Strength,
			Weight:    weightMTF,
		})
	}

	return components
}

// calculateConfluence fuses the weighted votes.
//
// With W the sum of present weights, bullish and bearish accumulate
// (strength/100)*weight per side, net is their difference, confluence is
// |net|/W*100 and confidence adds an alignment bonus of up to 20.
func calculateConfluence(components []SignalComponent) (confluence, confidence, net float64, direction market.Direction) {
	var bullish, bearish float64
	var totalWeight int
	for _, c := range components {
		switch c.Direction {
		case ComponentBullish:
			bullish += c.Strength / 100 * float64(c.Weight)
		case ComponentBearish:
			bearish += c.Strength / 100 * float64(c.Weight)
		}
		totalWeight += c.Weight
	}
	if totalWeight == 0 {
		return 0, 0, 0, market.DirectionNeutral
	}

	net = bullish - bearish
	confluence = abs(net) / float64(totalWeight) * 100

	aligned := 0
	want := ComponentBullish
	if net < 0 {
		want = ComponentBearish
	}
	for _, c := range components {
		if c.Direction == want {
			aligned++
		}
	}

	confidence = confluence + float64(aligned)/float64(len(components))*20
	if confidence > 100 {
		confidence = 100
	}

	switch {
	case net > directionThreshold:
		direction = market.DirectionLong
	case net < -directionThreshold:
		direction = market.DirectionShort
	default:
		direction = market.DirectionNeutral
	}
	return confluence, confidence, net, direction
}

// selectEntryType picks the entry classification by priority, first match
// wins.
func (e *Engine) selectEntryType(symbol string, components []SignalComponent) EntryType {
	strengths := make(map[string]float64, len(components))
	for _, c := range components {
		strengths[c.Name] = c.Strength
	}

	divergence := detectors.DivergenceNone
	mtfStrength := strengths["MultiTimeframe"]
	if mtf, ok := e.det.MTF.Get(symbol); ok {
		divergence = mtf.Divergence
	}

	switch {
	case divergence != detectors.DivergenceNone || strengths["Funding"] > 70:
		return EntryReversal
	case strengths["Volume"] > 60 && strengths["Velocity"] < 40:
		return EntryEarly
	case strengths["Velocity"] > 70 && mtfStrength > 60:
		return EntryBreakout
	default:
		return EntryMomentum
	}
}

// riskLevel grades the setup from confluence and the count of strong
// components.
func riskLevel(confluence float64, components []SignalComponent) RiskLevel {
	strong := 0
	for _, c := range components {
		if c.Strength > 50 {
			strong++
		}
	}
	switch {
	case confluence > 70 && strong >= 4:
		return RiskLow
	case confluence > 50 && strong >= 3:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func buildReasoning(components []SignalComponent, net float64) []string {
	reasons := make([]string, 0, len(components)+1)
	for _, c := range components {
		reasons = append(reasons, fmt.Sprintf("%s %s at strength %.0f (weight %d)",
			c.Name, c.Direction, c.Strength, c.Weight))
	}
	reasons = append(reasons, fmt.Sprintf("net weighted score %.1f", net))
	return reasons
}

// enhanceCycle scores a whole cycle's signals in one predictor round trip.
// A failed batch falls back to per-signal predictions, which ride the
// client's cache.
func (e *Engine) enhanceCycle(ctx context.Context, cycle []Emitted) {
	features := make([]ml.SignalFeatures, len(cycle))
	for i := range cycle {
		features[i] = cycle[i].Features
	}

	predictions, err := e.predictor.PredictBatch(ctx, features)
	if err != nil {
		e.logger.Debug().Err(err).Int("signals", len(cycle)).Msg("batch prediction unavailable")
		for i := range cycle {
			e.enhance(ctx, &cycle[i].Signal, cycle[i].Features)
		}
		return
	}

	for i := range cycle {
		if prediction, ok := predictions[cycle[i].ID]; ok {
			e.applyPrediction(&cycle[i].Signal, prediction)
		}
	}
}

// enhance blends the rule confidence with the predictor's win probability.
// Any failure leaves the signal unenhanced; there is no retry inside a cycle.
func (e *Engine) enhance(ctx context.Context, sig *SmartSignal, features ml.SignalFeatures) {
	prediction, err := e.predictor.Predict(ctx, features)
	if err != nil {
		e.logger.Debug().Err(err).Str("symbol", sig.Symbol).Msg("prediction unavailable")
		return
	}
	e.applyPrediction(sig, prediction)
}

// applyPrediction blends the model probability into the signal.
func (e *Engine) applyPrediction(sig *SmartSignal, prediction ml.Prediction) {
	mlConf := prediction.WinProbability * 100
	ruleConf := sig.Confidence

	base := mlConf*e.cfg.MLConfig.MLWeight + ruleConf*e.cfg.MLConfig.RuleWeight
	if (mlConf > 60 && ruleConf > 60) || (mlConf < 40 && ruleConf < 40) {
		base *= 1.1
	}
	if abs(mlConf-ruleConf) > 30 {
		base *= 0.9
	}
	combined := clamp(base, 0, 100)

	sig.MLPrediction = &prediction
	sig.CombinedConfidence = &combined
	sig.QualityTier = prediction.QualityTier
}

// Latest returns the retained signal for one symbol.
func (e *Engine) Latest(symbol string) (SmartSignal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.latest[symbol]
	return s, ok
}

func componentDirection(v float64) ComponentDirection {
	switch {
	case v > 0:
		return ComponentBullish
	case v < 0:
		return ComponentBearish
	default:
		return ComponentNeutral
	}
}

func directionToComponent(d market.Direction) ComponentDirection {
	switch d {
	case market.DirectionLong:
		return ComponentBullish
	case market.DirectionShort:
		return ComponentBearish
	default:
		return ComponentNeutral
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

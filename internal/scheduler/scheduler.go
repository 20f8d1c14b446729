// Package scheduler drives the engine's heartbeat: the ingest chain, the
// per-detector cadence loops, snapshot publication and outcome evaluation.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/database"
	"binance-signal-engine/internal/detectors"
	"binance-signal-engine/internal/events"
	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/signal"
	"binance-signal-engine/internal/snapshot"
	"binance-signal-engine/internal/tracker"
)

// Stream is the ticker source the scheduler consumes. The caller owns the
// stream's lifecycle; the scheduler only drains batches.
type Stream interface {
	Batches() <-chan []market.Ticker
	IsConnected() bool
	OnStatusChange(fn func(connected bool))
}

// Saver receives the periodic persistence pulse. Both the PostgreSQL
// repository and the in-memory store satisfy it.
type Saver interface {
	SaveOpportunity(ctx context.Context, o database.Opportunity) error
	SaveAlert(ctx context.Context, a database.Alert) error
}

// Detectors bundles the handles the scheduler drives. Pull-style detectors
// (volatility, range and the rest) are read at snapshot time by the builder
// and need no loop here.
type Detectors struct {
	Volume      *detectors.VolumeDetector
	Volatility  *detectors.VolatilityDetector
	Funding     *detectors.FundingDetector
	OI          *detectors.OpenInterestDetector
	MTF         *detectors.MTFDetector
	Pattern     *detectors.PatternDetector
	Entry       *detectors.EntryTimingDetector
	Correlation *detectors.CorrelationDetector
	Whale       *detectors.WhaleDetector
	Liquidation *detectors.LiquidationDetector
	TopPicker   *detectors.TopPicker
}

// Scheduler owns every periodic loop in the process. One Scheduler per
// engine run.
type Scheduler struct {
	cfg     *config.Config
	store   *market.DataStore
	stream  Stream
	det     Detectors
	engine  *signal.Engine
	tracker *tracker.OutcomeTracker
	builder *snapshot.Builder
	bus     *events.EventBus
	saver   Saver // nil when persistence is disabled
	logger  zerolog.Logger

	onSnapshot func(*snapshot.Document)

	mu           sync.Mutex
	prevCritical map[string]bool

	opportunitiesSaved atomic.Int64
	alertsSaved        atomic.Int64
}

func New(
	cfg *config.Config,
	store *market.DataStore,
	stream Stream,
	det Detectors,
	engine *signal.Engine,
	outcomes *tracker.OutcomeTracker,
	builder *snapshot.Builder,
	bus *events.EventBus,
	saver Saver,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		store:        store,
		stream:       stream,
		det:          det,
		engine:       engine,
		tracker:      outcomes,
		builder:      builder,
		bus:          bus,
		saver:        saver,
		logger:       logger.With().Str("component", "scheduler").Logger(),
		prevCritical: make(map[string]bool),
	}
}

// OnSnapshot registers the consumer of each built snapshot document.
// Register before Run.
func (s *Scheduler) OnSnapshot(fn func(*snapshot.Document)) {
	s.onSnapshot = fn
}

// loop is one cadence-driven task. The busy flag coalesces: a tick arriving
// while the previous run is still in flight is skipped, never queued.
type loop struct {
	name  string
	every time.Duration
	busy  atomic.Bool
	fn    func(context.Context)
}

// Run blocks until ctx is cancelled, then flushes a final snapshot and save
// pulse before returning.
func (s *Scheduler) Run(ctx context.Context) {
	s.stream.OnStatusChange(func(connected bool) {
		s.bus.PublishConnectionStatus(connected)
		if !connected {
			s.builder.Notifications().Push(snapshot.Notification{
				Type:    "CONNECTION_LOST",
				Message: "ticker stream disconnected, reconnecting",
				Level:   "warning",
			})
		}
	})

	c := s.cfg.CadenceConfig
	loops := []*loop{
		{name: "funding", every: cadence(c.FundingSec, 120), fn: s.fundingTick},
		{name: "open_interest", every: cadence(c.OpenInterestSec, 120), fn: s.openInterestTick},
		{name: "mtf", every: cadence(c.MTFSec, 60), fn: s.mtfTick},
		{name: "pattern", every: cadence(c.PatternSec, 60), fn: s.patternTick},
		{name: "entry_timing", every: cadence(c.EntryTimingSec, 30), fn: s.entryTimingTick},
		{name: "correlation", every: cadence(c.CorrelationSec, 30), fn: s.correlationTick},
		{name: "whale", every: cadence(c.WhaleSec, 10), fn: s.whaleTick},
		{name: "liquidation", every: cadence(c.LiquidationSec, 5), fn: s.liquidationTick},
		{name: "snapshot", every: cadence(c.SnapshotSec, 2), fn: s.snapshotTick},
		{name: "outcome_eval", every: cadence(c.OutcomeEvalSec, 15), fn: s.outcomeTick},
		{name: "store_save", every: cadence(c.StoreSaveSec, 30), fn: s.savePulse},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ingest(ctx)
	}()

	for _, l := range loops {
		wg.Add(1)
		go func(l *loop) {
			defer wg.Done()
			s.runLoop(ctx, l)
		}(l)
	}

	s.logger.Info().Int("loops", len(loops)).Msg("scheduler started")
	<-ctx.Done()
	wg.Wait()
	s.drain()
}

// ingest drives the batch chain: store update, volume tracking, then the
// ingested pulse. New symbols surface as listing events.
func (s *Scheduler) ingest(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-s.stream.Batches():
			if !ok {
				return
			}
			newSymbols := s.store.Update(batch)
			s.det.Volume.TrackBatch(batch)
			s.bus.PublishIngested(len(batch), len(newSymbols))

			for _, symbol := range newSymbols {
				price := 0.0
				if state, found := s.store.Get(symbol); found {
					price = state.Current.LastPrice
				}
				s.bus.PublishNewListing(symbol, price)
				s.builder.Notifications().Push(snapshot.Notification{
					Type:    "NEW_LISTING",
					Symbol:  symbol,
					Message: fmt.Sprintf("%s listed at %.8g", symbol, price),
					Level:   "info",
				})
			}
		}
	}
}

func (s *Scheduler) runLoop(ctx context.Context, l *loop) {
	ticker := time.NewTicker(l.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.busy.CompareAndSwap(false, true) {
				s.logger.Debug().Str("loop", l.name).Msg("tick skipped, previous run in flight")
				continue
			}
			go func() {
				defer l.busy.Store(false)
				l.fn(ctx)
			}()
		}
	}
}

func (s *Scheduler) fundingTick(ctx context.Context) {
	if err := s.det.Funding.Update(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("funding update failed")
		s.bus.PublishError("funding", "funding update failed", err)
	}
}

func (s *Scheduler) openInterestTick(ctx context.Context) {
	if err := s.det.OI.Update(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("open interest update failed")
		s.bus.PublishError("open_interest", "open interest update failed", err)
	}
}

func (s *Scheduler) mtfTick(ctx context.Context) {
	if err := s.det.MTF.Update(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("mtf update failed")
	}
}

func (s *Scheduler) patternTick(ctx context.Context) {
	if err := s.det.Pattern.Update(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("pattern update failed")
	}
}

func (s *Scheduler) entryTimingTick(ctx context.Context) {
	if err := s.det.Entry.Update(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("entry timing update failed")
	}
}

func (s *Scheduler) correlationTick(context.Context) {
	s.det.Correlation.Update()
}

func (s *Scheduler) whaleTick(context.Context) {
	s.det.Whale.Update()
}

func (s *Scheduler) liquidationTick(context.Context) {
	s.det.Liquidation.Update()
}

// snapshotTick runs one analysis cycle, publishes the resulting document and
// fires the critical-volatility edge alerts.
func (s *Scheduler) snapshotTick(ctx context.Context) {
	s.engine.Analyze(ctx)

	doc := s.builder.Build()
	if s.onSnapshot != nil {
		s.onSnapshot(doc)
	}
	s.bus.Publish(events.Event{
		Type: events.EventSnapshotPublished,
		Data: map[string]interface{}{
			"symbol_count": doc.SymbolCount,
			"connected":    doc.Connected,
		},
	})

	s.diffCritical(ctx)
}

// diffCritical fires one alert per symbol newly entering the critical
// volatility set. The set diff makes re-fires impossible while the symbol
// stays critical.
func (s *Scheduler) diffCritical(ctx context.Context) {
	current := s.det.Volatility.CriticalSet()

	s.mu.Lock()
	previous := s.prevCritical
	s.prevCritical = current
	s.mu.Unlock()

	for symbol := range current {
		if previous[symbol] {
			continue
		}
		change := 0.0
		if state, found := s.store.Get(symbol); found {
			change = state.Current.PriceChangePercent
		}
		s.bus.PublishCriticalVolatility(symbol, change)
		s.builder.Notifications().Push(snapshot.Notification{
			Type:    "CRITICAL_VOLATILITY",
			Symbol:  symbol,
			Message: fmt.Sprintf("%s moved %+.2f%% in 24h", symbol, change),
			Level:   "critical",
		})
		if s.saver != nil {
			alert := database.Alert{
				Symbol:    symbol,
				Kind:      "CRITICAL_VOLATILITY",
				Message:   fmt.Sprintf("%s moved %+.2f%% in 24h", symbol, change),
				Level:     "critical",
				CreatedAt: s.store.Clock().Now(),
			}
			if err := s.saver.SaveAlert(ctx, alert); err != nil {
				s.logger.Warn().Err(err).Str("symbol", symbol).Msg("alert persist failed")
			} else {
				s.alertsSaved.Add(1)
			}
		}
	}
}

func (s *Scheduler) outcomeTick(ctx context.Context) {
	s.tracker.EvaluatePending(ctx)
}

// savePulse persists the current top picks. The (symbol, type, created_at)
// uniqueness in the store makes a repeated pulse idempotent.
func (s *Scheduler) savePulse(ctx context.Context) {
	if s.saver == nil {
		return
	}

	for _, pick := range s.det.TopPicker.Detect() {
		state, found := s.store.Get(pick.Symbol)
		if !found {
			continue
		}
		rangePct := 0.0
		if state.Current.OpenPrice > 0 {
			rangePct = (state.Current.HighPrice - state.Current.LowPrice) / state.Current.OpenPrice * 100
		}
		opp := database.Opportunity{
			Symbol:    pick.Symbol,
			Type:      "TOP_PICK",
			Score:     pick.Score,
			Direction: string(pick.Direction),
			Change24h: pick.Change24h,
			VolMult:   pick.VolumeMult,
			Velocity:  pick.Velocity,
			RangePct:  rangePct,
			IsNew:     state.IsNew,
			LastPrice: state.Current.LastPrice,
			CreatedAt: pick.Timestamp,
		}
		if err := s.saver.SaveOpportunity(ctx, opp); err != nil {
			s.logger.Warn().Err(err).Str("symbol", pick.Symbol).Msg("opportunity persist failed")
			continue
		}
		s.opportunitiesSaved.Add(1)
	}
}

// drain flushes the last snapshot and save pulse after cancellation so
// consumers and the store see the final state.
func (s *Scheduler) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.tracker.EvaluatePending(ctx)
	s.savePulse(ctx)

	doc := s.builder.Build()
	if s.onSnapshot != nil {
		s.onSnapshot(doc)
	}
	s.logger.Info().
		Int64("opportunities", s.opportunitiesSaved.Load()).
		Int64("alerts", s.alertsSaved.Load()).
		Msg("scheduler drained")
}

// Counters reports how many rows the save pulses persisted, for session
// accounting at shutdown.
func (s *Scheduler) Counters() (opportunities, alerts int) {
	return int(s.opportunitiesSaved.Load()), int(s.alertsSaved.Load())
}

func cadence(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

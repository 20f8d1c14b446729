package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/ml"
	"binance-signal-engine/internal/signal"
)

// Outcome is the lifecycle state of a recorded signal.
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeWin     Outcome = "WIN"
	OutcomeLoss    Outcome = "LOSS"
)

// Win/loss cut-offs on pnl percent.
const (
	winThreshold  = 0.5
	lossThreshold = -0.5
)

// SignalRecord is one tracked signal. A record moves PENDING to WIN or LOSS
// exactly once and never back.
type SignalRecord struct {
	ID           string             `json:"id"`
	Symbol       string             `json:"symbol"`
	EntryType    signal.EntryType   `json:"entry_type"`
	Direction    market.Direction   `json:"direction"`
	EntryPrice   float64            `json:"entry_price"`
	Confidence   float64            `json:"confidence"`
	Timestamp    time.Time          `json:"timestamp"`
	Outcome      Outcome            `json:"outcome"`
	ExitPrice    float64            `json:"exit_price,omitempty"`
	PnlPercent   float64            `json:"pnl_percent,omitempty"`
	Features     *ml.SignalFeatures `json:"features,omitempty"`
	MLPrediction *ml.Prediction     `json:"ml_prediction,omitempty"`
}

// Store is the persistence port the tracker writes through. Failures are
// logged and dropped; the pending set is recoverable from the store on
// restart.
type Store interface {
	UpsertSignalFeatures(ctx context.Context, record SignalRecord) error
	UpdateSignalOutcome(ctx context.Context, id string, outcome string, pnlPercent float64) error
	PendingSignalRecords(ctx context.Context) ([]SignalRecord, error)
}

// OutcomeTracker records emitted signals and grades them against the price
// observed after the evaluation window.
type OutcomeTracker struct {
	store  *market.DataStore
	cfg    config.TrackerConfig
	db     Store
	logger zerolog.Logger

	mu        sync.RWMutex
	pending   map[string]*SignalRecord
	completed []SignalRecord // bounded ring, newest last

	onComplete func(SignalRecord)
}

func NewOutcomeTracker(store *market.DataStore, cfg config.TrackerConfig, db Store, logger zerolog.Logger) *OutcomeTracker {
	return &OutcomeTracker{
		store:   store,
		cfg:     cfg,
		db:      db,
		logger:  logger.With().Str("component", "tracker").Logger(),
		pending: make(map[string]*SignalRecord),
	}
}

// Record stores a newly emitted signal. Signals below the emit threshold or
// without a direction are ignored.
func (t *OutcomeTracker) Record(ctx context.Context, emitted signal.Emitted) {
	sig := emitted.Signal
	if sig.EffectiveConfidence() < t.cfg.EmitThreshold || sig.Direction == market.DirectionNeutral {
		return
	}

	features := emitted.Features
	record := &SignalRecord{
		ID:           emitted.ID,
		Symbol:       sig.Symbol,
		EntryType:    sig.EntryType,
		Direction:    sig.Direction,
		EntryPrice:   sig.Price,
		Confidence:   sig.EffectiveConfidence(),
		Timestamp:    sig.Timestamp,
		Outcome:      OutcomePending,
		Features:     &features,
		MLPrediction: sig.MLPrediction,
	}

	t.mu.Lock()
	t.pending[record.ID] = record
	t.mu.Unlock()

	if t.db != nil {
		if err := t.db.UpsertSignalFeatures(ctx, *record); err != nil {
			t.logger.Warn().Err(err).Str("id", record.ID).Msg("signal persist failed")
		}
	}
}

// Restore reloads PENDING records persisted by a previous run so their
// evaluation windows still complete after a restart. Records already pending
// in memory are left untouched. Returns how many records were restored.
func (t *OutcomeTracker) Restore(records []SignalRecord) int {
	t.mu.Lock()
	restored := 0
	for _, r := range records {
		if r.ID == "" || r.Outcome != OutcomePending {
			continue
		}
		if _, exists := t.pending[r.ID]; exists {
			continue
		}
		record := r
		t.pending[record.ID] = &record
		restored++
	}
	t.mu.Unlock()

	if restored > 0 {
		t.logger.Info().Int("signals", restored).Msg("pending signals recovered")
	}
	return restored
}

// EvaluatePending grades every record older than the evaluation window using
// the most recent observed price.
func (t *OutcomeTracker) EvaluatePending(ctx context.Context) {
	now := t.store.Clock().Now()
	evalAfter := t.cfg.EvaluationTime()

	t.mu.Lock()
	var due []*SignalRecord
	for _, record := range t.pending {
		if now.Sub(record.Timestamp) >= evalAfter {
			due = append(due, record)
		}
	}
	t.mu.Unlock()

	for _, record := range due {
		state, ok := t.store.Get(record.Symbol)
		if !ok || state.Current.LastPrice <= 0 || record.EntryPrice <= 0 {
			continue
		}
		t.complete(ctx, record, state.Current.LastPrice)
	}
}

func (t *OutcomeTracker) complete(ctx context.Context, record *SignalRecord, exitPrice float64) {
	pnl := (exitPrice - record.EntryPrice) / record.EntryPrice * 100
	if record.Direction == market.DirectionShort {
		pnl = -pnl
	}

	outcome := OutcomeLoss
	switch {
	case pnl > winThreshold:
		outcome = OutcomeWin
	case pnl < lossThreshold:
		outcome = OutcomeLoss
	case pnl >= 0:
		outcome = OutcomeWin
	}

	t.mu.Lock()
	if _, stillPending := t.pending[record.ID]; !stillPending {
		t.mu.Unlock()
		return
	}
	delete(t.pending, record.ID)

	record.Outcome = outcome
	record.ExitPrice = exitPrice
	record.PnlPercent = pnl

	t.completed = append(t.completed, *record)
	if len(t.completed) > t.cfg.MaxCompleted {
		t.completed = t.completed[len(t.completed)-t.cfg.MaxCompleted:]
	}
	t.mu.Unlock()

	t.logger.Info().
		Str("symbol", record.Symbol).
		Str("outcome", string(outcome)).
		Float64("pnl", pnl).
		Float64("confidence", record.Confidence).
		Msg("signal evaluated")

	if t.db != nil {
		if err := t.db.UpdateSignalOutcome(ctx, record.ID, string(outcome), pnl); err != nil {
			t.logger.Warn().Err(err).Str("id", record.ID).Msg("outcome persist failed")
		}
	}

	if t.onComplete != nil {
		t.onComplete(*record)
	}
}

// OnComplete registers a callback fired once per graded record, after the
// outcome is persisted. Register before the evaluation loop starts.
func (t *OutcomeTracker) OnComplete(fn func(SignalRecord)) {
	t.onComplete = fn
}

// PendingCount returns the number of unevaluated records.
func (t *OutcomeTracker) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

// Completed returns a copy of the completed ring, oldest first.
func (t *OutcomeTracker) Completed() []SignalRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]SignalRecord(nil), t.completed...)
}

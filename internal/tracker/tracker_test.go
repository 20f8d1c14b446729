package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/config"
	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/signal"
)

// fakeStore records persistence calls.
type fakeStore struct {
	mu       sync.Mutex
	upserts  []SignalRecord
	outcomes map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{outcomes: make(map[string]string)}
}

func (f *fakeStore) UpsertSignalFeatures(_ context.Context, record SignalRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, record)
	return nil
}

func (f *fakeStore) UpdateSignalOutcome(_ context.Context, id, outcome string, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[id] = outcome
	return nil
}

func (f *fakeStore) PendingSignalRecords(_ context.Context) ([]SignalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := make(map[string]SignalRecord)
	for _, r := range f.upserts {
		latest[r.ID] = r
	}
	var out []SignalRecord
	for id, r := range latest {
		if _, graded := f.outcomes[id]; graded {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func testTrackerConfig() config.TrackerConfig {
	return config.TrackerConfig{
		EmitThreshold:    60,
		EvaluationTimeMs: 15 * 60 * 1000,
		MaxCompleted:     500,
	}
}

func setupTracker(t *testing.T) (*OutcomeTracker, *market.DataStore, *market.MockClock, *fakeStore) {
	t.Helper()
	clock := market.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := market.NewDataStore(clock, 15*time.Minute, time.Hour)
	db := newFakeStore()
	tracker := NewOutcomeTracker(store, testTrackerConfig(), db, zerolog.Nop())
	return tracker, store, clock, db
}

func emittedSignal(symbol string, confidence, price float64, direction market.Direction, ts time.Time) signal.Emitted {
	return signal.Emitted{
		ID: "sig-" + symbol,
		Signal: signal.SmartSignal{
			Symbol:     symbol,
			Direction:  direction,
			Confidence: confidence,
			EntryType:  signal.EntryMomentum,
			Price:      price,
			Timestamp:  ts,
		},
	}
}

func TestOutcomeWinAfterEvaluationWindow(t *testing.T) {
	tracker, store, clock, db := setupTracker(t)
	ctx := context.Background()

	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 100}})
	tracker.Record(ctx, emittedSignal("CCCUSDT", 70, 100, market.DirectionLong, clock.Now()))

	if tracker.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", tracker.PendingCount())
	}

	// Too early: nothing happens at 14 minutes.
	clock.Advance(14 * time.Minute)
	tracker.EvaluatePending(ctx)
	if tracker.PendingCount() != 1 {
		t.Fatal("evaluated before the window elapsed")
	}

	// At 16 minutes the price sits at 102: +2% is a WIN.
	clock.Advance(2 * time.Minute)
	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 102}})
	tracker.EvaluatePending(ctx)

	if tracker.PendingCount() != 0 {
		t.Fatalf("pending = %d after evaluation", tracker.PendingCount())
	}
	completed := tracker.Completed()
	if len(completed) != 1 {
		t.Fatalf("completed = %d, want 1", len(completed))
	}
	record := completed[0]
	if record.Outcome != OutcomeWin {
		t.Errorf("outcome = %s, want WIN", record.Outcome)
	}
	if record.ExitPrice != 102 {
		t.Errorf("exit price = %v, want 102", record.ExitPrice)
	}
	if record.PnlPercent != 2 {
		t.Errorf("pnl = %v, want 2", record.PnlPercent)
	}
	if db.outcomes[record.ID] != "WIN" {
		t.Errorf("persisted outcome = %q, want WIN", db.outcomes[record.ID])
	}
}

func TestShortPnlIsNegated(t *testing.T) {
	tracker, store, clock, _ := setupTracker(t)
	ctx := context.Background()

	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 100}})
	tracker.Record(ctx, emittedSignal("CCCUSDT", 70, 100, market.DirectionShort, clock.Now()))

	clock.Advance(16 * time.Minute)
	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 98}})
	tracker.EvaluatePending(ctx)

	completed := tracker.Completed()
	if len(completed) != 1 {
		t.Fatalf("completed = %d", len(completed))
	}
	if completed[0].PnlPercent != 2 {
		t.Errorf("short pnl = %v, want +2", completed[0].PnlPercent)
	}
	if completed[0].Outcome != OutcomeWin {
		t.Errorf("outcome = %s, want WIN", completed[0].Outcome)
	}
}

func TestTieBandFallsToSign(t *testing.T) {
	tracker, store, clock, _ := setupTracker(t)
	ctx := context.Background()

	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 100}})
	tracker.Record(ctx, emittedSignal("CCCUSDT", 70, 100, market.DirectionLong, clock.Now()))

	// +0.3% is inside the +-0.5 band; non-negative means WIN.
	clock.Advance(16 * time.Minute)
	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 100.3}})
	tracker.EvaluatePending(ctx)

	completed := tracker.Completed()
	if len(completed) != 1 || completed[0].Outcome != OutcomeWin {
		t.Fatalf("pnl +0.3 should grade WIN, got %+v", completed)
	}
}

func TestRecordGates(t *testing.T) {
	tracker, store, clock, db := setupTracker(t)
	ctx := context.Background()
	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 100}})

	// Below the emit threshold.
	tracker.Record(ctx, emittedSignal("CCCUSDT", 59.9, 100, market.DirectionLong, clock.Now()))
	if tracker.PendingCount() != 0 {
		t.Error("signal below the threshold must not be recorded")
	}

	// Neutral direction.
	tracker.Record(ctx, emittedSignal("CCCUSDT", 90, 100, market.DirectionNeutral, clock.Now()))
	if tracker.PendingCount() != 0 {
		t.Error("neutral signal must not be recorded")
	}

	if len(db.upserts) != 0 {
		t.Errorf("gated signals were persisted: %d", len(db.upserts))
	}
}

func TestEvaluationIsAtMostOnce(t *testing.T) {
	tracker, store, clock, _ := setupTracker(t)
	ctx := context.Background()

	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 100}})
	tracker.Record(ctx, emittedSignal("CCCUSDT", 70, 100, market.DirectionLong, clock.Now()))

	clock.Advance(16 * time.Minute)
	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 102}})
	tracker.EvaluatePending(ctx)
	tracker.EvaluatePending(ctx)

	if got := len(tracker.Completed()); got != 1 {
		t.Fatalf("completed = %d, a record must grade exactly once", got)
	}
}

func TestOnCompleteFires(t *testing.T) {
	tracker, store, clock, _ := setupTracker(t)
	ctx := context.Background()

	var fired []SignalRecord
	tracker.OnComplete(func(record SignalRecord) {
		fired = append(fired, record)
	})

	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 100}})
	tracker.Record(ctx, emittedSignal("CCCUSDT", 70, 100, market.DirectionLong, clock.Now()))
	clock.Advance(16 * time.Minute)
	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 102}})
	tracker.EvaluatePending(ctx)

	if len(fired) != 1 || fired[0].Outcome != OutcomeWin {
		t.Fatalf("completion hook fired %d times", len(fired))
	}
}

func TestRestoreRecoversPendingAcrossRestart(t *testing.T) {
	first, store, clock, db := setupTracker(t)
	ctx := context.Background()

	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 100}})
	first.Record(ctx, emittedSignal("CCCUSDT", 70, 100, market.DirectionLong, clock.Now()))

	// A fresh tracker over the same persisted store stands in for a
	// restarted process.
	second := NewOutcomeTracker(store, testTrackerConfig(), db, zerolog.Nop())
	records, err := db.PendingSignalRecords(ctx)
	if err != nil {
		t.Fatalf("pending records: %v", err)
	}
	if n := second.Restore(records); n != 1 {
		t.Fatalf("restored = %d, want 1", n)
	}
	if second.PendingCount() != 1 {
		t.Fatalf("pending = %d after restore", second.PendingCount())
	}

	// Restoring the same records again is a no-op.
	if n := second.Restore(records); n != 0 {
		t.Errorf("second restore = %d, want 0", n)
	}

	// The recovered record still grades once its window elapses.
	clock.Advance(16 * time.Minute)
	store.Update([]market.Ticker{{Symbol: "CCCUSDT", LastPrice: 102}})
	second.EvaluatePending(ctx)

	completed := second.Completed()
	if len(completed) != 1 || completed[0].Outcome != OutcomeWin {
		t.Fatalf("recovered record did not grade: %+v", completed)
	}
	if db.outcomes["sig-CCCUSDT"] != "WIN" {
		t.Errorf("persisted outcome = %q, want WIN", db.outcomes["sig-CCCUSDT"])
	}
}

func TestRestoreSkipsGradedRecords(t *testing.T) {
	tracker, _, _, _ := setupTracker(t)

	n := tracker.Restore([]SignalRecord{
		{ID: "sig-done", Symbol: "AAAUSDT", Outcome: OutcomeWin},
		{Symbol: "BBBUSDT", Outcome: OutcomePending},
	})
	if n != 0 {
		t.Errorf("restored = %d, graded and id-less records must be skipped", n)
	}
	if tracker.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", tracker.PendingCount())
	}
}

func TestStatsAggregation(t *testing.T) {
	tracker, store, clock, _ := setupTracker(t)
	ctx := context.Background()

	symbols := []struct {
		symbol string
		entry  float64
		exit   float64
	}{
		{"AAAUSDT", 100, 103}, // +3 WIN
		{"BBBUSDT", 100, 98},  // -2 LOSS
		{"CCCUSDT", 100, 101}, // +1 WIN
	}
	for _, s := range symbols {
		store.Update([]market.Ticker{{Symbol: s.symbol, LastPrice: s.entry}})
		tracker.Record(ctx, emittedSignal(s.symbol, 70, s.entry, market.DirectionLong, clock.Now()))
	}
	clock.Advance(16 * time.Minute)
	for _, s := range symbols {
		store.Update([]market.Ticker{{Symbol: s.symbol, LastPrice: s.exit}})
	}
	tracker.EvaluatePending(ctx)

	report := tracker.Stats()
	if report.Overall.Total != 3 || report.Overall.Wins != 2 || report.Overall.Losses != 1 {
		t.Fatalf("overall = %+v", report.Overall)
	}
	wantWinRate := 2.0 / 3.0 * 100
	if diff := report.Overall.WinRate - wantWinRate; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("win rate = %v, want %v", report.Overall.WinRate, wantWinRate)
	}
	// Profit factor: (3+1)/2 = 2.
	if report.Overall.ProfitFactor != 2 {
		t.Errorf("profit factor = %v, want 2", report.Overall.ProfitFactor)
	}
	if len(report.BySymbol) != 3 {
		t.Errorf("by-symbol buckets = %d", len(report.BySymbol))
	}
}

package signal

import (
	"testing"

	"binance-signal-engine/internal/market"
)

func seedSignals(e *Engine, signals ...SmartSignal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range signals {
		e.latest[s.Symbol] = s
	}
}

func TestTopSignalsOrderAndTieBreak(t *testing.T) {
	engine := testEngine(nil)
	seedSignals(engine,
		SmartSignal{Symbol: "BBBUSDT", Direction: market.DirectionLong, Confidence: 70},
		SmartSignal{Symbol: "AAAUSDT", Direction: market.DirectionLong, Confidence: 70},
		SmartSignal{Symbol: "CCCUSDT", Direction: market.DirectionLong, Confidence: 85},
	)

	got := engine.TopSignals(0, nil)
	if len(got) != 3 {
		t.Fatalf("signals = %d", len(got))
	}
	if got[0].Symbol != "CCCUSDT" {
		t.Errorf("highest confidence first, got %s", got[0].Symbol)
	}
	// Equal confidence breaks ties by symbol ascending.
	if got[1].Symbol != "AAAUSDT" || got[2].Symbol != "BBBUSDT" {
		t.Errorf("tie break order = %s, %s", got[1].Symbol, got[2].Symbol)
	}
}

func TestTopSignalsLimitAndDirection(t *testing.T) {
	engine := testEngine(nil)
	seedSignals(engine,
		SmartSignal{Symbol: "AAAUSDT", Direction: market.DirectionLong, Confidence: 80},
		SmartSignal{Symbol: "BBBUSDT", Direction: market.DirectionShort, Confidence: 90},
		SmartSignal{Symbol: "CCCUSDT", Direction: market.DirectionLong, Confidence: 60},
	)

	short := market.DirectionShort
	got := engine.TopSignals(10, &short)
	if len(got) != 1 || got[0].Symbol != "BBBUSDT" {
		t.Fatalf("short-only = %+v", got)
	}

	if got := engine.TopSignals(1, nil); len(got) != 1 || got[0].Symbol != "BBBUSDT" {
		t.Errorf("limit 1 = %+v", got)
	}
}

func TestBlendedConfidenceDrivesOrdering(t *testing.T) {
	engine := testEngine(nil)
	blended := 95.0
	seedSignals(engine,
		SmartSignal{Symbol: "AAAUSDT", Direction: market.DirectionLong, Confidence: 90},
		SmartSignal{Symbol: "BBBUSDT", Direction: market.DirectionLong, Confidence: 50, CombinedConfidence: &blended},
	)

	got := engine.TopSignals(0, nil)
	if got[0].Symbol != "BBBUSDT" {
		t.Errorf("blended confidence must outrank the rule value, got %s first", got[0].Symbol)
	}
}

func TestByEntryTypeAndRiskQueries(t *testing.T) {
	engine := testEngine(nil)
	seedSignals(engine,
		SmartSignal{Symbol: "AAAUSDT", Direction: market.DirectionLong, Confidence: 70, EntryType: EntryEarly, RiskLevel: RiskLow},
		SmartSignal{Symbol: "BBBUSDT", Direction: market.DirectionLong, Confidence: 75, EntryType: EntryBreakout, RiskLevel: RiskMedium},
		SmartSignal{Symbol: "CCCUSDT", Direction: market.DirectionShort, Confidence: 65, EntryType: EntryReversal, RiskLevel: RiskHigh},
	)

	if got := engine.EarlyEntries(); len(got) != 1 || got[0].Symbol != "AAAUSDT" {
		t.Errorf("early = %+v", got)
	}
	if got := engine.BreakoutCandidates(); len(got) != 1 || got[0].Symbol != "BBBUSDT" {
		t.Errorf("breakouts = %+v", got)
	}
	if got := engine.ReversalSignals(); len(got) != 1 || got[0].Symbol != "CCCUSDT" {
		t.Errorf("reversals = %+v", got)
	}
	if got := engine.LowRiskSetups(); len(got) != 1 || got[0].Symbol != "AAAUSDT" {
		t.Errorf("low risk = %+v", got)
	}
}

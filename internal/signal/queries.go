package signal

import (
	"sort"

	"binance-signal-engine/internal/market"
)

// snapshotSignals copies the retained signals under the read lock.
func (e *Engine) snapshotSignals() []SmartSignal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]SmartSignal, 0, len(e.latest))
	for _, s := range e.latest {
		out = append(out, s)
	}
	return out
}

func sortSignals(signals []SmartSignal) {
	sort.Slice(signals, func(i, j int) bool {
		a, b := signals[i].EffectiveConfidence(), signals[j].EffectiveConfidence()
		if a != b {
			return a > b
		}
		return signals[i].Symbol < signals[j].Symbol
	})
}

// TopSignals returns up to limit signals by effective confidence, optionally
// restricted to one direction. A nil direction means both sides.
func (e *Engine) TopSignals(limit int, direction *market.Direction) []SmartSignal {
	signals := e.snapshotSignals()
	if direction != nil {
		filtered := signals[:0]
		for _, s := range signals {
			if s.Direction == *direction {
				filtered = append(filtered, s)
			}
		}
		signals = filtered
	}
	sortSignals(signals)
	if limit > 0 && len(signals) > limit {
		signals = signals[:limit]
	}
	return signals
}

// EarlyEntries returns signals classified as early entries.
func (e *Engine) EarlyEntries() []SmartSignal {
	return e.byEntryType(EntryEarly)
}

// ReversalSignals returns signals classified as reversals.
func (e *Engine) ReversalSignals() []SmartSignal {
	return e.byEntryType(EntryReversal)
}

// BreakoutCandidates returns signals classified as breakouts.
func (e *Engine) BreakoutCandidates() []SmartSignal {
	return e.byEntryType(EntryBreakout)
}

// LowRiskSetups returns signals graded LOW risk.
func (e *Engine) LowRiskSetups() []SmartSignal {
	var out []SmartSignal
	for _, s := range e.snapshotSignals() {
		if s.RiskLevel == RiskLow {
			out = append(out, s)
		}
	}
	sortSignals(out)
	return out
}

func (e *Engine) byEntryType(entry EntryType) []SmartSignal {
	var out []SmartSignal
	for _, s := range e.snapshotSignals() {
		if s.EntryType == entry {
			out = append(out, s)
		}
	}
	sortSignals(out)
	return out
}

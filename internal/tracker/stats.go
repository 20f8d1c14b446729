package tracker

import (
	"sort"

	"binance-signal-engine/internal/signal"
)

// rollingWindow is the size of the recent-form window.
const rollingWindow = 20

// WinRateStats aggregates completed signal outcomes.
type WinRateStats struct {
	Total        int     `json:"total"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"` // percent
	AvgWinPct    float64 `json:"avg_win_pct"`
	AvgLossPct   float64 `json:"avg_loss_pct"`
	ProfitFactor float64 `json:"profit_factor"` // sum of wins / sum of losses
}

// StatsReport is the full aggregate view exposed over the API and snapshot.
type StatsReport struct {
	Overall     WinRateStats                     `json:"overall"`
	ByEntryType map[signal.EntryType]WinRateStats `json:"by_entry_type"`
	BySymbol    map[string]WinRateStats          `json:"by_symbol"`
	Rolling     WinRateStats                     `json:"rolling"` // last 20 completed
	Pending     int                              `json:"pending"`
}

// Stats computes aggregates over the completed ring.
func (t *OutcomeTracker) Stats() StatsReport {
	t.mu.RLock()
	completed := append([]SignalRecord(nil), t.completed...)
	pending := len(t.pending)
	t.mu.RUnlock()

	report := StatsReport{
		Overall:     computeStats(completed),
		ByEntryType: make(map[signal.EntryType]WinRateStats),
		BySymbol:    make(map[string]WinRateStats),
		Pending:     pending,
	}

	byEntry := make(map[signal.EntryType][]SignalRecord)
	bySymbol := make(map[string][]SignalRecord)
	for _, r := range completed {
		byEntry[r.EntryType] = append(byEntry[r.EntryType], r)
		bySymbol[r.Symbol] = append(bySymbol[r.Symbol], r)
	}
	for entry, records := range byEntry {
		report.ByEntryType[entry] = computeStats(records)
	}
	for symbol, records := range bySymbol {
		report.BySymbol[symbol] = computeStats(records)
	}

	if len(completed) > rollingWindow {
		completed = completed[len(completed)-rollingWindow:]
	}
	report.Rolling = computeStats(completed)
	return report
}

// BestSymbols returns the symbols with the highest win rate among those with
// at least minSignals completed.
func (t *OutcomeTracker) BestSymbols(limit, minSignals int) []string {
	report := t.Stats()

	type entry struct {
		symbol string
		stats  WinRateStats
	}
	var ranked []entry
	for symbol, stats := range report.BySymbol {
		if stats.Total >= minSignals {
			ranked = append(ranked, entry{symbol, stats})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].stats.WinRate != ranked[j].stats.WinRate {
			return ranked[i].stats.WinRate > ranked[j].stats.WinRate
		}
		return ranked[i].symbol < ranked[j].symbol
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]string, len(ranked))
	for i, e := range ranked {
		out[i] = e.symbol
	}
	return out
}

func computeStats(records []SignalRecord) WinRateStats {
	var stats WinRateStats
	var winSum, lossSum float64
	for _, r := range records {
		switch r.Outcome {
		case OutcomeWin:
			stats.Wins++
			winSum += r.PnlPercent
		case OutcomeLoss:
			stats.Losses++
			lossSum += -r.PnlPercent
		default:
			continue
		}
		stats.Total++
	}

	if stats.Total > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Total) * 100
	}
	if stats.Wins > 0 {
		stats.AvgWinPct = winSum / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLossPct = lossSum / float64(stats.Losses)
	}
	if lossSum > 0 {
		stats.ProfitFactor = winSum / lossSum
	}
	return stats
}

package database

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"sync"

	"binance-signal-engine/internal/ml"
	"binance-signal-engine/internal/tracker"
)

// MemoryStore is the in-process fallback used when PostgreSQL is disabled.
// It keeps the same semantics as Repository: idempotent upsert on signal_id,
// outcome update, CSV export in ascending ts.
type MemoryStore struct {
	mu            sync.Mutex
	signals       map[string]tracker.SignalRecord
	opportunities []Opportunity
	alerts        []Alert
	metrics       []ModelMetrics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals: make(map[string]tracker.SignalRecord),
	}
}

func (s *MemoryStore) SaveOpportunity(_ context.Context, o Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.opportunities {
		if existing.Symbol == o.Symbol && existing.Type == o.Type && existing.CreatedAt.Equal(o.CreatedAt) {
			return nil
		}
	}
	s.opportunities = append(s.opportunities, o)
	return nil
}

func (s *MemoryStore) SaveAlert(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *MemoryStore) UpsertSignalFeatures(_ context.Context, record tracker.SignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[record.ID] = record
	return nil
}

func (s *MemoryStore) UpdateSignalOutcome(_ context.Context, signalID, outcome string, pnlPercent float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.signals[signalID]
	if !ok {
		return nil
	}
	record.Outcome = tracker.Outcome(outcome)
	record.PnlPercent = pnlPercent
	s.signals[signalID] = record
	return nil
}

func (s *MemoryStore) PendingSignalRecords(_ context.Context) ([]tracker.SignalRecord, error) {
	return s.completed(tracker.OutcomePending), nil
}

func (s *MemoryStore) CompletedTrainingRecords(_ context.Context) ([]ml.TrainingRecord, error) {
	var out []ml.TrainingRecord
	for _, r := range s.completedGraded() {
		label := 0
		if r.Outcome == tracker.OutcomeWin {
			label = 1
		}
		features := ml.NewSignalFeatures(r.ID, r.Symbol)
		if r.Features != nil {
			features = *r.Features
		}
		out = append(out, ml.TrainingRecord{
			SignalID: r.ID,
			Features: features.Columns(),
			Outcome:  label,
		})
	}
	return out, nil
}

// ExportCompletedCSV mirrors Repository.ExportCompletedCSV.
func (s *MemoryStore) ExportCompletedCSV(_ context.Context, w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{"signal_id"}, ml.FeatureNames...)
	header = append(header, "outcome", "pnl_percent")
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range s.completedGraded() {
		features := ml.NewSignalFeatures(r.ID, r.Symbol)
		if r.Features != nil {
			features = *r.Features
		}
		row := make([]string, 0, len(header))
		row = append(row, r.ID)
		for _, v := range features.Columns() {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		row = append(row, string(r.Outcome), strconv.FormatFloat(r.PnlPercent, 'g', -1, 64))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *MemoryStore) SaveModelMetrics(_ context.Context, m ModelMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	return nil
}

// Counts returns the persisted totals, used for session accounting.
func (s *MemoryStore) Counts() (opportunities, alerts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opportunities), len(s.alerts)
}

func (s *MemoryStore) completed(outcome tracker.Outcome) []tracker.SignalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []tracker.SignalRecord
	for _, r := range s.signals {
		if r.Outcome == outcome {
			out = append(out, r)
		}
	}
	sortByTimestamp(out)
	return out
}

func (s *MemoryStore) completedGraded() []tracker.SignalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []tracker.SignalRecord
	for _, r := range s.signals {
		if r.Outcome == tracker.OutcomeWin || r.Outcome == tracker.OutcomeLoss {
			out = append(out, r)
		}
	}
	sortByTimestamp(out)
	return out
}

func sortByTimestamp(records []tracker.SignalRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].ID < records[j].ID
	})
}

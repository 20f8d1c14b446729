package database

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"binance-signal-engine/internal/market"
	"binance-signal-engine/internal/ml"
	"binance-signal-engine/internal/signal"
	"binance-signal-engine/internal/tracker"
)

// Repository provides data access for the signal engine's tables. It
// implements tracker.Store.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveOpportunity appends one detector finding. The (symbol, type,
// created_at) uniqueness makes replays idempotent.
func (r *Repository) SaveOpportunity(ctx context.Context, o Opportunity) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO opportunities
			(symbol, type, score, direction, change_24h, vol_mult, velocity, range_pct, is_new, last_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (symbol, type, created_at) DO NOTHING`,
		o.Symbol, o.Type, o.Score, o.Direction, o.Change24h, o.VolMult,
		o.Velocity, o.RangePct, o.IsNew, o.LastPrice, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save opportunity: %w", err)
	}
	return nil
}

// SaveAlert appends one alert row.
func (r *Repository) SaveAlert(ctx context.Context, a Alert) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO alerts (symbol, kind, message, level, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.Symbol, a.Kind, a.Message, a.Level, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// StartSession opens a session row for this engine run.
func (r *Repository) StartSession(ctx context.Context, id string, startedAt time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO sessions (id, started_at) VALUES ($1, $2)`,
		id, startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

// EndSession closes the session row with final counters.
func (r *Repository) EndSession(ctx context.Context, id string, endedAt time.Time, totalOpportunities, totalAlerts int) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE sessions
		SET ended_at = $2, total_opportunities = $3, total_alerts = $4
		WHERE id = $1`,
		id, endedAt, totalOpportunities, totalAlerts,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// UpsertSignalFeatures stores the feature vector for one emitted signal.
// Idempotent on signal_id so the periodic save pulse can retry safely.
func (r *Repository) UpsertSignalFeatures(ctx context.Context, record tracker.SignalRecord) error {
	f := record.Features
	if f == nil {
		empty := ml.NewSignalFeatures(record.ID, record.Symbol)
		f = &empty
	}

	var mlProb *float64
	var mlTier, mlVersion *string
	if record.MLPrediction != nil {
		mlProb = &record.MLPrediction.WinProbability
		tier := string(record.MLPrediction.QualityTier)
		mlTier = &tier
		mlVersion = &record.MLPrediction.ModelVersion
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO signal_features (
			signal_id, symbol, ts, entry_price,
			price_change_24h, price_change_1h, price_change_15m, price_change_5m,
			high_low_range, price_position,
			volume_quote_24h, volume_multiplier, volume_change_1h,
			velocity, acceleration, trend_state,
			rsi_1h, mtf_alignment, divergence_type,
			funding_rate, funding_signal, funding_direction_match,
			oi_change_percent, oi_signal, oi_price_alignment,
			pattern_type, pattern_confidence, distance_from_level,
			smart_confidence, component_count, entry_type, risk_level,
			atr_percent, vwap_distance, risk_reward_ratio,
			whale_activity, btc_correlation, btc_outperformance,
			direction, outcome, ml_win_probability, ml_quality_tier, ml_model_version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36, $37, $38, $39, $40,
			$41, $42, $43
		)
		ON CONFLICT (signal_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			ml_win_probability = EXCLUDED.ml_win_probability,
			ml_quality_tier = EXCLUDED.ml_quality_tier,
			ml_model_version = EXCLUDED.ml_model_version`,
		record.ID, record.Symbol, record.Timestamp, record.EntryPrice,
		f.PriceChange24h, f.PriceChange1h, f.PriceChange15m, f.PriceChange5m,
		f.HighLowRange, f.PricePosition,
		f.VolumeQuote24h, f.VolumeMultiplier, f.VolumeChange1h,
		f.Velocity, f.Acceleration, f.TrendState,
		f.RSI1h, f.MTFAlignment, f.DivergenceType,
		f.FundingRate, f.FundingSignal, f.FundingDirectionMatch,
		f.OIChangePercent, f.OISignal, f.OIPriceAlignment,
		f.PatternType, f.PatternConfidence, f.DistanceFromLevel,
		f.SmartConfidence, f.ComponentCount, f.EntryType, f.RiskLevel,
		f.ATRPercent, f.VWAPDistance, f.RiskRewardRatio,
		f.WhaleActivity, f.BTCCorrelation, f.BTCOutperformance,
		f.Direction, string(record.Outcome), mlProb, mlTier, mlVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert signal features: %w", err)
	}
	return nil
}

// UpdateSignalOutcome grades one persisted signal.
func (r *Repository) UpdateSignalOutcome(ctx context.Context, signalID, outcome string, pnlPercent float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE signal_features
		SET outcome = $2, pnl_percent = $3
		WHERE signal_id = $1`,
		signalID, outcome, pnlPercent,
	)
	if err != nil {
		return fmt.Errorf("failed to update signal outcome: %w", err)
	}
	return nil
}

// PendingSignalRecords returns signals never graded, e.g. because the process
// restarted mid-evaluation, rebuilt into records the tracker can re-adopt.
func (r *Repository) PendingSignalRecords(ctx context.Context) ([]tracker.SignalRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT signal_id, symbol, direction, entry_type, entry_price, smart_confidence, ts
		FROM signal_features
		WHERE outcome = 'PENDING'
		ORDER BY ts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending signals: %w", err)
	}
	defer rows.Close()

	var records []tracker.SignalRecord
	for rows.Next() {
		var (
			id, symbol            string
			direction, entryType  int
			entryPrice, smartConf float64
			ts                    time.Time
		)
		if err := rows.Scan(&id, &symbol, &direction, &entryType, &entryPrice, &smartConf, &ts); err != nil {
			return nil, err
		}
		record := tracker.SignalRecord{
			ID:         id,
			Symbol:     symbol,
			EntryType:  signal.DecodeEntryType(entryType),
			Direction:  market.DirectionLong,
			EntryPrice: entryPrice,
			Confidence: smartConf,
			Timestamp:  ts,
			Outcome:    tracker.OutcomePending,
		}
		if direction < 0 {
			record.Direction = market.DirectionShort
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CompletedTrainingRecords returns every graded signal as a training sample
// in feature-schema order.
func (r *Repository) CompletedTrainingRecords(ctx context.Context) ([]ml.TrainingRecord, error) {
	rows, err := r.db.Pool.Query(ctx, completedFeaturesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed signals: %w", err)
	}
	defer rows.Close()

	var records []ml.TrainingRecord
	for rows.Next() {
		id, features, outcome, _, err := scanFeatureRow(rows)
		if err != nil {
			return nil, err
		}
		label := 0
		if outcome == "WIN" {
			label = 1
		}
		records = append(records, ml.TrainingRecord{
			SignalID: id,
			Features: features,
			Outcome:  label,
		})
	}
	return records, rows.Err()
}

// ExportCompletedCSV writes every graded signal as CSV in ascending ts, one
// column per feature plus signal_id, outcome and pnl_percent.
func (r *Repository) ExportCompletedCSV(ctx context.Context, w io.Writer) error {
	rows, err := r.db.Pool.Query(ctx, completedFeaturesQuery)
	if err != nil {
		return fmt.Errorf("failed to query completed signals: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	header := append([]string{"signal_id"}, ml.FeatureNames...)
	header = append(header, "outcome", "pnl_percent")
	if err := cw.Write(header); err != nil {
		return err
	}

	for rows.Next() {
		id, features, outcome, pnl, err := scanFeatureRow(rows)
		if err != nil {
			return err
		}
		row := make([]string, 0, len(header))
		row = append(row, id)
		for _, v := range features {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		row = append(row, outcome, strconv.FormatFloat(pnl, 'g', -1, 64))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// SaveModelMetrics records one training run.
func (r *Repository) SaveModelMetrics(ctx context.Context, m ModelMetrics) error {
	importance, err := json.Marshal(m.FeatureImportance)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO ml_model_metrics
			(model_version, training_date, training_samples, validation_auc,
			 validation_accuracy, win_rate_predicted, win_rate_actual, feature_importance_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ModelVersion, m.TrainingDate, m.TrainingSamples, m.ValidationAUC,
		m.ValidationAccuracy, m.WinRatePredicted, m.WinRateActual, importance,
	)
	if err != nil {
		return fmt.Errorf("failed to save model metrics: %w", err)
	}
	return nil
}

const completedFeaturesQuery = `
	SELECT signal_id,
		price_change_24h, price_change_1h, price_change_15m, price_change_5m,
		high_low_range, price_position,
		volume_quote_24h, volume_multiplier, volume_change_1h,
		velocity, acceleration, trend_state,
		rsi_1h, mtf_alignment, divergence_type,
		funding_rate, funding_signal, funding_direction_match,
		oi_change_percent, oi_signal, oi_price_alignment,
		pattern_type, pattern_confidence, distance_from_level,
		smart_confidence, component_count, entry_type, risk_level,
		atr_percent, vwap_distance, risk_reward_ratio,
		whale_activity, btc_correlation, btc_outperformance,
		direction, outcome, COALESCE(pnl_percent, 0)
	FROM signal_features
	WHERE outcome IN ('WIN', 'LOSS')
	ORDER BY ts ASC`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanFeatureRow reads one completedFeaturesQuery row into the feature-schema
// column order.
func scanFeatureRow(row rowScanner) (id string, features []float64, outcome string, pnl float64, err error) {
	features = make([]float64, len(ml.FeatureNames))
	dest := make([]any, 0, len(features)+3)
	dest = append(dest, &id)
	for i := range features {
		dest = append(dest, &features[i])
	}
	dest = append(dest, &outcome, &pnl)
	err = row.Scan(dest...)
	return id, features, outcome, pnl, err
}

package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"binance-signal-engine/config"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Opportunities surfaced by the detectors
		`CREATE TABLE IF NOT EXISTS opportunities (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			type VARCHAR(30) NOT NULL,
			score DECIMAL(10, 4) NOT NULL,
			direction VARCHAR(8) NOT NULL,
			change_24h DECIMAL(10, 4),
			vol_mult DECIMAL(10, 4),
			velocity DECIMAL(10, 4),
			range_pct DECIMAL(10, 4),
			is_new BOOLEAN DEFAULT FALSE,
			last_price DECIMAL(20, 8) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (symbol, type, created_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_symbol ON opportunities(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_created_at ON opportunities(created_at)`,

		// Operator-visible alerts
		`CREATE TABLE IF NOT EXISTS alerts (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			kind VARCHAR(30) NOT NULL,
			message TEXT NOT NULL,
			level VARCHAR(10) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,

		// Engine run sessions
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(36) PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			total_opportunities INTEGER DEFAULT 0,
			total_alerts INTEGER DEFAULT 0
		)`,

		// One row per emitted signal with its full feature vector
		`CREATE TABLE IF NOT EXISTS signal_features (
			id SERIAL PRIMARY KEY,
			signal_id VARCHAR(36) NOT NULL UNIQUE,
			symbol VARCHAR(20) NOT NULL,
			ts TIMESTAMP NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			price_change_24h DECIMAL(12, 6) DEFAULT 0,
			price_change_1h DECIMAL(12, 6) DEFAULT 0,
			price_change_15m DECIMAL(12, 6) DEFAULT 0,
			price_change_5m DECIMAL(12, 6) DEFAULT 0,
			high_low_range DECIMAL(12, 6) DEFAULT 0,
			price_position DECIMAL(12, 6) DEFAULT 0.5,
			volume_quote_24h DECIMAL(24, 4) DEFAULT 0,
			volume_multiplier DECIMAL(12, 6) DEFAULT 1,
			volume_change_1h DECIMAL(12, 6) DEFAULT 0,
			velocity DECIMAL(12, 6) DEFAULT 0,
			acceleration DECIMAL(12, 6) DEFAULT 0,
			trend_state INTEGER DEFAULT 0,
			rsi_1h DECIMAL(12, 6) DEFAULT 50,
			mtf_alignment INTEGER DEFAULT 0,
			divergence_type INTEGER DEFAULT 0,
			funding_rate DECIMAL(12, 6) DEFAULT 0,
			funding_signal INTEGER DEFAULT 0,
			funding_direction_match INTEGER DEFAULT 0,
			oi_change_percent DECIMAL(12, 6) DEFAULT 0,
			oi_signal INTEGER DEFAULT 0,
			oi_price_alignment INTEGER DEFAULT 0,
			pattern_type INTEGER DEFAULT 0,
			pattern_confidence DECIMAL(12, 6) DEFAULT 0,
			distance_from_level DECIMAL(12, 6) DEFAULT 0,
			smart_confidence DECIMAL(12, 6) DEFAULT 0,
			component_count INTEGER DEFAULT 0,
			entry_type INTEGER DEFAULT 2,
			risk_level INTEGER DEFAULT 1,
			atr_percent DECIMAL(12, 6) DEFAULT 0,
			vwap_distance DECIMAL(12, 6) DEFAULT 0,
			risk_reward_ratio DECIMAL(12, 6) DEFAULT 1.5,
			whale_activity DECIMAL(12, 6) DEFAULT 0,
			btc_correlation DECIMAL(12, 6) DEFAULT 0,
			btc_outperformance DECIMAL(12, 6) DEFAULT 0,
			direction INTEGER NOT NULL DEFAULT 1,
			outcome VARCHAR(10) NOT NULL DEFAULT 'PENDING',
			pnl_percent DECIMAL(12, 6),
			ml_win_probability DECIMAL(12, 6),
			ml_quality_tier VARCHAR(10),
			ml_model_version VARCHAR(50)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_features_symbol ON signal_features(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_features_ts ON signal_features(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_features_outcome ON signal_features(outcome)`,

		// Training run history
		`CREATE TABLE IF NOT EXISTS ml_model_metrics (
			id SERIAL PRIMARY KEY,
			model_version VARCHAR(50) NOT NULL,
			training_date TIMESTAMP NOT NULL,
			training_samples INTEGER NOT NULL,
			validation_auc DECIMAL(10, 6),
			validation_accuracy DECIMAL(10, 6),
			win_rate_predicted DECIMAL(10, 4),
			win_rate_actual DECIMAL(10, 4),
			feature_importance_json JSONB
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed")
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BinanceConfig    BinanceConfig    `json:"binance"`
	VolatilityConfig VolatilityConfig `json:"volatility"`
	VolumeConfig     VolumeConfig     `json:"volume"`
	VelocityConfig   VelocityConfig   `json:"velocity"`
	RangeConfig      RangeConfig      `json:"range"`
	CadenceConfig    CadenceConfig    `json:"cadences"`
	MLConfig         MLConfig         `json:"ml"`
	TrackerConfig    TrackerConfig    `json:"tracker"`
	FilterConfig     FilterConfig     `json:"filter"`
	UIConfig         UIConfig         `json:"ui"`
	ServerConfig     ServerConfig     `json:"server"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	RedisConfig      RedisConfig      `json:"redis"`
	LoggingConfig    LoggingConfig    `json:"logging"`
}

// BinanceConfig holds exchange endpoints. Only public market data is used;
// no API keys are required anywhere in the engine.
type BinanceConfig struct {
	BaseURL      string `json:"base_url"`      // Futures REST base, e.g. https://fapi.binance.com
	StreamURL    string `json:"stream_url"`    // Futures WS base, e.g. wss://fstream.binance.com
	RESTTimeout  int    `json:"rest_timeout"`  // Seconds per outbound REST call
	ReconnectSec int    `json:"reconnect_sec"` // Fixed backoff between stream reconnects
	MockMode     bool   `json:"mock_mode"`     // Use simulated data when the exchange is unreachable
}

// VolatilityConfig holds 24h change thresholds
type VolatilityConfig struct {
	MinChange24h      float64 `json:"min_change_24h"`      // Minimum |24h %| to alert
	CriticalChange24h float64 `json:"critical_change_24h"` // |24h %| marking the alert critical
}

// VolumeConfig holds volume spike detection settings
type VolumeConfig struct {
	SpikeMultiplier  float64 `json:"spike_multiplier"`   // recent/average rate ratio to alert
	AvgWindowMinutes int     `json:"avg_window_minutes"` // Rolling volume history window
	MinQuoteVolume   float64 `json:"min_quote_volume"`   // 24h quote volume floor (strictly below excludes)
}

// VelocityConfig holds price velocity detection settings
type VelocityConfig struct {
	MinVelocity           float64 `json:"min_velocity"`           // %/min to alert
	WindowMinutes         int     `json:"window_minutes"`         // Rolling price history window
	AccelerationThreshold float64 `json:"acceleration_threshold"` // Δv classifying the trend
}

// RangeConfig holds 24h range detection settings
type RangeConfig struct {
	MinRange float64 `json:"min_range"` // (high-low)/open percent to alert
}

// CadenceConfig holds per-loop update intervals in seconds
type CadenceConfig struct {
	FundingSec      int `json:"funding_sec"`
	OpenInterestSec int `json:"open_interest_sec"`
	MTFSec          int `json:"mtf_sec"`
	PatternSec      int `json:"pattern_sec"`
	EntryTimingSec  int `json:"entry_timing_sec"`
	CorrelationSec  int `json:"correlation_sec"`
	WhaleSec        int `json:"whale_sec"`
	LiquidationSec  int `json:"liquidation_sec"`
	SnapshotSec     int `json:"snapshot_sec"`
	OutcomeEvalSec  int `json:"outcome_eval_sec"`
	StoreSaveSec    int `json:"store_save_sec"`
}

// MLConfig holds predictor service settings
type MLConfig struct {
	Enabled               bool    `json:"enabled"`
	ServiceURL            string  `json:"service_url"`
	MLWeight              float64 `json:"ml_weight"`   // Weight of the model probability in blending
	RuleWeight            float64 `json:"rule_weight"` // Weight of the rule confidence in blending
	FilterThreshold       float64 `json:"filter_threshold"`
	MinSignalsForTraining int     `json:"min_signals_for_training"`
	PredictTimeoutMs      int     `json:"predict_timeout_ms"`
	HealthCacheSec        int     `json:"health_cache_sec"`
	PredictionCacheSec    int     `json:"prediction_cache_sec"`
}

// TrackerConfig holds outcome tracking settings
type TrackerConfig struct {
	EmitThreshold    float64 `json:"emit_threshold"`     // Minimum confidence to record a signal
	EvaluationTimeMs int64   `json:"evaluation_time_ms"` // Age before a pending record is scored
	MaxCompleted     int     `json:"max_completed"`      // In-memory completed ring size
}

// FilterConfig holds the symbol allow/deny settings applied at snapshot time
type FilterConfig struct {
	Preset             string   `json:"preset"` // highVolume, bigMovers, topTier, all
	MinVolume24h       float64  `json:"min_volume_24h"`
	MinChange24h       float64  `json:"min_change_24h"`
	ExcludeSymbols     []string `json:"exclude_symbols"`
	Watchlist          []string `json:"watchlist"` // Non-empty acts as an allow-list
	OnlyQuote          string   `json:"only_quote"`
	ExcludeStablecoins bool     `json:"exclude_stablecoins"`
}

// UIConfig holds snapshot presentation settings
type UIConfig struct {
	RefreshMs    int `json:"refresh_ms"`
	MaxDisplayed int `json:"max_displayed"` // Top-K per category in the snapshot
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for market-data caching
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// Load reads config.json if present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = Default()
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the production defaults for every section.
func Default() *Config {
	return &Config{
		BinanceConfig: BinanceConfig{
			BaseURL:      "https://fapi.binance.com",
			StreamURL:    "wss://fstream.binance.com",
			RESTTimeout:  10,
			ReconnectSec: 5,
		},
		VolatilityConfig: VolatilityConfig{
			MinChange24h:      10,
			CriticalChange24h: 25,
		},
		VolumeConfig: VolumeConfig{
			SpikeMultiplier:  3.0,
			AvgWindowMinutes: 60,
			MinQuoteVolume:   1_000_000,
		},
		VelocityConfig: VelocityConfig{
			MinVelocity:           0.5,
			WindowMinutes:         5,
			AccelerationThreshold: 0.1,
		},
		RangeConfig: RangeConfig{
			MinRange: 15,
		},
		CadenceConfig: CadenceConfig{
			FundingSec:      120,
			OpenInterestSec: 120,
			MTFSec:          60,
			PatternSec:      60,
			EntryTimingSec:  30,
			CorrelationSec:  30,
			WhaleSec:        10,
			LiquidationSec:  5,
			SnapshotSec:     2,
			OutcomeEvalSec:  15,
			StoreSaveSec:    30,
		},
		MLConfig: MLConfig{
			Enabled:               true,
			ServiceURL:            "http://localhost:8001",
			MLWeight:              0.6,
			RuleWeight:            0.4,
			FilterThreshold:       0.40,
			MinSignalsForTraining: 500,
			PredictTimeoutMs:      2000,
			HealthCacheSec:        30,
			PredictionCacheSec:    5,
		},
		TrackerConfig: TrackerConfig{
			EmitThreshold:    60,
			EvaluationTimeMs: 15 * 60 * 1000,
			MaxCompleted:     500,
		},
		FilterConfig: FilterConfig{
			Preset:             "all",
			OnlyQuote:          "USDT",
			ExcludeStablecoins: true,
		},
		UIConfig: UIConfig{
			RefreshMs:    2000,
			MaxDisplayed: 15,
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "signal_engine",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  false,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	if c.VolumeConfig.AvgWindowMinutes <= 0 {
		return fmt.Errorf("volume.avg_window_minutes must be positive, got %d", c.VolumeConfig.AvgWindowMinutes)
	}
	if c.VelocityConfig.WindowMinutes <= 0 {
		return fmt.Errorf("velocity.window_minutes must be positive, got %d", c.VelocityConfig.WindowMinutes)
	}
	if c.VolumeConfig.SpikeMultiplier <= 1 {
		return fmt.Errorf("volume.spike_multiplier must exceed 1, got %.2f", c.VolumeConfig.SpikeMultiplier)
	}
	if c.MLConfig.Enabled {
		if c.MLConfig.MLWeight < 0 || c.MLConfig.RuleWeight < 0 {
			return fmt.Errorf("ml weights must be non-negative")
		}
		if c.MLConfig.ServiceURL == "" {
			return fmt.Errorf("ml.service_url is required when ml is enabled")
		}
	}
	if c.TrackerConfig.EvaluationTimeMs <= 0 {
		return fmt.Errorf("tracker.evaluation_time_ms must be positive, got %d", c.TrackerConfig.EvaluationTimeMs)
	}
	switch c.FilterConfig.Preset {
	case "", "highVolume", "bigMovers", "topTier", "all":
	default:
		return fmt.Errorf("unknown filter preset %q", c.FilterConfig.Preset)
	}
	return nil
}

// EvaluationTime returns the outcome evaluation horizon as a duration.
func (c *TrackerConfig) EvaluationTime() time.Duration {
	return time.Duration(c.EvaluationTimeMs) * time.Millisecond
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_FUTURES_BASE_URL", cfg.BinanceConfig.BaseURL)
	cfg.BinanceConfig.StreamURL = getEnvOrDefault("BINANCE_FUTURES_STREAM_URL", cfg.BinanceConfig.StreamURL)
	cfg.BinanceConfig.MockMode = getEnvOrDefault("MOCK_MODE", boolString(cfg.BinanceConfig.MockMode)) == "true"

	cfg.MLConfig.Enabled = getEnvOrDefault("ML_ENABLED", boolString(cfg.MLConfig.Enabled)) == "true"
	cfg.MLConfig.ServiceURL = getEnvOrDefault("ML_SERVICE_URL", cfg.MLConfig.ServiceURL)

	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DB_ENABLED", boolString(cfg.DatabaseConfig.Enabled)) == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat)) == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", boolString(cfg.LoggingConfig.IncludeFile)) == "true"

	cfg.FilterConfig.Preset = getEnvOrDefault("FILTER_PRESET", cfg.FilterConfig.Preset)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

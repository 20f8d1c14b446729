package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-signal-engine/config"
)

// Prediction is the predictor service's verdict for one signal.
type Prediction struct {
	SignalID       string      `json:"signal_id"`
	WinProbability float64     `json:"win_probability"`
	QualityTier    QualityTier `json:"quality_tier"`
	Confidence     float64     `json:"confidence"`
	ShouldFilter   bool        `json:"should_filter"`
	ModelVersion   string      `json:"model_version"`
}

// HealthStatus is the predictor service's health payload.
type HealthStatus struct {
	Status        string  `json:"status"`
	ModelLoaded   bool    `json:"model_loaded"`
	ModelVersion  string  `json:"model_version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// TrainingRecord is one labelled sample sent for retraining.
type TrainingRecord struct {
	SignalID string    `json:"signal_id"`
	Features []float64 `json:"features"`
	Outcome  int       `json:"outcome"` // 1 WIN, 0 LOSS
}

// TrainResult reports a completed training run.
type TrainResult struct {
	Status             string             `json:"status"`
	ModelVersion       string             `json:"model_version"`
	TrainingSamples    int                `json:"training_samples"`
	ValidationAUC      float64            `json:"validation_auc"`
	ValidationAccuracy float64            `json:"validation_accuracy"`
	FeatureImportance  map[string]float64 `json:"feature_importance"`
	Message            string             `json:"message"`
}

// ModelStats mirrors the predictor's /stats payload.
type ModelStats struct {
	ModelLoaded        bool               `json:"model_loaded"`
	ModelVersion       string             `json:"model_version"`
	TrainingDate       string             `json:"training_date"`
	TrainingSamples    int                `json:"training_samples"`
	ValidationAUC      float64            `json:"validation_auc"`
	ValidationAccuracy float64            `json:"validation_accuracy"`
	PredictionsMade    int                `json:"predictions_made"`
	FeatureImportance  map[string]float64 `json:"feature_importance"`
}

type cachedPrediction struct {
	prediction Prediction
	expires    time.Time
}

// Client talks to the external predictor service. It caches health for 30 s
// and predictions for 5 s per signal_id so a burst of analysis cycles does
// not hammer the service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger

	predictTimeout  time.Duration
	healthCacheTTL  time.Duration
	predictCacheTTL time.Duration

	mu           sync.Mutex
	health       HealthStatus
	healthOK     bool
	healthExpiry time.Time
	predictions  map[string]cachedPrediction
}

func NewClient(cfg config.MLConfig, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:         cfg.ServiceURL,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		logger:          logger.With().Str("component", "ml").Logger(),
		predictTimeout:  time.Duration(cfg.PredictTimeoutMs) * time.Millisecond,
		healthCacheTTL:  time.Duration(cfg.HealthCacheSec) * time.Second,
		predictCacheTTL: time.Duration(cfg.PredictionCacheSec) * time.Second,
		predictions:     make(map[string]cachedPrediction),
	}
}

// Healthy reports whether the service is reachable with a loaded model.
// The result is cached so callers can probe before every prediction.
func (c *Client) Healthy(ctx context.Context) bool {
	c.mu.Lock()
	if time.Now().Before(c.healthExpiry) {
		ok := c.healthOK
		c.mu.Unlock()
		return ok
	}
	c.mu.Unlock()

	var status HealthStatus
	err := c.getJSON(ctx, "/health", &status)
	ok := err == nil && status.Status == "healthy" && status.ModelLoaded

	c.mu.Lock()
	c.health = status
	c.healthOK = ok
	c.healthExpiry = time.Now().Add(c.healthCacheTTL)
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug().Err(err).Msg("predictor health check failed")
	}
	return ok
}

// Health returns the last observed health payload.
func (c *Client) Health() HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Predict requests a win probability for one feature vector. Repeat calls
// for the same signal_id within the cache window return the cached result.
func (c *Client) Predict(ctx context.Context, features SignalFeatures) (Prediction, error) {
	c.mu.Lock()
	if cached, ok := c.predictions[features.SignalID]; ok && time.Now().Before(cached.expires) {
		c.mu.Unlock()
		return cached.prediction, nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.predictTimeout)
	defer cancel()

	var resp struct {
		Prediction Prediction `json:"prediction"`
	}
	req := struct {
		Features SignalFeatures `json:"features"`
	}{Features: features}

	if err := c.postJSON(ctx, "/predict", req, &resp); err != nil {
		return Prediction{}, err
	}

	c.mu.Lock()
	c.predictions[features.SignalID] = cachedPrediction{
		prediction: resp.Prediction,
		expires:    time.Now().Add(c.predictCacheTTL),
	}
	c.prunePredictions()
	c.mu.Unlock()

	return resp.Prediction, nil
}

// PredictBatch requests predictions for several signals in one call.
func (c *Client) PredictBatch(ctx context.Context, features []SignalFeatures) (map[string]Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.predictTimeout*2)
	defer cancel()

	req := struct {
		FeaturesList []SignalFeatures `json:"features_list"`
	}{FeaturesList: features}
	var resp struct {
		Predictions map[string]Prediction `json:"predictions"`
	}
	if err := c.postJSON(ctx, "/predict/batch", req, &resp); err != nil {
		return nil, err
	}
	return resp.Predictions, nil
}

// Train submits labelled records for retraining. Long deadline; training is
// synchronous on the service side.
func (c *Client) Train(ctx context.Context, records []TrainingRecord) (TrainResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	req := struct {
		TrainingData []TrainingRecord `json:"training_data"`
	}{TrainingData: records}
	var result TrainResult
	if err := c.postJSON(ctx, "/train", req, &result); err != nil {
		return TrainResult{}, err
	}
	c.logger.Info().
		Str("model_version", result.ModelVersion).
		Int("samples", result.TrainingSamples).
		Float64("auc", result.ValidationAUC).
		Msg("model retrained")
	return result, nil
}

// Stats fetches the model statistics.
func (c *Client) Stats(ctx context.Context) (ModelStats, error) {
	var stats ModelStats
	err := c.getJSON(ctx, "/stats", &stats)
	return stats, err
}

// prunePredictions drops expired cache entries. Caller holds the lock.
func (c *Client) prunePredictions() {
	now := time.Now()
	for id, cached := range c.predictions {
		if now.After(cached.expires) {
			delete(c.predictions, id)
		}
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("predictor %s returned %d: %s", req.URL.Path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

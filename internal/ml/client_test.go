package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"binance-signal-engine/config"
)

func testClient(url string) *Client {
	cfg := config.MLConfig{
		ServiceURL:         url,
		PredictTimeoutMs:   2000,
		HealthCacheSec:     30,
		PredictionCacheSec: 5,
	}
	return NewClient(cfg, zerolog.Nop())
}

func TestHealthyCachesResult(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		calls.Add(1)
		json.NewEncoder(w).Encode(HealthStatus{Status: "healthy", ModelLoaded: true, ModelVersion: "v3"})
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !client.Healthy(ctx) {
			t.Fatal("service should report healthy")
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("health endpoint hit %d times, want 1", got)
	}
	if client.Health().ModelVersion != "v3" {
		t.Errorf("cached health payload = %+v", client.Health())
	}
}

func TestHealthyRequiresLoadedModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HealthStatus{Status: "healthy", ModelLoaded: false})
	}))
	defer server.Close()

	if testClient(server.URL).Healthy(context.Background()) {
		t.Error("healthy status without a loaded model must report unhealthy")
	}
}

func TestPredictCachesPerSignalID(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Features SignalFeatures `json:"features"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]Prediction{
			"prediction": {
				SignalID:       req.Features.SignalID,
				WinProbability: 0.72,
				QualityTier:    TierMedium,
				ModelVersion:   "v3",
			},
		})
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()

	first, err := client.Predict(ctx, NewSignalFeatures("sig-1", "BTCUSDT"))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if first.WinProbability != 0.72 {
		t.Errorf("win probability = %v", first.WinProbability)
	}

	// Same signal_id inside the cache window never leaves the process.
	second, err := client.Predict(ctx, NewSignalFeatures("sig-1", "BTCUSDT"))
	if err != nil {
		t.Fatalf("cached predict: %v", err)
	}
	if second != first {
		t.Errorf("cached prediction differs: %+v vs %+v", second, first)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("predict endpoint hit %d times, want 1", got)
	}

	// A different signal_id is its own cache entry.
	if _, err := client.Predict(ctx, NewSignalFeatures("sig-2", "ETHUSDT")); err != nil {
		t.Fatalf("second signal predict: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("predict endpoint hit %d times, want 2", got)
	}
}

func TestPredictErrorIsNotCached(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]Prediction{
			"prediction": {SignalID: "sig-1", WinProbability: 0.6},
		})
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()

	if _, err := client.Predict(ctx, NewSignalFeatures("sig-1", "BTCUSDT")); err == nil {
		t.Fatal("503 must surface as an error")
	}
	// The failure left no cache entry, so the retry reaches the service.
	prediction, err := client.Predict(ctx, NewSignalFeatures("sig-1", "BTCUSDT"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if prediction.WinProbability != 0.6 {
		t.Errorf("retry prediction = %+v", prediction)
	}
}

func TestPredictBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict/batch" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			FeaturesList []SignalFeatures `json:"features_list"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		out := make(map[string]Prediction, len(req.FeaturesList))
		for _, f := range req.FeaturesList {
			out[f.SignalID] = Prediction{SignalID: f.SignalID, WinProbability: 0.55}
		}
		json.NewEncoder(w).Encode(map[string]map[string]Prediction{"predictions": out})
	}))
	defer server.Close()

	client := testClient(server.URL)
	predictions, err := client.PredictBatch(context.Background(), []SignalFeatures{
		NewSignalFeatures("sig-1", "BTCUSDT"),
		NewSignalFeatures("sig-2", "ETHUSDT"),
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(predictions) != 2 {
		t.Fatalf("predictions = %d, want 2", len(predictions))
	}
	if predictions["sig-2"].WinProbability != 0.55 {
		t.Errorf("sig-2 = %+v", predictions["sig-2"])
	}
}

func TestTrainSubmitsLabelledRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/train" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			TrainingData []TrainingRecord `json:"training_data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.TrainingData) != 2 {
			t.Errorf("training records = %d, want 2", len(req.TrainingData))
		}
		json.NewEncoder(w).Encode(TrainResult{
			Status:          "success",
			ModelVersion:    "v4",
			TrainingSamples: 2,
			ValidationAUC:   0.81,
		})
	}))
	defer server.Close()

	client := testClient(server.URL)
	result, err := client.Train(context.Background(), []TrainingRecord{
		{SignalID: "sig-1", Features: NewSignalFeatures("sig-1", "BTCUSDT").Columns(), Outcome: 1},
		{SignalID: "sig-2", Features: NewSignalFeatures("sig-2", "ETHUSDT").Columns(), Outcome: 0},
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if result.ModelVersion != "v4" || result.ValidationAUC != 0.81 {
		t.Errorf("result = %+v", result)
	}
}

func TestColumnsMatchFeatureNames(t *testing.T) {
	f := NewSignalFeatures("sig-1", "BTCUSDT")
	if got, want := len(f.Columns()), len(FeatureNames); got != want {
		t.Fatalf("Columns() returns %d values for %d feature names", got, want)
	}
}

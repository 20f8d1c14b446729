package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"binance-signal-engine/internal/cache"
	"binance-signal-engine/internal/database"
	"binance-signal-engine/internal/events"
	"binance-signal-engine/internal/market"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"status":            "ok",
		"connected":         s.deps.Connected(),
		"symbol_count":      s.deps.Store.Len(),
		"updates":           s.deps.Store.Updates(),
		"ws_clients":        s.hub.ClientCount(),
		"pending_signals":   s.deps.Tracker.PendingCount(),
		"completed_signals": len(s.deps.Tracker.Completed()),
		"ml_enabled":        s.deps.ML != nil,
		"uptime_seconds":    time.Since(s.startedAt).Seconds(),
	}
	if s.deps.ML != nil {
		status["ml_healthy"] = s.deps.ML.Healthy(c.Request.Context())
	}
	if s.deps.Cache != nil {
		status["cache"] = s.deps.Cache.GetStats()
	}
	c.JSON(http.StatusOK, status)
}

// handleSnapshot serves the latest published document. Before the first tick
// the Redis copy from a previous run is the fallback.
func (s *Server) handleSnapshot(c *gin.Context) {
	if latest := s.hub.Latest(); latest != nil {
		c.Data(http.StatusOK, "application/json", latest)
		return
	}

	if s.deps.Cache != nil {
		var raw json.RawMessage
		if err := s.deps.Cache.GetJSON(c.Request.Context(), cache.KeyLatestSnapshot, &raw); err == nil {
			c.Data(http.StatusOK, "application/json", raw)
			return
		}
	}

	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot published yet"})
}

func (s *Server) handleSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": s.deps.Engine.TopSignals(0, nil)})
}

func (s *Server) handleTopSignals(c *gin.Context) {
	limit := 10
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	var direction *market.Direction
	switch c.Query("direction") {
	case "":
	case "LONG":
		d := market.DirectionLong
		direction = &d
	case "SHORT":
		d := market.DirectionShort
		direction = &d
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be LONG or SHORT"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"signals": s.deps.Engine.TopSignals(limit, direction)})
}

func (s *Server) handleEarlyEntries(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": s.deps.Engine.EarlyEntries()})
}

func (s *Server) handleReversalSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": s.deps.Engine.ReversalSignals()})
}

func (s *Server) handleBreakouts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": s.deps.Engine.BreakoutCandidates()})
}

func (s *Server) handleLowRiskSetups(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"signals": s.deps.Engine.LowRiskSetups()})
}

func (s *Server) handleWinRate(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":        s.deps.Tracker.Stats(),
		"best_symbols": s.deps.Tracker.BestSymbols(5, 3),
	})
}

func (s *Server) handleExportCSV(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="signal_features.csv"`)

	if err := s.deps.DB.ExportCompletedCSV(c.Request.Context(), c.Writer); err != nil {
		// Headers may already be out; all we can do is log and cut the body.
		log.Printf("CSV export failed: %v", err)
		c.Abort()
	}
}

func (s *Server) handleMLStats(c *gin.Context) {
	if s.deps.ML == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "predictor is disabled"})
		return
	}

	stats, err := s.deps.ML.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "predictor unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":  stats,
		"health": s.deps.ML.Health(),
	})
}

// handleMLTrain pushes every graded signal to the predictor for retraining.
// Refused until the minimum sample count is reached.
func (s *Server) handleMLTrain(c *gin.Context) {
	if s.deps.ML == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "predictor is disabled"})
		return
	}

	records, err := s.deps.DB.CompletedTrainingRecords(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load training data"})
		return
	}

	required := s.deps.Config.MLConfig.MinSignalsForTraining
	if len(records) < required {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "not enough completed signals for training",
			"have":     len(records),
			"required": required,
		})
		return
	}

	result, err := s.deps.ML.Train(c.Request.Context(), records)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "training failed"})
		return
	}

	metrics := database.ModelMetrics{
		ModelVersion:       result.ModelVersion,
		TrainingDate:       time.Now(),
		TrainingSamples:    result.TrainingSamples,
		ValidationAUC:      result.ValidationAUC,
		ValidationAccuracy: result.ValidationAccuracy,
		FeatureImportance:  result.FeatureImportance,
	}
	if err := s.deps.DB.SaveModelMetrics(c.Request.Context(), metrics); err != nil {
		log.Printf("Failed to save model metrics: %v", err)
	}

	c.JSON(http.StatusOK, result)
}

func eventJSON(event events.Event) ([]byte, error) {
	return json.Marshal(event)
}

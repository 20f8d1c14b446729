package database

import "time"

// Opportunity is one detector finding persisted for later analysis.
type Opportunity struct {
	Symbol    string
	Type      string
	Score     float64
	Direction string
	Change24h float64
	VolMult   float64
	Velocity  float64
	RangePct  float64
	IsNew     bool
	LastPrice float64
	CreatedAt time.Time
}

// Alert is one operator-visible alert row.
type Alert struct {
	Symbol    string
	Kind      string
	Message   string
	Level     string
	CreatedAt time.Time
}

// Session is one engine run.
type Session struct {
	ID                 string
	StartedAt          time.Time
	EndedAt            *time.Time
	TotalOpportunities int
	TotalAlerts        int
}

// ModelMetrics is one training run's scorecard.
type ModelMetrics struct {
	ModelVersion       string
	TrainingDate       time.Time
	TrainingSamples    int
	ValidationAUC      float64
	ValidationAccuracy float64
	WinRatePredicted   float64
	WinRateActual      float64
	FeatureImportance  map[string]float64
}

package models

import "time"

// Label is the outcome shown to the visitor.
type Label string

const (
	LabelHealthy Label = "Healthy"
	LabelErgot   Label = "Diseased: Ergot"
)

// Healthy reports whether the label is the healthy outcome.
func (l Label) Healthy() bool {
	return l == LabelHealthy
}

// ClassificationResult is the outcome of a single prediction.
type ClassificationResult struct {
	ID         string    `json:"id"`
	Label      Label     `json:"label"`
	Confidence float64   `json:"confidence"`
	Score      float32   `json:"score"`
	Filename   string    `json:"filename"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProcessingTimings struct {
	RequestID   string
	Persist     time.Duration
	ImageDecode time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Total       time.Duration
}

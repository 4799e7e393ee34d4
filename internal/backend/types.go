package backend

import "github.com/goccy/go-json"

// envelope is the response wrapper used by every backend endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FeedbackItem is one labelled image reference.
type FeedbackItem struct {
	ID                 int64   `json:"id,omitempty"`
	ImageURL           string  `json:"imageUrl"`
	CorrectEmotion     string  `json:"correctEmotion"`
	PredictedEmotion   string  `json:"predictedEmotion,omitempty"`
	OriginalConfidence float64 `json:"originalConfidence,omitempty"`
}

// TrainingFeedback is the unused feedback available for training.
// Positive items confirm a prediction; negative items correct one.
type TrainingFeedback struct {
	TotalCount       int            `json:"totalCount"`
	PositiveFeedback []FeedbackItem `json:"positiveFeedback"`
	NegativeFeedback []FeedbackItem `json:"negativeFeedback"`
}

// Items returns positive then negative feedback.
func (f *TrainingFeedback) Items() []FeedbackItem {
	items := make([]FeedbackItem, 0, len(f.PositiveFeedback)+len(f.NegativeFeedback))
	items = append(items, f.PositiveFeedback...)
	return append(items, f.NegativeFeedback...)
}

// Version status values stored by the registry.
const (
	StatusTraining   = "TRAINING"
	StatusReady      = "READY"
	StatusDeprecated = "DEPRECATED"
	StatusError      = "ERROR"
)

// ModelVersion is a registry row.
type ModelVersion struct {
	ID                  int64   `json:"id"`
	Version             string  `json:"version"`
	ModelPath           string  `json:"modelPath"`
	BackupPath          string  `json:"backupPath,omitempty"`
	Description         string  `json:"description,omitempty"`
	FeedbackSampleCount int     `json:"feedbackSampleCount,omitempty"`
	LearningRate        float64 `json:"learningRate,omitempty"`
	NumEpochs           int     `json:"numEpochs,omitempty"`
	FinalAccuracy       float64 `json:"finalAccuracy,omitempty"`
	FinalLoss           float64 `json:"finalLoss,omitempty"`
	ValidationAccuracy  float64 `json:"validationAccuracy,omitempty"`
	F1Score             float64 `json:"f1Score,omitempty"`
	IsActive            bool    `json:"isActive"`
	Status              string  `json:"status,omitempty"`
	TrainedAt           string  `json:"trainedAt,omitempty"`
	PerformanceMetrics  string  `json:"performanceMetrics,omitempty"`
}

// PerformanceUpdate is the PATCH body for a version's evaluation results.
// PerformanceMetrics carries the full report as a JSON string.
type PerformanceUpdate struct {
	ValidationAccuracy float64 `json:"validationAccuracy"`
	F1Score            float64 `json:"f1Score"`
	PerformanceMetrics string  `json:"performanceMetrics"`
}

type rollbackRequest struct {
	VersionID int64  `json:"versionId"`
	Reason    string `json:"reason"`
}

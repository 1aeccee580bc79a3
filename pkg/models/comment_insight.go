package models

import (
	"time"

	"github.com/google/uuid"
)

// DetectedByLETI marks rows written by the insight detection agent.
const DetectedByLETI = "leti"

// CommentInsight links a comment to an insight. The sentiment fields stay
// empty until sentiment analysis fills them in.
type CommentInsight struct {
	ID                  int64     `json:"id"`
	CommentID           uuid.UUID `json:"comment_id"`
	InsightID           int64     `json:"insight_id"`
	Confidence          int       `json:"confidence"`
	DetectedBy          string    `json:"detected_by"`
	Reasoning           *string   `json:"reasoning,omitempty"`
	SentimentLevelID    *int64    `json:"sentiment_level_id,omitempty"`
	SentimentConfidence *int      `json:"sentiment_confidence,omitempty"`
	EmotionalDrivers    []string  `json:"emotional_drivers"`
	SentimentReasoning  *string   `json:"sentiment_reasoning,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// CommentInsightTarget is a comment/insight pair selected for sentiment analysis.
type CommentInsightTarget struct {
	ID          int64     `json:"id"`
	CommentID   uuid.UUID `json:"comment_id"`
	InsightID   int64     `json:"insight_id"`
	InsightName string    `json:"insight_name"`
}

// SentimentUpdate holds the fields sentiment analysis writes onto a CommentInsight.
type SentimentUpdate struct {
	SentimentLevelID    int64
	SentimentConfidence int
	EmotionalDrivers    []string
	SentimentReasoning  string
}

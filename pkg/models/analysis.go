package models

import "github.com/google/uuid"

// AnalyzeCommentsJob is the payload of one analyze-comments queue job.
type AnalyzeCommentsJob struct {
	CommentIDs []uuid.UUID    `json:"commentIds" validate:"min=1"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AnalysisResult summarizes one successful analyze-comments job.
type AnalysisResult struct {
	ProcessedComments   int     `json:"processedComments"`
	MatchedInsights     int     `json:"matchedInsights"`
	CreatedInsights     int     `json:"createdInsights"`
	DetectedIntentions  int     `json:"detectedIntentions"`
	AnalyzedSentiments  int     `json:"analyzedSentiments"`
	CommentInsightIDs   []int64 `json:"commentInsightIds"`
	CommentIntentionIDs []int64 `json:"commentIntentionIds"`
}

package services

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
	"github.com/ekaya-inc/comment-insights/pkg/models"
)

// AnalysisPhase says where inside an agent an analysis failed.
type AnalysisPhase string

const (
	PhasePromptGeneration AnalysisPhase = "prompt_generation"
	PhaseAIGeneration     AnalysisPhase = "ai_generation"
	PhaseResultParsing    AnalysisPhase = "result_parsing"
)

// DataFetchError means input data for a job could not be read.
type DataFetchError struct {
	apperrors.Stack
	What  string
	Cause error
}

func newDataFetchError(what string, cause error) *DataFetchError {
	return &DataFetchError{Stack: apperrors.NewStack(), What: what, Cause: cause}
}

func (e *DataFetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.What, e.Cause)
}

func (e *DataFetchError) Unwrap() error       { return e.Cause }
func (e *DataFetchError) ErrorSource() string { return "fetch:" + e.What }

// AnalysisError is a failure at the LLM boundary of one agent.
type AnalysisError struct {
	apperrors.Stack
	Phase AnalysisPhase
	Agent models.AgentName
	Cause error
}

func newAnalysisError(agent models.AgentName, phase AnalysisPhase, cause error) *AnalysisError {
	return &AnalysisError{Stack: apperrors.NewStack(), Phase: phase, Agent: agent, Cause: cause}
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s analysis failed during %s: %v", e.Agent, e.Phase, e.Cause)
}

func (e *AnalysisError) Unwrap() error       { return e.Cause }
func (e *AnalysisError) ErrorSource() string { return string(e.Agent) + ":" + string(e.Phase) }

// InsightCreationError is a failed insight or comment_insight write.
type InsightCreationError struct {
	apperrors.Stack
	InsightName string
	CommentID   uuid.UUID
	Cause       error
}

func newInsightCreationError(name string, commentID uuid.UUID, cause error) *InsightCreationError {
	return &InsightCreationError{Stack: apperrors.NewStack(), InsightName: name, CommentID: commentID, Cause: cause}
}

func (e *InsightCreationError) Error() string {
	return fmt.Sprintf("failed to store insight %q: %v", e.InsightName, e.Cause)
}

func (e *InsightCreationError) Unwrap() error       { return e.Cause }
func (e *InsightCreationError) ErrorSource() string { return string(models.AgentLETI) + ":persist" }

// IntentionCreationError is a failed comment_intention write.
type IntentionCreationError struct {
	apperrors.Stack
	CommentID uuid.UUID
	Cause     error
}

func newIntentionCreationError(commentID uuid.UUID, cause error) *IntentionCreationError {
	return &IntentionCreationError{Stack: apperrors.NewStack(), CommentID: commentID, Cause: cause}
}

func (e *IntentionCreationError) Error() string {
	return fmt.Sprintf("failed to store intention for comment %s: %v", e.CommentID, e.Cause)
}

func (e *IntentionCreationError) Unwrap() error       { return e.Cause }
func (e *IntentionCreationError) ErrorSource() string { return string(models.AgentGRO) + ":persist" }

// SentimentUpdateError is a failed sentiment write onto a comment_insight.
type SentimentUpdateError struct {
	apperrors.Stack
	CommentInsightID int64
	Cause            error
}

func newSentimentUpdateError(id int64, cause error) *SentimentUpdateError {
	return &SentimentUpdateError{Stack: apperrors.NewStack(), CommentInsightID: id, Cause: cause}
}

func (e *SentimentUpdateError) Error() string {
	return fmt.Sprintf("failed to update sentiment of comment insight %d: %v", e.CommentInsightID, e.Cause)
}

func (e *SentimentUpdateError) Unwrap() error       { return e.Cause }
func (e *SentimentUpdateError) ErrorSource() string { return string(models.AgentPIX) + ":persist" }

package events

import (
	"github.com/google/uuid"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
	"github.com/ekaya-inc/comment-insights/pkg/models"
)

// JobState is a step of the analyze-comments state machine.
type JobState string

const (
	StateInitializing          JobState = "initializing"
	StateFetchingData          JobState = "fetching_data"
	StateAnalyzing             JobState = "analyzing"
	StateCreatingInsights      JobState = "creating_insights"
	StateCreatingRelationships JobState = "creating_relationships"
	StateCompleted             JobState = "completed"
	StateFailed                JobState = "failed"
)

// JobRef scopes a payload to a job.
type JobRef struct {
	JobID string `json:"jobId" validate:"required"`
}

func (r JobRef) GetJobID() string { return r.JobID }

type JobStarted struct {
	JobRef
	CommentIDs []uuid.UUID `json:"commentIds" validate:"min=1"`
}

type JobCompleted struct {
	JobRef
	Result     models.AnalysisResult `json:"result"`
	DurationMs int64                 `json:"duration"`
}

type JobFailed struct {
	JobRef
	Error        string                 `json:"error"`
	ErrorType    string                 `json:"errorType"`
	ErrorContext map[string]any         `json:"errorContext,omitempty"`
	Record       *apperrors.ErrorRecord `json:"record,omitempty"`
}

type StateChanged struct {
	JobRef
	State    JobState       `json:"state" validate:"oneof=initializing fetching_data analyzing creating_insights creating_relationships completed failed"`
	Progress int            `json:"progress" validate:"min=0,max=100"`
	Details  map[string]any `json:"details,omitempty"`
}

// AgentStarted is published when a phase begins.
type AgentStarted struct {
	JobRef
	Agent        models.AgentName `json:"agent"`
	CommentCount int              `json:"commentCount"`
}

// AgentCompleted is published when a phase finishes.
type AgentCompleted struct {
	JobRef
	Agent      models.AgentName `json:"agent"`
	Detected   int              `json:"detected"`
	Created    int              `json:"created,omitempty"`
	DurationMs int64            `json:"durationMs"`
}

type InsightDetected struct {
	JobRef
	CommentID        uuid.UUID `json:"commentId"`
	CommentInsightID int64     `json:"commentInsightId"`
	InsightID        int64     `json:"insightId"`
	InsightName      string    `json:"insightName" validate:"required"`
	Confidence       int       `json:"confidence" validate:"min=0,max=10"`
	IsEmergent       bool      `json:"isEmergent"`
}

type InsightCreated struct {
	JobRef
	InsightID   int64  `json:"insightId"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

type IntentionDetected struct {
	JobRef
	CommentID           uuid.UUID              `json:"commentId"`
	CommentIntentionID  int64                  `json:"commentIntentionId"`
	IntentionID         int64                  `json:"intentionId"`
	PrimaryIntention    models.IntentionType   `json:"primaryIntention"`
	SecondaryIntentions []models.IntentionType `json:"secondaryIntentions"`
	Confidence          int                    `json:"confidence" validate:"min=0,max=10"`
}

type SentimentAnalyzed struct {
	JobRef
	CommentID        uuid.UUID `json:"commentId"`
	CommentInsightID int64     `json:"commentInsightId"`
	InsightName      string    `json:"insightName"`
	SentimentLevel   string    `json:"sentimentLevel" validate:"required"`
	IntensityValue   int       `json:"intensityValue"`
	Confidence       int       `json:"confidence" validate:"min=0,max=10"`
}

// QueueJobCompleted and QueueJobFailed are published by the job queue for
// every attempt, independent of what the processor itself publishes.
type QueueJobCompleted struct {
	JobRef
	Queue        string `json:"queue"`
	Name         string `json:"name"`
	AttemptsMade int    `json:"attemptsMade"`
	DurationMs   int64  `json:"durationMs"`
	ReturnValue  any    `json:"returnValue,omitempty"`
}

type QueueJobFailed struct {
	JobRef
	Queue        string `json:"queue"`
	Name         string `json:"name"`
	AttemptsMade int    `json:"attemptsMade"`
	WillRetry    bool   `json:"willRetry"`
	FailedReason string `json:"failedReason"`
	Failure      any    `json:"failure,omitempty"`
}

var (
	JobStartedEvent   = Define[JobStarted]("job:started")
	JobCompletedEvent = Define[JobCompleted]("job:completed")
	JobFailedEvent    = Define[JobFailed]("job:failed")
	StateChangedEvent = Define[StateChanged]("state:changed")

	LetiStartedEvent     = Define[AgentStarted]("leti:started")
	InsightDetectedEvent = Define[InsightDetected]("insight:detected")
	InsightCreatedEvent  = Define[InsightCreated]("insight:created")
	LetiCompletedEvent   = Define[AgentCompleted]("leti:completed")

	GroStartedEvent        = Define[AgentStarted]("gro:started")
	IntentionDetectedEvent = Define[IntentionDetected]("intention:detected")
	GroCompletedEvent      = Define[AgentCompleted]("gro:completed")

	PixStartedEvent        = Define[AgentStarted]("pix:started")
	SentimentAnalyzedEvent = Define[SentimentAnalyzed]("sentiment:analyzed")
	PixCompletedEvent      = Define[AgentCompleted]("pix:completed")

	QueueJobCompletedEvent = Define[QueueJobCompleted]("job.completed")
	QueueJobFailedEvent    = Define[QueueJobFailed]("job.failed")
)

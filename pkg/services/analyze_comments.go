package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
	"github.com/ekaya-inc/comment-insights/pkg/events"
	"github.com/ekaya-inc/comment-insights/pkg/llm"
	"github.com/ekaya-inc/comment-insights/pkg/models"
	"github.com/ekaya-inc/comment-insights/pkg/prompts"
	"github.com/ekaya-inc/comment-insights/pkg/repositories"
	"github.com/ekaya-inc/comment-insights/pkg/services/workqueue"
)

const (
	// AnalyzeCommentsQueue is the queue analysis batches are submitted to.
	AnalyzeCommentsQueue = "analyze-comments"
	// AnalyzeCommentsJobName names every job on AnalyzeCommentsQueue.
	AnalyzeCommentsJobName = "analyze-comments-batch"
)

// Transactor runs fn inside one database transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AnalyzeCommentsDeps holds everything an AnalyzeCommentsProcessor needs.
type AnalyzeCommentsDeps struct {
	DB                Transactor
	Comments          repositories.CommentRepository
	Insights          repositories.InsightRepository
	Intentions        repositories.IntentionRepository
	SentimentLevels   repositories.SentimentLevelRepository
	CommentInsights   repositories.CommentInsightRepository
	CommentIntentions repositories.CommentIntentionRepository
	AgentLogs         repositories.AgentLogRepository
	Generator         llm.Generator
	Prompts           *prompts.Compiler
	Bus               *events.Bus
	Logger            *zap.Logger

	// Provider, Tier and Temperature are applied to every generation call.
	// Empty values fall back to the generator's defaults.
	Provider    llm.Provider
	Tier        llm.PerformanceTier
	Temperature *float64
}

// AnalyzeCommentsProcessor runs the three analysis agents over one batch
// of comments. All writes of a job share a single transaction: the job
// either persists every insight, intention and sentiment or nothing.
type AnalyzeCommentsProcessor struct {
	deps   AnalyzeCommentsDeps
	logger *zap.Logger
}

// NewAnalyzeCommentsProcessor creates a processor.
func NewAnalyzeCommentsProcessor(deps AnalyzeCommentsDeps) *AnalyzeCommentsProcessor {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyzeCommentsProcessor{
		deps:   deps,
		logger: logger.Named("analyze-comments"),
	}
}

// Process is the workqueue.Processor for AnalyzeCommentsQueue.
func (p *AnalyzeCommentsProcessor) Process(ctx context.Context, job *workqueue.Job) (any, error) {
	var payload models.AnalyzeCommentsJob
	if err := job.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode job %s payload: %w", job.ID, err)
	}
	return p.Run(ctx, job.ID, payload)
}

// jobRun tracks the progress of one job for state events.
type jobRun struct {
	id       string
	progress int
}

// Run analyzes the comments of one job. The returned error carries a
// serialized record of the failure (see apperrors.JobError).
func (p *AnalyzeCommentsProcessor) Run(ctx context.Context, jobID string, job models.AnalyzeCommentsJob) (*models.AnalysisResult, error) {
	start := time.Now()
	run := &jobRun{id: jobID}
	ctx = llm.WithContext(ctx, map[string]any{"job_id": jobID})

	p.logger.Info("Starting comment analysis",
		zap.String("job_id", jobID),
		zap.Int("comment_count", len(job.CommentIDs)))

	p.setState(run, events.StateInitializing, 0, map[string]any{"commentCount": len(job.CommentIDs)})
	publish(p, events.JobStartedEvent, events.JobStarted{
		JobRef:     events.JobRef{JobID: jobID},
		CommentIDs: job.CommentIDs,
	})

	var result models.AnalysisResult
	err := p.deps.DB.WithTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = p.analyze(ctx, run, job.CommentIDs)
		return err
	})
	if err != nil {
		return nil, p.fail(run, job, err)
	}

	duration := time.Since(start)
	p.setState(run, events.StateCompleted, 100, map[string]any{"result": result})
	publish(p, events.JobCompletedEvent, events.JobCompleted{
		JobRef:     events.JobRef{JobID: jobID},
		Result:     result,
		DurationMs: duration.Milliseconds(),
	})

	p.logger.Info("Comment analysis complete",
		zap.String("job_id", jobID),
		zap.Int("processed", result.ProcessedComments),
		zap.Int("matched_insights", result.MatchedInsights),
		zap.Int("created_insights", result.CreatedInsights),
		zap.Int("intentions", result.DetectedIntentions),
		zap.Int("sentiments", result.AnalyzedSentiments),
		zap.Duration("duration", duration))

	return &result, nil
}

func (p *AnalyzeCommentsProcessor) analyze(ctx context.Context, run *jobRun, ids []uuid.UUID) (models.AnalysisResult, error) {
	var result models.AnalysisResult

	p.setState(run, events.StateFetchingData, 10, nil)
	comments, err := p.deps.Comments.GetByIDs(ctx, ids)
	if err != nil {
		return result, newDataFetchError("comments", err)
	}
	if len(comments) == 0 {
		return result, newDataFetchError("comments", fmt.Errorf("none of the %d requested comments exist: %w", len(ids), apperrors.ErrNotFound))
	}
	if len(comments) < len(ids) {
		p.logger.Warn("Some requested comments do not exist",
			zap.String("job_id", run.id),
			zap.Int("requested", len(ids)),
			zap.Int("found", len(comments)))
	}
	result.ProcessedComments = len(comments)

	p.setState(run, events.StateAnalyzing, 20, map[string]any{"agent": models.AgentLETI})
	leti, err := p.detectInsights(ctx, run.id, comments)
	if err != nil {
		return result, err
	}
	result.MatchedInsights = len(leti.CommentInsightIDs)
	result.CreatedInsights = leti.Created
	result.CommentInsightIDs = leti.CommentInsightIDs

	p.setState(run, events.StateAnalyzing, 45, map[string]any{"agent": models.AgentGRO})
	intentionIDs, err := p.detectIntentions(ctx, run.id, comments)
	if err != nil {
		return result, err
	}
	result.DetectedIntentions = len(intentionIDs)
	result.CommentIntentionIDs = intentionIDs

	p.setState(run, events.StateAnalyzing, 75, map[string]any{"agent": models.AgentPIX})
	analyzed, err := p.analyzeSentiment(ctx, run.id, comments, leti.CommentInsightIDs)
	if err != nil {
		return result, err
	}
	result.AnalyzedSentiments = analyzed

	if result.CommentInsightIDs == nil {
		result.CommentInsightIDs = []int64{}
	}
	if result.CommentIntentionIDs == nil {
		result.CommentIntentionIDs = []int64{}
	}
	return result, nil
}

func (p *AnalyzeCommentsProcessor) fail(run *jobRun, job models.AnalyzeCommentsJob, err error) error {
	record := apperrors.NewErrorRecord(err, map[string]any{
		"jobId":        run.id,
		"commentCount": len(job.CommentIDs),
		"progress":     run.progress,
	})

	p.logger.Error("Comment analysis failed",
		zap.String("job_id", run.id),
		zap.String("error_type", record.Name),
		zap.String("summary", record.Summary),
		zap.Error(err))

	p.setState(run, events.StateFailed, run.progress, map[string]any{"error": record.Summary})
	publish(p, events.JobFailedEvent, events.JobFailed{
		JobRef:       events.JobRef{JobID: run.id},
		Error:        err.Error(),
		ErrorType:    record.Name,
		ErrorContext: record.Context,
		Record:       record,
	})

	return apperrors.NewJobError(record, err)
}

func (p *AnalyzeCommentsProcessor) setState(run *jobRun, state events.JobState, progress int, details map[string]any) {
	run.progress = progress
	publish(p, events.StateChangedEvent, events.StateChanged{
		JobRef:   events.JobRef{JobID: run.id},
		State:    state,
		Progress: progress,
		Details:  details,
	})
}

// publish emits an event if a bus is configured. Events are advisory, so
// a rejected payload is logged and never fails the job.
func publish[T any](p *AnalyzeCommentsProcessor, def events.Def[T], payload T) {
	if p.deps.Bus == nil {
		return
	}
	if err := events.Publish(p.deps.Bus, def, payload); err != nil {
		p.logger.Warn("Failed to publish event",
			zap.String("event", def.Name()),
			zap.Error(err))
	}
}

// generate renders a prompt and asks the model for an object of target's
// type. It returns false without error when the model produced nothing
// usable, which callers treat as an empty result.
func (p *AnalyzeCommentsProcessor) generate(ctx context.Context, agent models.AgentName, name prompts.Name, vars any, target any) (bool, error) {
	prompt, err := p.deps.Prompts.Compile(name, vars)
	if err != nil {
		return false, newAnalysisError(agent, PhasePromptGeneration, err)
	}

	ctx = llm.WithContext(ctx, map[string]any{"agent": string(agent)})
	res, err := p.deps.Generator.GenerateObject(ctx, llm.ObjectRequest{
		TextRequest: llm.TextRequest{
			Provider:    p.deps.Provider,
			Tier:        p.deps.Tier,
			System:      prompt.System,
			Prompt:      prompt.User,
			Temperature: p.deps.Temperature,
		},
		SchemaName: string(name),
	}, target)
	if err != nil {
		var noObject *llm.NoObjectGeneratedError
		var invalid *llm.SchemaValidationError
		switch {
		case errors.As(err, &noObject):
			p.logger.Warn("Model returned no usable object, treating as empty result",
				zap.String("agent", string(agent)),
				zap.String("finish_reason", noObject.FinishReason),
				zap.Error(err))
			return false, nil
		case errors.As(err, &invalid):
			return false, newAnalysisError(agent, PhaseResultParsing, err)
		default:
			return false, newAnalysisError(agent, PhaseAIGeneration, err)
		}
	}

	p.logger.Debug("Generated object",
		zap.String("agent", string(agent)),
		zap.String("prompt", string(name)),
		zap.Int("prompt_version", prompt.Version),
		zap.String("model", res.Model),
		zap.Int("total_tokens", res.Usage.TotalTokens))
	return true, nil
}

// logAgent records one agent's work on one comment.
func (p *AnalyzeCommentsProcessor) logAgent(ctx context.Context, jobID string, commentID uuid.UUID, agent models.AgentName, elapsed time.Duration, metadata map[string]any) error {
	entry := &models.AgentProcessingLog{
		JobID:            jobID,
		CommentID:        commentID,
		AgentName:        agent,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Success:          true,
		Metadata:         map[string]any{string(agent): metadata},
	}
	if err := p.deps.AgentLogs.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("record %s processing log for comment %s: %w", agent, commentID, err)
	}
	return nil
}

func commentContents(comments []*models.Comment) []string {
	out := make([]string, len(comments))
	for i, c := range comments {
		out[i] = c.Content
	}
	return out
}

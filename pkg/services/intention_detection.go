package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/events"
	"github.com/ekaya-inc/comment-insights/pkg/models"
	"github.com/ekaya-inc/comment-insights/pkg/prompts"
)

type intentionDetectionOutput struct {
	Results []intentionDetectionResult `json:"results" validate:"dive"`
}

type intentionDetectionResult struct {
	CommentIndex        int                    `json:"commentIndex"`
	PrimaryIntention    models.IntentionType   `json:"primaryIntention" jsonschema:"enum=resolve,enum=complain,enum=compare,enum=cancel,enum=inquire,enum=praise,enum=suggest,enum=other"`
	SecondaryIntentions []models.IntentionType `json:"secondaryIntentions"`
	Confidence          int                    `json:"confidence" validate:"min=0,max=10" jsonschema:"description=Confidence from 0 to 10"`
	Reasoning           string                 `json:"reasoning"`
	ContextFactors      []string               `json:"contextFactors"`
}

// detectIntentions classifies each comment into the intention taxonomy and
// returns the ids of the stored comment_intentions rows.
func (p *AnalyzeCommentsProcessor) detectIntentions(ctx context.Context, jobID string, comments []*models.Comment) ([]int64, error) {
	start := time.Now()
	publish(p, events.GroStartedEvent, events.AgentStarted{
		JobRef:       events.JobRef{JobID: jobID},
		Agent:        models.AgentGRO,
		CommentCount: len(comments),
	})

	intentions, err := p.deps.Intentions.List(ctx)
	if err != nil {
		return nil, newDataFetchError("intentions", err)
	}
	byType := make(map[models.IntentionType]*models.Intention, len(intentions))
	types := make([]string, 0, len(intentions))
	for _, intention := range intentions {
		byType[intention.Type] = intention
		types = append(types, string(intention.Type))
	}

	var out intentionDetectionOutput
	if _, err := p.generate(ctx, models.AgentGRO, prompts.IntentionDetection, prompts.IntentionDetectionVars{
		Comments:       commentContents(comments),
		IntentionTypes: types,
	}, &out); err != nil {
		return nil, err
	}

	ids := []int64{}
	for _, r := range out.Results {
		if r.CommentIndex < 0 || r.CommentIndex >= len(comments) {
			p.logger.Warn("Ignoring intention result for unknown comment index",
				zap.String("job_id", jobID),
				zap.Int("comment_index", r.CommentIndex),
				zap.Int("comment_count", len(comments)))
			continue
		}
		comment := comments[r.CommentIndex]
		commentStart := time.Now()

		primary, ok := byType[r.PrimaryIntention]
		if !ok {
			p.logger.Warn("Skipping unknown primary intention",
				zap.String("job_id", jobID),
				zap.String("comment_id", comment.ID.String()),
				zap.String("intention", string(r.PrimaryIntention)))
			continue
		}

		secondary := make([]models.IntentionType, 0, len(r.SecondaryIntentions))
		for _, t := range r.SecondaryIntentions {
			if t.IsValid() && t != r.PrimaryIntention {
				secondary = append(secondary, t)
			}
		}
		factors := r.ContextFactors
		if factors == nil {
			factors = []string{}
		}

		row := &models.CommentIntention{
			CommentID:           comment.ID,
			IntentionID:         primary.ID,
			SecondaryIntentions: secondary,
			Confidence:          r.Confidence,
			Reasoning:           r.Reasoning,
			ContextFactors:      factors,
		}
		if err := p.deps.CommentIntentions.Create(ctx, row); err != nil {
			return nil, newIntentionCreationError(comment.ID, err)
		}
		ids = append(ids, row.ID)

		publish(p, events.IntentionDetectedEvent, events.IntentionDetected{
			JobRef:              events.JobRef{JobID: jobID},
			CommentID:           comment.ID,
			CommentIntentionID:  row.ID,
			IntentionID:         primary.ID,
			PrimaryIntention:    primary.Type,
			SecondaryIntentions: secondary,
			Confidence:          r.Confidence,
		})

		if err := p.logAgent(ctx, jobID, comment.ID, models.AgentGRO, time.Since(commentStart), map[string]any{
			"primaryIntention":    primary.Type,
			"secondaryIntentions": secondary,
			"confidence":          r.Confidence,
		}); err != nil {
			return nil, err
		}
	}

	publish(p, events.GroCompletedEvent, events.AgentCompleted{
		JobRef:     events.JobRef{JobID: jobID},
		Agent:      models.AgentGRO,
		Detected:   len(ids),
		DurationMs: time.Since(start).Milliseconds(),
	})

	p.logger.Info("Intention detection complete",
		zap.String("job_id", jobID),
		zap.Int("detected", len(ids)))

	return ids, nil
}

package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
	"github.com/ekaya-inc/comment-insights/pkg/events"
	"github.com/ekaya-inc/comment-insights/pkg/models"
	"github.com/ekaya-inc/comment-insights/pkg/prompts"
)

type insightDetectionOutput struct {
	Results []insightDetectionResult `json:"results" validate:"dive"`
}

type insightDetectionResult struct {
	CommentIndex         int                `json:"commentIndex" jsonschema:"description=Zero-based index of the comment in the prompt"`
	DetectedInsights     []detectedInsight  `json:"detectedInsights" validate:"dive"`
	SuggestedNewInsights []suggestedInsight `json:"suggestedNewInsights" validate:"dive"`
}

type detectedInsight struct {
	InsightName string `json:"insightName" validate:"required"`
	Confidence  int    `json:"confidence" validate:"min=0,max=10" jsonschema:"description=Confidence from 0 to 10"`
	Reasoning   string `json:"reasoning"`
	IsEmergent  bool   `json:"isEmergent" jsonschema:"description=True when the insight is one of suggestedNewInsights"`
}

type suggestedInsight struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

// letiResult is the outcome of one insight detection pass.
type letiResult struct {
	CommentInsightIDs []int64
	Created           int
}

// detectInsights matches comments against the known insights, creating the
// new insights the model suggests, and links each comment to what it matched.
func (p *AnalyzeCommentsProcessor) detectInsights(ctx context.Context, jobID string, comments []*models.Comment) (*letiResult, error) {
	start := time.Now()
	publish(p, events.LetiStartedEvent, events.AgentStarted{
		JobRef:       events.JobRef{JobID: jobID},
		Agent:        models.AgentLETI,
		CommentCount: len(comments),
	})

	existing, err := p.deps.Insights.List(ctx)
	if err != nil {
		return nil, newDataFetchError("insights", err)
	}
	known := make(map[string]*models.Insight, len(existing))
	names := make([]string, 0, len(existing))
	for _, insight := range existing {
		known[models.NormalizeInsightName(insight.Name)] = insight
		names = append(names, insight.Name)
	}

	var out insightDetectionOutput
	if _, err := p.generate(ctx, models.AgentLETI, prompts.InsightDetection, prompts.InsightDetectionVars{
		ExistingInsights: names,
		Comments:         commentContents(comments),
	}, &out); err != nil {
		return nil, err
	}

	res := &letiResult{CommentInsightIDs: []int64{}}
	created := make(map[string]*models.Insight)

	for _, r := range out.Results {
		if r.CommentIndex < 0 || r.CommentIndex >= len(comments) {
			p.logger.Warn("Ignoring insight result for unknown comment index",
				zap.String("job_id", jobID),
				zap.Int("comment_index", r.CommentIndex),
				zap.Int("comment_count", len(comments)))
			continue
		}
		comment := comments[r.CommentIndex]
		commentStart := time.Now()
		detectedNames := []string{}
		createdNames := []string{}

		for _, s := range r.SuggestedNewInsights {
			name := models.NormalizeInsightName(s.Name)
			if _, ok := known[name]; ok {
				continue
			}
			if _, ok := created[name]; ok {
				continue
			}
			insight, err := p.deps.Insights.Upsert(ctx, &models.Insight{
				Name:        name,
				Content:     s.Description,
				AIGenerated: true,
			})
			if err != nil {
				return nil, newInsightCreationError(name, comment.ID, err)
			}
			created[name] = insight
			res.Created++
			createdNames = append(createdNames, name)

			publish(p, events.InsightCreatedEvent, events.InsightCreated{
				JobRef:      events.JobRef{JobID: jobID},
				InsightID:   insight.ID,
				Name:        insight.Name,
				Description: insight.Content,
			})
		}

		for _, d := range r.DetectedInsights {
			name := models.NormalizeInsightName(d.InsightName)
			insight, err := p.resolveInsight(ctx, name, d.IsEmergent, known, created)
			if err != nil {
				return nil, err
			}
			if insight == nil {
				p.logger.Debug("Skipping detected insight with no matching record",
					zap.String("job_id", jobID),
					zap.String("insight", name),
					zap.Bool("emergent", d.IsEmergent))
				continue
			}

			link := &models.CommentInsight{
				CommentID:  comment.ID,
				InsightID:  insight.ID,
				Confidence: d.Confidence,
				DetectedBy: models.DetectedByLETI,
			}
			if d.Reasoning != "" {
				reasoning := d.Reasoning
				link.Reasoning = &reasoning
			}
			if err := p.deps.CommentInsights.Create(ctx, link); err != nil {
				return nil, newInsightCreationError(name, comment.ID, err)
			}
			res.CommentInsightIDs = append(res.CommentInsightIDs, link.ID)
			detectedNames = append(detectedNames, insight.Name)

			publish(p, events.InsightDetectedEvent, events.InsightDetected{
				JobRef:           events.JobRef{JobID: jobID},
				CommentID:        comment.ID,
				CommentInsightID: link.ID,
				InsightID:        insight.ID,
				InsightName:      insight.Name,
				Confidence:       d.Confidence,
				IsEmergent:       d.IsEmergent,
			})
		}

		if err := p.logAgent(ctx, jobID, comment.ID, models.AgentLETI, time.Since(commentStart), map[string]any{
			"detectedInsights": detectedNames,
			"createdInsights":  createdNames,
		}); err != nil {
			return nil, err
		}
	}

	publish(p, events.LetiCompletedEvent, events.AgentCompleted{
		JobRef:     events.JobRef{JobID: jobID},
		Agent:      models.AgentLETI,
		Detected:   len(res.CommentInsightIDs),
		Created:    res.Created,
		DurationMs: time.Since(start).Milliseconds(),
	})

	p.logger.Info("Insight detection complete",
		zap.String("job_id", jobID),
		zap.Int("matched", len(res.CommentInsightIDs)),
		zap.Int("created", res.Created))

	return res, nil
}

// resolveInsight finds the record behind a detected insight name. Known
// insights resolve from the pre-fetched list; emergent ones from the
// insights created in this job, falling back to a lookup by name.
// Returns nil when nothing matches.
func (p *AnalyzeCommentsProcessor) resolveInsight(ctx context.Context, name string, emergent bool, known, created map[string]*models.Insight) (*models.Insight, error) {
	if !emergent {
		return known[name], nil
	}
	if insight, ok := created[name]; ok {
		return insight, nil
	}
	if insight, ok := known[name]; ok {
		return insight, nil
	}
	insight, err := p.deps.Insights.GetByName(ctx, name)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newDataFetchError("insight "+name, err)
	}
	created[name] = insight
	return insight, nil
}

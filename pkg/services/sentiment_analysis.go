package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/events"
	"github.com/ekaya-inc/comment-insights/pkg/models"
	"github.com/ekaya-inc/comment-insights/pkg/prompts"
)

type sentimentAnalysisOutput struct {
	Results []sentimentAnalysisResult `json:"results" validate:"dive"`
}

type sentimentAnalysisResult struct {
	PairIndex        int      `json:"pairIndex" jsonschema:"description=Index of the comment/insight pair in the prompt"`
	InsightName      string   `json:"insightName"`
	SentimentLevel   string   `json:"sentimentLevel" jsonschema:"enum=fury,enum=anger,enum=frustration,enum=disappointment,enum=annoyance,enum=concern,enum=confusion,enum=impatience,enum=neutral,enum=satisfaction,enum=gratitude"`
	Confidence       int      `json:"confidence" validate:"min=0,max=10" jsonschema:"description=Confidence from 0 to 10"`
	EmotionalDrivers []string `json:"emotionalDrivers"`
	Reasoning        string   `json:"reasoning"`
}

// analyzeSentiment rates the emotion each comment expresses toward each
// insight it was linked to in this job. It returns the number of links
// updated. With no links the phase does nothing.
func (p *AnalyzeCommentsProcessor) analyzeSentiment(ctx context.Context, jobID string, comments []*models.Comment, commentInsightIDs []int64) (int, error) {
	if len(commentInsightIDs) == 0 {
		p.logger.Debug("No comment insights to analyze", zap.String("job_id", jobID))
		return 0, nil
	}

	start := time.Now()
	targets, err := p.deps.CommentInsights.GetTargets(ctx, commentInsightIDs)
	if err != nil {
		return 0, newDataFetchError("comment insights", err)
	}
	levels, err := p.deps.SentimentLevels.List(ctx)
	if err != nil {
		return 0, newDataFetchError("sentiment levels", err)
	}

	byComment := make(map[uuid.UUID]*models.Comment, len(comments))
	for _, c := range comments {
		byComment[c.ID] = c
	}
	byLevel := make(map[models.SentimentLevelName]*models.SentimentLevel, len(levels))
	levelInfo := make([]prompts.SentimentLevelInfo, 0, len(levels))
	for _, l := range levels {
		byLevel[l.Level] = l
		levelInfo = append(levelInfo, prompts.SentimentLevelInfo{
			Level:       string(l.Level),
			Name:        l.Name,
			Description: l.Description,
			Severity:    string(l.Severity),
			Intensity:   l.IntensityValue,
		})
	}

	pairs := make([]prompts.SentimentPair, 0, len(targets))
	for i, t := range targets {
		comment, ok := byComment[t.CommentID]
		if !ok {
			continue
		}
		pairs = append(pairs, prompts.SentimentPair{Index: i, Comment: comment.Content, Insight: t.InsightName})
	}
	if len(pairs) == 0 {
		p.logger.Debug("No comment insights belong to this job's comments", zap.String("job_id", jobID))
		return 0, nil
	}

	publish(p, events.PixStartedEvent, events.AgentStarted{
		JobRef:       events.JobRef{JobID: jobID},
		Agent:        models.AgentPIX,
		CommentCount: len(comments),
	})

	var out sentimentAnalysisOutput
	if _, err := p.generate(ctx, models.AgentPIX, prompts.SentimentAnalysis, prompts.SentimentAnalysisVars{
		Pairs:  pairs,
		Levels: levelInfo,
	}, &out); err != nil {
		return 0, err
	}

	analyzed := 0
	rated := make(map[int]bool, len(targets))
	perComment := make(map[uuid.UUID][]map[string]any)
	var order []uuid.UUID

	for _, r := range out.Results {
		if r.PairIndex < 0 || r.PairIndex >= len(targets) {
			p.logger.Warn("Ignoring sentiment result for unknown pair index",
				zap.String("job_id", jobID),
				zap.Int("pair_index", r.PairIndex),
				zap.Int("pair_count", len(targets)))
			continue
		}
		if rated[r.PairIndex] {
			p.logger.Warn("Ignoring repeated sentiment result for pair",
				zap.String("job_id", jobID),
				zap.Int("pair_index", r.PairIndex))
			continue
		}
		target := targets[r.PairIndex]

		level, ok := byLevel[models.SentimentLevelName(strings.ToLower(strings.TrimSpace(r.SentimentLevel)))]
		if !ok {
			p.logger.Warn("Skipping unknown sentiment level",
				zap.String("job_id", jobID),
				zap.Int64("comment_insight_id", target.ID),
				zap.String("level", r.SentimentLevel))
			continue
		}

		drivers := r.EmotionalDrivers
		if drivers == nil {
			drivers = []string{}
		}
		if err := p.deps.CommentInsights.UpdateSentiment(ctx, target.ID, models.SentimentUpdate{
			SentimentLevelID:    level.ID,
			SentimentConfidence: r.Confidence,
			EmotionalDrivers:    drivers,
			SentimentReasoning:  r.Reasoning,
		}); err != nil {
			return 0, newSentimentUpdateError(target.ID, err)
		}
		rated[r.PairIndex] = true
		analyzed++

		publish(p, events.SentimentAnalyzedEvent, events.SentimentAnalyzed{
			JobRef:           events.JobRef{JobID: jobID},
			CommentID:        target.CommentID,
			CommentInsightID: target.ID,
			InsightName:      target.InsightName,
			SentimentLevel:   string(level.Level),
			IntensityValue:   level.IntensityValue,
			Confidence:       r.Confidence,
		})

		if _, seen := perComment[target.CommentID]; !seen {
			order = append(order, target.CommentID)
		}
		perComment[target.CommentID] = append(perComment[target.CommentID], map[string]any{
			"insight":        target.InsightName,
			"sentimentLevel": level.Level,
			"intensity":      level.IntensityValue,
			"confidence":     r.Confidence,
		})
	}

	elapsed := time.Since(start)
	for _, commentID := range order {
		if err := p.logAgent(ctx, jobID, commentID, models.AgentPIX, elapsed, map[string]any{
			"sentiments": perComment[commentID],
		}); err != nil {
			return 0, err
		}
	}

	publish(p, events.PixCompletedEvent, events.AgentCompleted{
		JobRef:     events.JobRef{JobID: jobID},
		Agent:      models.AgentPIX,
		Detected:   analyzed,
		DurationMs: elapsed.Milliseconds(),
	})

	p.logger.Info("Sentiment analysis complete",
		zap.String("job_id", jobID),
		zap.Int("targets", len(targets)),
		zap.Int("analyzed", analyzed))

	return analyzed, nil
}

package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
	"github.com/ekaya-inc/comment-insights/pkg/database"
	"github.com/ekaya-inc/comment-insights/pkg/models"
)

// CommentInsightRepository defines the interface for comment/insight links.
type CommentInsightRepository interface {
	// Create inserts a link and fills in its id and timestamps.
	Create(ctx context.Context, ci *models.CommentInsight) error

	// GetTargets re-reads the given links joined with their insight names,
	// ordered by id.
	GetTargets(ctx context.Context, ids []int64) ([]*models.CommentInsightTarget, error)

	// UpdateSentiment writes sentiment analysis output onto a link.
	// Returns apperrors.ErrNotFound if the link does not exist.
	UpdateSentiment(ctx context.Context, id int64, update models.SentimentUpdate) error

	// ListByComment returns every link for a comment, oldest first.
	ListByComment(ctx context.Context, commentID uuid.UUID) ([]*models.CommentInsight, error)
}

type commentInsightRepository struct{}

// NewCommentInsightRepository creates a new comment insight repository.
func NewCommentInsightRepository() CommentInsightRepository {
	return &commentInsightRepository{}
}

func (r *commentInsightRepository) Create(ctx context.Context, ci *models.CommentInsight) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	drivers := ci.EmotionalDrivers
	if drivers == nil {
		drivers = []string{}
	}

	query := `
		INSERT INTO comment_insights (comment_id, insight_id, confidence, detected_by, reasoning, emotional_drivers)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := q.QueryRow(ctx, query, ci.CommentID, ci.InsightID, ci.Confidence, ci.DetectedBy, ci.Reasoning, drivers).
		Scan(&ci.ID, &ci.CreatedAt, &ci.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create comment insight: %w", err)
	}
	ci.EmotionalDrivers = drivers
	return nil
}

func (r *commentInsightRepository) GetTargets(ctx context.Context, ids []int64) ([]*models.CommentInsightTarget, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ci.id, ci.comment_id, ci.insight_id, i.name
		FROM comment_insights ci
		JOIN insights i ON i.id = ci.insight_id
		WHERE ci.id = ANY($1)
		ORDER BY ci.id`

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get comment insight targets: %w", err)
	}
	defer rows.Close()

	var targets []*models.CommentInsightTarget
	for rows.Next() {
		var t models.CommentInsightTarget
		if err := rows.Scan(&t.ID, &t.CommentID, &t.InsightID, &t.InsightName); err != nil {
			return nil, fmt.Errorf("failed to scan comment insight target: %w", err)
		}
		targets = append(targets, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comment insight targets: %w", err)
	}
	return targets, nil
}

func (r *commentInsightRepository) UpdateSentiment(ctx context.Context, id int64, update models.SentimentUpdate) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	drivers := update.EmotionalDrivers
	if drivers == nil {
		drivers = []string{}
	}

	query := `
		UPDATE comment_insights
		SET sentiment_level_id = $2,
		    sentiment_confidence = $3,
		    emotional_drivers = $4,
		    sentiment_reasoning = $5,
		    updated_at = now()
		WHERE id = $1`

	tag, err := q.Exec(ctx, query, id, update.SentimentLevelID, update.SentimentConfidence, drivers, update.SentimentReasoning)
	if err != nil {
		return fmt.Errorf("failed to update comment insight sentiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *commentInsightRepository) ListByComment(ctx context.Context, commentID uuid.UUID) ([]*models.CommentInsight, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT id, comment_id, insight_id, confidence, detected_by, reasoning,
		       sentiment_level_id, sentiment_confidence, emotional_drivers, sentiment_reasoning,
		       created_at, updated_at
		FROM comment_insights
		WHERE comment_id = $1
		ORDER BY id`

	rows, err := q.Query(ctx, query, commentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comment insights: %w", err)
	}
	defer rows.Close()

	var out []*models.CommentInsight
	for rows.Next() {
		var ci models.CommentInsight
		err := rows.Scan(&ci.ID, &ci.CommentID, &ci.InsightID, &ci.Confidence, &ci.DetectedBy, &ci.Reasoning,
			&ci.SentimentLevelID, &ci.SentimentConfidence, &ci.EmotionalDrivers, &ci.SentimentReasoning,
			&ci.CreatedAt, &ci.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment insight: %w", err)
		}
		out = append(out, &ci)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comment insights: %w", err)
	}
	return out, nil
}

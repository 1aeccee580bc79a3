package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/comment-insights/pkg/database"
	"github.com/ekaya-inc/comment-insights/pkg/models"
)

// CommentIntentionRepository defines the interface for detected intentions.
type CommentIntentionRepository interface {
	// Create inserts a row and fills in its id and creation time.
	Create(ctx context.Context, ci *models.CommentIntention) error

	// ListByComment returns every detected intention for a comment, oldest first.
	ListByComment(ctx context.Context, commentID uuid.UUID) ([]*models.CommentIntention, error)
}

type commentIntentionRepository struct{}

// NewCommentIntentionRepository creates a new comment intention repository.
func NewCommentIntentionRepository() CommentIntentionRepository {
	return &commentIntentionRepository{}
}

func (r *commentIntentionRepository) Create(ctx context.Context, ci *models.CommentIntention) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	secondary := make([]string, len(ci.SecondaryIntentions))
	for i, t := range ci.SecondaryIntentions {
		secondary[i] = string(t)
	}
	factors := ci.ContextFactors
	if factors == nil {
		factors = []string{}
	}

	query := `
		INSERT INTO comment_intentions (comment_id, intention_id, secondary_intentions, confidence, reasoning, context_factors)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := q.QueryRow(ctx, query, ci.CommentID, ci.IntentionID, secondary, ci.Confidence, ci.Reasoning, factors).
		Scan(&ci.ID, &ci.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create comment intention: %w", err)
	}
	return nil
}

func (r *commentIntentionRepository) ListByComment(ctx context.Context, commentID uuid.UUID) ([]*models.CommentIntention, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT id, comment_id, intention_id, secondary_intentions, confidence, reasoning, context_factors, created_at
		FROM comment_intentions
		WHERE comment_id = $1
		ORDER BY id`

	rows, err := q.Query(ctx, query, commentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comment intentions: %w", err)
	}
	defer rows.Close()

	var out []*models.CommentIntention
	for rows.Next() {
		var ci models.CommentIntention
		var secondary []string
		if err := rows.Scan(&ci.ID, &ci.CommentID, &ci.IntentionID, &secondary, &ci.Confidence,
			&ci.Reasoning, &ci.ContextFactors, &ci.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment intention: %w", err)
		}
		for _, s := range secondary {
			ci.SecondaryIntentions = append(ci.SecondaryIntentions, models.IntentionType(s))
		}
		out = append(out, &ci)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comment intentions: %w", err)
	}
	return out, nil
}

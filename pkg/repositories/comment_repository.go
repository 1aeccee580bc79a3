package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/comment-insights/pkg/database"
	"github.com/ekaya-inc/comment-insights/pkg/models"
)

// CommentRepository defines the interface for comment data access.
type CommentRepository interface {
	// Create inserts a comment and fills in its id and timestamps.
	Create(ctx context.Context, comment *models.Comment) error

	// GetByIDs returns the comments with the given ids, in the order requested.
	// Unknown ids are skipped.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Comment, error)

	// List returns comments newest first.
	List(ctx context.Context, limit, offset int) ([]*models.Comment, error)
}

type commentRepository struct{}

// NewCommentRepository creates a new comment repository.
func NewCommentRepository() CommentRepository {
	return &commentRepository{}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	query := `
		INSERT INTO comments (content, source)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`

	err := q.QueryRow(ctx, query, comment.Content, comment.Source).
		Scan(&comment.ID, &comment.CreatedAt, &comment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

func (r *commentRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Comment, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// ORDER BY array_position keeps the caller's ordering, which comment
	// indexes in LLM prompts depend on.
	query := `
		SELECT id, content, source, created_at, updated_at
		FROM comments
		WHERE id = ANY($1::uuid[])
		ORDER BY array_position($1::uuid[], id)`

	rows, err := q.Query(ctx, query, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get comments: %w", err)
	}
	return collectComments(rows)
}

func (r *commentRepository) List(ctx context.Context, limit, offset int) ([]*models.Comment, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT id, content, source, created_at, updated_at
		FROM comments
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	rows, err := q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return collectComments(rows)
}

func collectComments(rows pgx.Rows) ([]*models.Comment, error) {
	defer rows.Close()

	var comments []*models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.Content, &c.Source, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}
	return comments, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

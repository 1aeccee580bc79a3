package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/comment-insights/pkg/database"
	"github.com/ekaya-inc/comment-insights/pkg/models"
)

// IntentionRepository reads the seeded intention taxonomy.
type IntentionRepository interface {
	List(ctx context.Context) ([]*models.Intention, error)
}

// SentimentLevelRepository reads the seeded PIXE scale.
type SentimentLevelRepository interface {
	// List returns levels ordered from most negative to most positive.
	List(ctx context.Context) ([]*models.SentimentLevel, error)
}

type intentionRepository struct{}

// NewIntentionRepository creates a new intention repository.
func NewIntentionRepository() IntentionRepository {
	return &intentionRepository{}
}

func (r *intentionRepository) List(ctx context.Context) ([]*models.Intention, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := q.Query(ctx, `SELECT id, type, name, description FROM intentions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list intentions: %w", err)
	}
	defer rows.Close()

	var intentions []*models.Intention
	for rows.Next() {
		var it models.Intention
		if err := rows.Scan(&it.ID, &it.Type, &it.Name, &it.Description); err != nil {
			return nil, fmt.Errorf("failed to scan intention: %w", err)
		}
		intentions = append(intentions, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intentions: %w", err)
	}
	return intentions, nil
}

type sentimentLevelRepository struct{}

// NewSentimentLevelRepository creates a new sentiment level repository.
func NewSentimentLevelRepository() SentimentLevelRepository {
	return &sentimentLevelRepository{}
}

func (r *sentimentLevelRepository) List(ctx context.Context) ([]*models.SentimentLevel, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT id, level, name, description, severity, intensity_value
		FROM sentiment_levels
		ORDER BY intensity_value`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sentiment levels: %w", err)
	}
	defer rows.Close()

	var levels []*models.SentimentLevel
	for rows.Next() {
		var l models.SentimentLevel
		if err := rows.Scan(&l.ID, &l.Level, &l.Name, &l.Description, &l.Severity, &l.IntensityValue); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment level: %w", err)
		}
		levels = append(levels, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sentiment levels: %w", err)
	}
	return levels, nil
}

package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
	"github.com/ekaya-inc/comment-insights/pkg/database"
	"github.com/ekaya-inc/comment-insights/pkg/models"
)

// InsightRepository defines the interface for insight data access.
type InsightRepository interface {
	// List returns every insight ordered by name.
	List(ctx context.Context) ([]*models.Insight, error)

	// GetByName looks up an insight by normalized name.
	// Returns apperrors.ErrNotFound if absent.
	GetByName(ctx context.Context, name string) (*models.Insight, error)

	// Upsert inserts the insight, or refreshes the content of the existing
	// insight with the same normalized name. The stored row is returned.
	Upsert(ctx context.Context, insight *models.Insight) (*models.Insight, error)
}

type insightRepository struct{}

// NewInsightRepository creates a new insight repository.
func NewInsightRepository() InsightRepository {
	return &insightRepository{}
}

const insightColumns = `id, name, content, business_unit, operational_area, ai_generated, created_at, updated_at`

func (r *insightRepository) List(ctx context.Context) ([]*models.Insight, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := q.Query(ctx, `SELECT `+insightColumns+` FROM insights ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	defer rows.Close()

	var insights []*models.Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating insights: %w", err)
	}
	return insights, nil
}

func (r *insightRepository) GetByName(ctx context.Context, name string) (*models.Insight, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	row := q.QueryRow(ctx, `SELECT `+insightColumns+` FROM insights WHERE name = $1`, models.NormalizeInsightName(name))
	ins, err := scanInsight(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return ins, nil
}

func (r *insightRepository) Upsert(ctx context.Context, insight *models.Insight) (*models.Insight, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	name := models.NormalizeInsightName(insight.Name)
	if name == "" {
		return nil, fmt.Errorf("insight name is empty: %w", apperrors.ErrInvalidInput)
	}

	query := `
		INSERT INTO insights (name, content, business_unit, operational_area, ai_generated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET content = EXCLUDED.content, updated_at = now()
		RETURNING ` + insightColumns

	row := q.QueryRow(ctx, query, name, insight.Content, insight.BusinessUnit, insight.OperationalArea, insight.AIGenerated)
	return scanInsight(row)
}

func scanInsight(row pgx.Row) (*models.Insight, error) {
	var ins models.Insight
	err := row.Scan(&ins.ID, &ins.Name, &ins.Content, &ins.BusinessUnit, &ins.OperationalArea,
		&ins.AIGenerated, &ins.CreatedAt, &ins.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan insight: %w", err)
	}
	return &ins, nil
}

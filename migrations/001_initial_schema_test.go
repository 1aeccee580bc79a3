//go:build integration

package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/comment-insights/pkg/testhelpers"
)

// Test_001_InitialSchema verifies migration 001 creates every table.
func Test_001_InitialSchema(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	for _, table := range []string{
		"comments", "insights", "intentions", "sentiment_levels",
		"comment_insights", "comment_intentions", "agent_processing_logs",
	} {
		var exists bool
		err := testDB.DB.Pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}
}

// Test_001_InsightNameMustBeNormalized verifies the check constraint on insights.name.
func Test_001_InsightNameMustBeNormalized(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)

	_, err := testDB.DB.Pool.Exec(context.Background(),
		`INSERT INTO insights (name, content) VALUES ('Not Normalized', '')`)
	assert.Error(t, err)
}

// Test_002_SeedReferenceData verifies the PIXE scale is seeded in intensity order.
func Test_002_SeedReferenceData(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)

	rows, err := testDB.DB.Pool.Query(context.Background(),
		`SELECT level FROM sentiment_levels ORDER BY intensity_value`)
	require.NoError(t, err)
	defer rows.Close()

	var levels []string
	for rows.Next() {
		var l string
		require.NoError(t, rows.Scan(&l))
		levels = append(levels, l)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []string{
		"fury", "anger", "frustration", "disappointment", "annoyance", "concern",
		"confusion", "impatience", "neutral", "satisfaction", "gratitude",
	}, levels)
}

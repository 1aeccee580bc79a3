package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schemaFixture struct {
	Results []struct {
		CommentIndex int      `json:"commentIndex"`
		Kind         string   `json:"kind" jsonschema:"enum=alpha,enum=beta"`
		Tags         []string `json:"tags"`
	} `json:"results"`
	Summary string `json:"summary"`
}

func TestSchemaFor_ClosedObjectsWithSortedRequired(t *testing.T) {
	schema, err := SchemaFor(&schemaFixture{})
	require.NoError(t, err)

	assert.NotContains(t, schema, "$schema")
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Equal(t, []string{"results", "summary"}, schema["required"])

	results := schema["properties"].(map[string]any)["results"].(map[string]any)
	item := results["items"].(map[string]any)
	assert.Equal(t, false, item["additionalProperties"])
	assert.Equal(t, []string{"commentIndex", "kind", "tags"}, item["required"])

	kind := item["properties"].(map[string]any)["kind"].(map[string]any)
	assert.ElementsMatch(t, []any{"alpha", "beta"}, kind["enum"])
}

func TestSchemaFor_CachedAndMarshalable(t *testing.T) {
	a, err := SchemaFor(schemaFixture{})
	require.NoError(t, err)
	b, err := SchemaFor(&schemaFixture{})
	require.NoError(t, err)

	rawA, err := json.Marshal(a)
	require.NoError(t, err)
	rawB, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(rawA), string(rawB))
}

func TestSchemaFor_Nil(t *testing.T) {
	_, err := SchemaFor(nil)
	assert.Error(t, err)
}

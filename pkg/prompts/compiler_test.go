package prompts

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCompile_InsightDetection(t *testing.T) {
	c := NewCompiler(zap.NewNop())

	p, err := c.Compile(InsightDetection, InsightDetectionVars{
		ExistingInsights: []string{"app crashes", "slow sync"},
		Comments:         []string{"App crashes on login", "Love the new widgets"},
	})
	require.NoError(t, err)

	assert.Equal(t, InsightDetection, p.Template)
	assert.Equal(t, 1, p.Version)
	assert.Contains(t, p.System, "LETI")
	assert.Contains(t, p.User, "- app crashes")
	assert.Contains(t, p.User, "[0] App crashes on login")
	assert.Contains(t, p.User, "[1] Love the new widgets")
	assert.NotContains(t, p.User, "(none yet)")
}

func TestCompile_InsightDetectionWithoutKnownInsights(t *testing.T) {
	c := NewCompiler(zap.NewNop())

	p, err := c.Compile(InsightDetection, &InsightDetectionVars{Comments: []string{"hello"}})
	require.NoError(t, err)
	assert.Contains(t, p.User, "(none yet)")
}

func TestCompile_IntentionDetection(t *testing.T) {
	c := NewCompiler(zap.NewNop())

	p, err := c.Compile(IntentionDetection, IntentionDetectionVars{
		Comments:       []string{"How do I export?"},
		IntentionTypes: []string{"inquire", "complain"},
	})
	require.NoError(t, err)
	assert.Contains(t, p.User, "Allowed intention types: inquire, complain")
	assert.Contains(t, p.System, "GRO")
}

func TestCompile_SentimentAnalysis(t *testing.T) {
	c := NewCompiler(zap.NewNop())

	p, err := c.Compile(SentimentAnalysis, SentimentAnalysisVars{
		Pairs: []SentimentPair{{Index: 0, Comment: "App crashes on login", Insight: "app crashes"}},
		Levels: []SentimentLevelInfo{
			{Level: "frustration", Name: "Frustration", Severity: "high", Intensity: -6, Description: "Repeated blocked goals"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, p.User, `[0] insight "app crashes" in comment: App crashes on login`)
	assert.Contains(t, p.User, "- frustration (Frustration, intensity -6, severity high): Repeated blocked goals")
}

func TestCompile_ValidationError(t *testing.T) {
	c := NewCompiler(zap.NewNop())

	_, err := c.Compile(IntentionDetection, IntentionDetectionVars{Comments: []string{"x"}})

	var pErr *PromptValidationError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, IntentionDetection, pErr.Template)
	assert.Contains(t, pErr.Issues[0], "intentionTypes")
	assert.False(t, c.Cached(IntentionDetection), "invalid variables must not load the template")
}

func TestCompile_WrongVariablesType(t *testing.T) {
	c := NewCompiler(zap.NewNop())

	_, err := c.Compile(SentimentAnalysis, InsightDetectionVars{Comments: []string{"x"}})

	var pErr *PromptValidationError
	require.ErrorAs(t, err, &pErr)
	assert.Contains(t, pErr.Error(), "expected prompts.SentimentAnalysisVars")

	_, err = c.Compile(SentimentAnalysis, nil)
	require.ErrorAs(t, err, &pErr)
}

func TestCompile_UnknownTemplate(t *testing.T) {
	c := NewCompiler(zap.NewNop())
	_, err := c.Compile("summarize", nil)
	require.Error(t, err)
}

func TestCompile_CachesByName(t *testing.T) {
	fsys := fstest.MapFS{
		"templates/intention-detection.tmpl": {Data: []byte("---\nname: intention-detection\nversion: 3\nsystem: sys\n---\n{{len .Comments}} comments\n")},
	}
	c := NewCompilerFS(fsys, zap.NewNop())
	vars := IntentionDetectionVars{Comments: []string{"a", "b"}, IntentionTypes: []string{"other"}}

	p, err := c.Compile(IntentionDetection, vars)
	require.NoError(t, err)
	assert.Equal(t, "2 comments", p.User)
	assert.Equal(t, "sys", p.System)
	assert.Equal(t, 3, p.Version)
	assert.True(t, c.Cached(IntentionDetection))

	// Edits to the source are not picked up once compiled.
	fsys["templates/intention-detection.tmpl"] = &fstest.MapFile{Data: []byte("changed")}
	p, err = c.Compile(IntentionDetection, vars)
	require.NoError(t, err)
	assert.Equal(t, "2 comments", p.User)
}

func TestCompile_MismatchedFrontMatterName(t *testing.T) {
	fsys := fstest.MapFS{
		"templates/insight-detection.tmpl": {Data: []byte("---\nname: other\n---\nbody\n")},
	}
	c := NewCompilerFS(fsys, zap.NewNop())

	_, err := c.Compile(InsightDetection, InsightDetectionVars{Comments: []string{"x"}})
	require.Error(t, err)
	assert.False(t, c.Cached(InsightDetection))
}

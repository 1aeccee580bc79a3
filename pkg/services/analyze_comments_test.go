package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
	"github.com/ekaya-inc/comment-insights/pkg/events"
	"github.com/ekaya-inc/comment-insights/pkg/llm"
	"github.com/ekaya-inc/comment-insights/pkg/models"
	"github.com/ekaya-inc/comment-insights/pkg/prompts"
	"github.com/ekaya-inc/comment-insights/pkg/services/workqueue"
)

// scriptedResponses maps a prompt name to the raw model answer.
type scriptedResponses map[prompts.Name]func() (string, error)

func newTestProcessor(t *testing.T, store *analysisStore, responses scriptedResponses) (*AnalyzeCommentsProcessor, *llm.MockGenerator, *events.Recorder) {
	t.Helper()

	gen := llm.NewMockGenerator()
	gen.GenerateObjectFunc = func(_ context.Context, req llm.ObjectRequest) (string, error) {
		if respond, ok := responses[prompts.Name(req.SchemaName)]; ok {
			return respond()
		}
		return `{"results":[]}`, nil
	}

	bus := events.NewBus("test", zap.NewNop())
	t.Cleanup(bus.Close)
	rec := events.NewRecorder(bus)

	deps := store.deps()
	deps.Generator = gen
	deps.Prompts = prompts.NewCompiler(zap.NewNop())
	deps.Bus = bus
	deps.Logger = zap.NewNop()
	deps.Temperature = llm.Float64(0.2)

	return NewAnalyzeCommentsProcessor(deps), gen, rec
}

func respond(raw string) func() (string, error) {
	return func() (string, error) { return raw, nil }
}

func schemaNames(gen *llm.MockGenerator) []string {
	names := make([]string, len(gen.ObjectRequests))
	for i, req := range gen.ObjectRequests {
		names[i] = req.SchemaName
	}
	return names
}

func TestAnalyzeComments_MatchesKnownInsight(t *testing.T) {
	store := newAnalysisStore()
	comment := store.addComment("App crashes on login")
	insight := store.addInsight("app crashes")

	p, gen, rec := newTestProcessor(t, store, scriptedResponses{
		prompts.InsightDetection: respond(`{"results":[{"commentIndex":0,"detectedInsights":[{"insightName":"App Crashes","confidence":9,"reasoning":"says it crashes","isEmergent":false}],"suggestedNewInsights":[]}]}`),
		prompts.IntentionDetection: respond(`{"results":[{"commentIndex":0,"primaryIntention":"complain","secondaryIntentions":["resolve","complain","teleport"],"confidence":8,"reasoning":"reports a defect","contextFactors":["login"]}]}`),
		prompts.SentimentAnalysis: respond(`{"results":[{"pairIndex":0,"insightName":"app crashes","sentimentLevel":"Frustration","confidence":7,"emotionalDrivers":["blocked"],"reasoning":"cannot log in"}]}`),
	})

	result, err := p.Run(context.Background(), "job-1", models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{comment.ID}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ProcessedComments)
	assert.Equal(t, 1, result.MatchedInsights)
	assert.Equal(t, 0, result.CreatedInsights)
	assert.Equal(t, 1, result.DetectedIntentions)
	assert.Equal(t, 1, result.AnalyzedSentiments)
	require.Len(t, result.CommentInsightIDs, 1)
	require.Len(t, result.CommentIntentionIDs, 1)

	snap := store.snapshot()
	require.Len(t, snap.commentInsights, 1)
	link := snap.commentInsights[0]
	assert.Equal(t, comment.ID, link.CommentID)
	assert.Equal(t, insight.ID, link.InsightID)
	assert.Equal(t, 9, link.Confidence)
	assert.Equal(t, models.DetectedByLETI, link.DetectedBy)
	require.NotNil(t, link.Reasoning)
	assert.Equal(t, "says it crashes", *link.Reasoning)
	require.NotNil(t, link.SentimentLevelID)
	assert.Equal(t, store.level(models.SentimentFrustration).ID, *link.SentimentLevelID)
	assert.Equal(t, []string{"blocked"}, link.EmotionalDrivers)

	require.Len(t, snap.commentIntentions, 1)
	intention := snap.commentIntentions[0]
	assert.Equal(t, []models.IntentionType{models.IntentionResolve}, intention.SecondaryIntentions)
	assert.Equal(t, []string{"login"}, intention.ContextFactors)

	assert.Len(t, snap.agentLogs, 3, "one log per agent for the comment")
	for _, log := range snap.agentLogs {
		assert.True(t, log.Success)
		assert.Contains(t, log.Metadata, string(log.AgentName))
	}

	assert.Equal(t, []string{"insight-detection", "intention-detection", "sentiment-analysis"}, schemaNames(gen))
	for _, req := range gen.ObjectRequests {
		require.NotNil(t, req.Temperature)
		assert.InDelta(t, 0.2, *req.Temperature, 1e-9)
	}

	require.True(t, rec.WaitFor(events.JobCompletedEvent.Name(), time.Second))
	names := rec.Names()
	assert.Equal(t, []string{"state:changed", "job:started"}, names[:2])
	assert.Equal(t, []string{"state:changed", "job:completed"}, names[len(names)-2:])
	assert.Contains(t, names, "insight:detected")
	assert.Contains(t, names, "intention:detected")
	assert.Contains(t, names, "sentiment:analyzed")
	assert.NotContains(t, names, "insight:created")
}

func TestAnalyzeComments_StateProgression(t *testing.T) {
	store := newAnalysisStore()
	comment := store.addComment("Checkout is slow")
	p, _, rec := newTestProcessor(t, store, nil)

	_, err := p.Run(context.Background(), "job-states", models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{comment.ID}})
	require.NoError(t, err)
	require.True(t, rec.WaitFor(events.JobCompletedEvent.Name(), time.Second))

	var progress []int
	var states []events.JobState
	for _, env := range rec.Events() {
		if sc, ok := env.Payload.(events.StateChanged); ok {
			progress = append(progress, sc.Progress)
			states = append(states, sc.State)
			assert.Equal(t, "job-states", env.JobID)
		}
	}
	assert.Equal(t, []int{0, 10, 20, 45, 75, 100}, progress)
	assert.Equal(t, events.StateInitializing, states[0])
	assert.Equal(t, events.StateFetchingData, states[1])
	assert.Equal(t, events.StateCompleted, states[len(states)-1])
}

func TestAnalyzeComments_CreatesEmergentInsight(t *testing.T) {
	store := newAnalysisStore()
	comment := store.addComment("Paying takes forever")

	p, _, rec := newTestProcessor(t, store, scriptedResponses{
		prompts.InsightDetection: respond(`{"results":[{"commentIndex":0,"detectedInsights":[{"insightName":"Slow Checkout","confidence":6,"reasoning":"","isEmergent":true}],"suggestedNewInsights":[{"name":"  Slow Checkout ","description":"Checkout takes too long"}]}]}`),
	})

	result, err := p.Run(context.Background(), "job-2", models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{comment.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.CreatedInsights)
	assert.Equal(t, 1, result.MatchedInsights)

	snap := store.snapshot()
	require.Len(t, snap.insights, 1)
	assert.Equal(t, "slow checkout", snap.insights[0].Name)
	assert.True(t, snap.insights[0].AIGenerated)
	require.Len(t, snap.commentInsights, 1)
	assert.Equal(t, snap.insights[0].ID, snap.commentInsights[0].InsightID)
	assert.Nil(t, snap.commentInsights[0].Reasoning)

	require.True(t, rec.WaitFor(events.JobCompletedEvent.Name(), time.Second))
	assert.Contains(t, rec.Names(), "insight:created")
}

func TestAnalyzeComments_SkipsUnmatchedInsight(t *testing.T) {
	store := newAnalysisStore()
	comment := store.addComment("The colors are weird")
	store.addInsight("app crashes")

	p, gen, _ := newTestProcessor(t, store, scriptedResponses{
		prompts.InsightDetection: respond(`{"results":[{"commentIndex":0,"detectedInsights":[{"insightName":"ugly colors","confidence":5,"reasoning":"","isEmergent":false}],"suggestedNewInsights":[]}]}`),
	})

	result, err := p.Run(context.Background(), "job-3", models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{comment.ID}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.MatchedInsights)
	assert.Empty(t, result.CommentInsightIDs)
	assert.Equal(t, 0, result.AnalyzedSentiments)
	assert.Empty(t, store.snapshot().commentInsights)

	// No links means sentiment analysis never calls the model.
	assert.Equal(t, []string{"insight-detection", "intention-detection"}, schemaNames(gen))
}

func TestAnalyzeComments_IgnoresOutOfRangeIndexes(t *testing.T) {
	store := newAnalysisStore()
	comment := store.addComment("Great support")

	p, _, _ := newTestProcessor(t, store, scriptedResponses{
		prompts.IntentionDetection: respond(`{"results":[{"commentIndex":3,"primaryIntention":"praise","secondaryIntentions":[],"confidence":9,"reasoning":"","contextFactors":[]},{"commentIndex":0,"primaryIntention":"dance","secondaryIntentions":[],"confidence":9,"reasoning":"","contextFactors":[]}]}`),
	})

	result, err := p.Run(context.Background(), "job-4", models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{comment.ID}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.DetectedIntentions)
	assert.Empty(t, store.snapshot().commentIntentions)
}

func TestAnalyzeComments_NoObjectIsEmptyResult(t *testing.T) {
	store := newAnalysisStore()
	comment := store.addComment("hmm")

	p, _, rec := newTestProcessor(t, store, scriptedResponses{
		prompts.InsightDetection:   respond("I could not find anything worth reporting."),
		prompts.IntentionDetection: respond(""),
	})

	result, err := p.Run(context.Background(), "job-5", models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{comment.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProcessedComments)
	assert.Equal(t, 0, result.MatchedInsights)
	assert.Equal(t, 0, result.DetectedIntentions)
	assert.True(t, rec.WaitFor(events.JobCompletedEvent.Name(), time.Second))
}

func TestAnalyzeComments_RollsBackOnIntentionFailure(t *testing.T) {
	store := newAnalysisStore()
	comment := store.addComment("App crashes on login")
	store.addInsight("app crashes")

	p, _, rec := newTestProcessor(t, store, scriptedResponses{
		prompts.InsightDetection: respond(`{"results":[{"commentIndex":0,"detectedInsights":[{"insightName":"app crashes","confidence":9,"reasoning":"","isEmergent":false}],"suggestedNewInsights":[{"name":"login issues","description":"Cannot sign in"}]}]}`),
		prompts.IntentionDetection: func() (string, error) {
			return "", &llm.ProviderError{Provider: llm.ProviderOpenAI, Type: llm.ErrorTypeServer, Message: "upstream exploded", Retryable: true}
		},
	})

	result, err := p.Run(context.Background(), "job-6", models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{comment.ID}})
	require.Error(t, err)
	assert.Nil(t, result)

	var jobErr *apperrors.JobError
	require.ErrorAs(t, err, &jobErr)
	require.NotNil(t, jobErr.Record)
	assert.Equal(t, "AnalysisError", jobErr.Record.Name)
	assert.Equal(t, "job-6", jobErr.Record.Context["jobId"])

	var analysisErr *AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, models.AgentGRO, analysisErr.Agent)
	assert.Equal(t, PhaseAIGeneration, analysisErr.Phase)
	assert.True(t, llm.IsRetryable(err))

	snap := store.snapshot()
	assert.Empty(t, snap.commentInsights, "insight links are rolled back")
	assert.Len(t, snap.insights, 1, "suggested insight is rolled back")
	assert.Empty(t, snap.agentLogs)

	require.True(t, rec.WaitFor("job:failed", time.Second))
	evs := rec.Events()
	names := rec.Names()
	assert.NotContains(t, names, "job:completed")
	require.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, "job:failed", names[len(names)-1], "the terminal event comes last")
	assert.Equal(t, "state:changed", names[len(names)-2])
	terminal := evs[len(evs)-2].Payload.(events.StateChanged)
	assert.Equal(t, events.StateFailed, terminal.State)
	assert.Equal(t, 45, terminal.Progress)
}

func TestAnalyzeComments_SchemaMismatchIsParsingError(t *testing.T) {
	store := newAnalysisStore()
	comment := store.addComment("meh")

	p, _, _ := newTestProcessor(t, store, scriptedResponses{
		prompts.InsightDetection: respond(`{"results":[{"commentIndex":0,"detectedInsights":[{"insightName":"x","confidence":11,"reasoning":"","isEmergent":false}],"suggestedNewInsights":[]}]}`),
	})

	_, err := p.Run(context.Background(), "job-7", models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{comment.ID}})
	var analysisErr *AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, models.AgentLETI, analysisErr.Agent)
	assert.Equal(t, PhaseResultParsing, analysisErr.Phase)
}

func TestAnalyzeComments_InsightWriteFailure(t *testing.T) {
	store := newAnalysisStore()
	comment := store.addComment("Where is my refund")
	store.upsertErr = errors.New("connection reset")

	p, _, _ := newTestProcessor(t, store, scriptedResponses{
		prompts.InsightDetection: respond(`{"results":[{"commentIndex":0,"detectedInsights":[],"suggestedNewInsights":[{"name":"Refund delays","description":"Refunds are slow"}]}]}`),
	})

	_, err := p.Run(context.Background(), "job-8", models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{comment.ID}})
	var creationErr *InsightCreationError
	require.ErrorAs(t, err, &creationErr)
	assert.Equal(t, "refund delays", creationErr.InsightName)
	assert.Equal(t, comment.ID, creationErr.CommentID)
}

func TestAnalyzeComments_MissingComments(t *testing.T) {
	store := newAnalysisStore()
	p, gen, _ := newTestProcessor(t, store, nil)

	_, err := p.Run(context.Background(), "job-9", models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{uuid.New()}})
	var fetchErr *DataFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "comments", fetchErr.What)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Zero(t, gen.Calls())
}

func TestAnalyzeComments_ProcessDecodesJob(t *testing.T) {
	store := newAnalysisStore()
	comment := store.addComment("Love the new dashboard")
	p, _, _ := newTestProcessor(t, store, nil)

	data, err := json.Marshal(models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{comment.ID}})
	require.NoError(t, err)

	out, err := p.Process(context.Background(), &workqueue.Job{ID: "42", Queue: AnalyzeCommentsQueue, Name: AnalyzeCommentsJobName, Data: data})
	require.NoError(t, err)
	result, ok := out.(*models.AnalysisResult)
	require.True(t, ok)
	assert.Equal(t, 1, result.ProcessedComments)

	_, err = p.Process(context.Background(), &workqueue.Job{ID: "43", Data: json.RawMessage(`{"commentIds":"nope"}`)})
	assert.Error(t, err)
}

func TestAnalysisErrors_ChainNames(t *testing.T) {
	err := newAnalysisError(models.AgentPIX, PhaseAIGeneration, newSentimentUpdateError(7, apperrors.ErrNotFound))
	chain := apperrors.BuildErrorChain(err)
	require.GreaterOrEqual(t, len(chain), 2)
	assert.Equal(t, "AnalysisError", chain[0].Name)
	assert.Equal(t, "pix:ai_generation", chain[0].Source)
	assert.Equal(t, "SentimentUpdateError", chain[1].Name)
	assert.NotEmpty(t, chain[0].Stack)
}

func TestAnalyzeComments_RepeatedPairRatedOnce(t *testing.T) {
	store := newAnalysisStore()
	comment := store.addComment("Support never answers")
	store.addInsight("slow support")

	p, _, _ := newTestProcessor(t, store, scriptedResponses{
		prompts.InsightDetection: respond(`{"results":[{"commentIndex":0,"detectedInsights":[{"insightName":"slow support","confidence":8,"reasoning":"","isEmergent":false}],"suggestedNewInsights":[]}]}`),
		prompts.SentimentAnalysis: respond(`{"results":[` +
			`{"pairIndex":0,"insightName":"slow support","sentimentLevel":"annoyance","confidence":6,"emotionalDrivers":[],"reasoning":"first"},` +
			`{"pairIndex":0,"insightName":"slow support","sentimentLevel":"fury","confidence":9,"emotionalDrivers":[],"reasoning":"second"}]}`),
	})

	result, err := p.Run(context.Background(), "job-repeat", models.AnalyzeCommentsJob{CommentIDs: []uuid.UUID{comment.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AnalyzedSentiments)

	snap := store.snapshot()
	require.Len(t, snap.commentInsights, 1)
	require.NotNil(t, snap.commentInsights[0].SentimentLevelID)
	assert.Equal(t, store.level(models.SentimentAnnoyance).ID, *snap.commentInsights[0].SentimentLevelID)
	assert.Equal(t, 1, store.sentimentUpdates)
}

func TestAnalyzeSentiment_NoPairsForJobComments(t *testing.T) {
	store := newAnalysisStore()
	elsewhere := store.addComment("Checkout failed twice")
	insight := store.addInsight("checkout errors")
	link := &models.CommentInsight{CommentID: elsewhere.ID, InsightID: insight.ID, Confidence: 7, DetectedBy: models.DetectedByLETI}
	require.NoError(t, (&fakeCommentInsightRepo{s: store}).Create(context.Background(), link))

	p, gen, rec := newTestProcessor(t, store, nil)
	other := store.addComment("Great app")

	analyzed, err := p.analyzeSentiment(context.Background(), "job-nopairs", []*models.Comment{other}, []int64{link.ID})
	require.NoError(t, err)
	assert.Zero(t, analyzed)
	assert.Empty(t, gen.ObjectRequests)

	require.NoError(t, events.Publish(p.deps.Bus, events.JobCompletedEvent, events.JobCompleted{JobRef: events.JobRef{JobID: "job-nopairs"}}))
	require.True(t, rec.WaitFor(events.JobCompletedEvent.Name(), time.Second))
	assert.NotContains(t, rec.Names(), events.PixStartedEvent.Name())
	assert.NotContains(t, rec.Names(), events.PixCompletedEvent.Name())
}

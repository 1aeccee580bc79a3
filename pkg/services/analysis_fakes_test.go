package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/comment-insights/pkg/apperrors"
	"github.com/ekaya-inc/comment-insights/pkg/models"
	"github.com/ekaya-inc/comment-insights/pkg/repositories"
)

// analysisStore is an in-memory stand-in for the analysis tables. WithTx
// snapshots the store and restores it when fn fails, so tests can assert
// all-or-nothing persistence.
type analysisStore struct {
	mu sync.Mutex

	comments          []*models.Comment
	insights          []*models.Insight
	intentions        []*models.Intention
	levels            []*models.SentimentLevel
	commentInsights   []*models.CommentInsight
	commentIntentions []*models.CommentIntention
	agentLogs         map[string]*models.AgentProcessingLog
	nextID            int64
	sentimentUpdates  int

	upsertErr error
}

type analysisSnapshot struct {
	insights          []*models.Insight
	commentInsights   []*models.CommentInsight
	commentIntentions []*models.CommentIntention
	agentLogs         map[string]*models.AgentProcessingLog
}

func newAnalysisStore() *analysisStore {
	s := &analysisStore{agentLogs: make(map[string]*models.AgentProcessingLog), nextID: 100}
	for i, t := range models.AllIntentionTypes {
		s.intentions = append(s.intentions, &models.Intention{ID: int64(i + 1), Type: t, Name: string(t)})
	}
	scale := []struct {
		level     models.SentimentLevelName
		severity  models.Severity
		intensity int
	}{
		{models.SentimentFury, models.SeverityCritical, -8},
		{models.SentimentAnger, models.SeverityCritical, -7},
		{models.SentimentFrustration, models.SeverityHigh, -6},
		{models.SentimentDisappointment, models.SeverityHigh, -5},
		{models.SentimentAnnoyance, models.SeverityMedium, -4},
		{models.SentimentConcern, models.SeverityMedium, -3},
		{models.SentimentConfusion, models.SeverityLow, -2},
		{models.SentimentImpatience, models.SeverityLow, -1},
		{models.SentimentNeutral, models.SeverityNone, 0},
		{models.SentimentSatisfaction, models.SeverityPositive, 1},
		{models.SentimentGratitude, models.SeverityPositive, 2},
	}
	for i, l := range scale {
		s.levels = append(s.levels, &models.SentimentLevel{
			ID:             int64(i + 1),
			Level:          l.level,
			Name:           string(l.level),
			Description:    "feels " + string(l.level),
			Severity:       l.severity,
			IntensityValue: l.intensity,
		})
	}
	return s
}

func (s *analysisStore) addComment(content string) *models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &models.Comment{ID: uuid.New(), Content: content, CreatedAt: time.Now()}
	s.comments = append(s.comments, c)
	return c
}

func (s *analysisStore) addInsight(name string) *models.Insight {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	insight := &models.Insight{ID: s.nextID, Name: models.NormalizeInsightName(name), Content: name}
	s.insights = append(s.insights, insight)
	return insight
}

func (s *analysisStore) level(name models.SentimentLevelName) *models.SentimentLevel {
	for _, l := range s.levels {
		if l.Level == name {
			return l
		}
	}
	return nil
}

func (s *analysisStore) snapshot() analysisSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := make(map[string]*models.AgentProcessingLog, len(s.agentLogs))
	for k, v := range s.agentLogs {
		logs[k] = v
	}
	return analysisSnapshot{
		insights:          append([]*models.Insight(nil), s.insights...),
		commentInsights:   append([]*models.CommentInsight(nil), s.commentInsights...),
		commentIntentions: append([]*models.CommentIntention(nil), s.commentIntentions...),
		agentLogs:         logs,
	}
}

func (s *analysisStore) restore(snap analysisSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = snap.insights
	s.commentInsights = snap.commentInsights
	s.commentIntentions = snap.commentIntentions
	s.agentLogs = snap.agentLogs
}

// WithTx implements Transactor.
func (s *analysisStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *analysisStore) deps() AnalyzeCommentsDeps {
	return AnalyzeCommentsDeps{
		DB:                s,
		Comments:          &fakeCommentRepo{s},
		Insights:          &fakeInsightRepo{s},
		Intentions:        &fakeIntentionRepo{s},
		SentimentLevels:   &fakeSentimentLevelRepo{s},
		CommentInsights:   &fakeCommentInsightRepo{s},
		CommentIntentions: &fakeCommentIntentionRepo{s},
		AgentLogs:         &fakeAgentLogRepo{s},
	}
}

type fakeCommentRepo struct{ s *analysisStore }

func (r *fakeCommentRepo) Create(_ context.Context, c *models.Comment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.ID = uuid.New()
	r.s.comments = append(r.s.comments, c)
	return nil
}

func (r *fakeCommentRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*models.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.Comment{}
	for _, id := range ids {
		for _, c := range r.s.comments {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (r *fakeCommentRepo) List(_ context.Context, limit, offset int) ([]*models.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if offset >= len(r.s.comments) {
		return []*models.Comment{}, nil
	}
	return r.s.comments[offset:min(offset+limit, len(r.s.comments))], nil
}

type fakeInsightRepo struct{ s *analysisStore }

func (r *fakeInsightRepo) List(_ context.Context) ([]*models.Insight, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := append([]*models.Insight(nil), r.s.insights...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeInsightRepo) GetByName(_ context.Context, name string) (*models.Insight, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	name = models.NormalizeInsightName(name)
	for _, insight := range r.s.insights {
		if insight.Name == name {
			return insight, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeInsightRepo) Upsert(_ context.Context, insight *models.Insight) (*models.Insight, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.upsertErr != nil {
		return nil, r.s.upsertErr
	}
	name := models.NormalizeInsightName(insight.Name)
	for i, existing := range r.s.insights {
		if existing.Name == name {
			updated := *existing
			updated.Content = insight.Content
			r.s.insights[i] = &updated
			return &updated, nil
		}
	}
	r.s.nextID++
	stored := *insight
	stored.ID = r.s.nextID
	stored.Name = name
	r.s.insights = append(r.s.insights, &stored)
	return &stored, nil
}

type fakeIntentionRepo struct{ s *analysisStore }

func (r *fakeIntentionRepo) List(_ context.Context) ([]*models.Intention, error) {
	return r.s.intentions, nil
}

type fakeSentimentLevelRepo struct{ s *analysisStore }

func (r *fakeSentimentLevelRepo) List(_ context.Context) ([]*models.SentimentLevel, error) {
	return r.s.levels, nil
}

type fakeCommentInsightRepo struct{ s *analysisStore }

func (r *fakeCommentInsightRepo) Create(_ context.Context, ci *models.CommentInsight) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextID++
	ci.ID = r.s.nextID
	stored := *ci
	r.s.commentInsights = append(r.s.commentInsights, &stored)
	return nil
}

func (r *fakeCommentInsightRepo) GetTargets(_ context.Context, ids []int64) ([]*models.CommentInsightTarget, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := []*models.CommentInsightTarget{}
	for _, ci := range r.s.commentInsights {
		if !want[ci.ID] {
			continue
		}
		target := &models.CommentInsightTarget{ID: ci.ID, CommentID: ci.CommentID, InsightID: ci.InsightID}
		for _, insight := range r.s.insights {
			if insight.ID == ci.InsightID {
				target.InsightName = insight.Name
			}
		}
		out = append(out, target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeCommentInsightRepo) UpdateSentiment(_ context.Context, id int64, update models.SentimentUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sentimentUpdates++
	for i, ci := range r.s.commentInsights {
		if ci.ID != id {
			continue
		}
		updated := *ci
		levelID, confidence, reasoning := update.SentimentLevelID, update.SentimentConfidence, update.SentimentReasoning
		updated.SentimentLevelID = &levelID
		updated.SentimentConfidence = &confidence
		updated.SentimentReasoning = &reasoning
		updated.EmotionalDrivers = update.EmotionalDrivers
		r.s.commentInsights[i] = &updated
		return nil
	}
	return apperrors.ErrNotFound
}

func (r *fakeCommentInsightRepo) ListByComment(_ context.Context, commentID uuid.UUID) ([]*models.CommentInsight, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.CommentInsight{}
	for _, ci := range r.s.commentInsights {
		if ci.CommentID == commentID {
			out = append(out, ci)
		}
	}
	return out, nil
}

type fakeCommentIntentionRepo struct{ s *analysisStore }

func (r *fakeCommentIntentionRepo) Create(_ context.Context, ci *models.CommentIntention) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextID++
	ci.ID = r.s.nextID
	stored := *ci
	r.s.commentIntentions = append(r.s.commentIntentions, &stored)
	return nil
}

func (r *fakeCommentIntentionRepo) ListByComment(_ context.Context, commentID uuid.UUID) ([]*models.CommentIntention, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.CommentIntention{}
	for _, ci := range r.s.commentIntentions {
		if ci.CommentID == commentID {
			out = append(out, ci)
		}
	}
	return out, nil
}

type fakeAgentLogRepo struct{ s *analysisStore }

func (r *fakeAgentLogRepo) Upsert(_ context.Context, log *models.AgentProcessingLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := fmt.Sprintf("%s/%s/%s", log.JobID, log.CommentID, log.AgentName)
	stored := *log
	r.s.agentLogs[key] = &stored
	return nil
}

func (r *fakeAgentLogRepo) ListByJob(_ context.Context, jobID string) ([]*models.AgentProcessingLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*models.AgentProcessingLog{}
	for _, log := range r.s.agentLogs {
		if log.JobID == jobID {
			out = append(out, log)
		}
	}
	return out, nil
}

var (
	_ repositories.CommentRepository          = (*fakeCommentRepo)(nil)
	_ repositories.InsightRepository          = (*fakeInsightRepo)(nil)
	_ repositories.IntentionRepository        = (*fakeIntentionRepo)(nil)
	_ repositories.SentimentLevelRepository   = (*fakeSentimentLevelRepo)(nil)
	_ repositories.CommentInsightRepository   = (*fakeCommentInsightRepo)(nil)
	_ repositories.CommentIntentionRepository = (*fakeCommentIntentionRepo)(nil)
	_ repositories.AgentLogRepository         = (*fakeAgentLogRepo)(nil)
)

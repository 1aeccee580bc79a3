package app

import "github.com/ekaya-inc/comment-insights/pkg/repositories"

// Repos holds one instance of every repository. Repositories are stateless;
// the database scope travels in the request or job context.
type Repos struct {
	Comments          repositories.CommentRepository
	Insights          repositories.InsightRepository
	Intentions        repositories.IntentionRepository
	SentimentLevels   repositories.SentimentLevelRepository
	CommentInsights   repositories.CommentInsightRepository
	CommentIntentions repositories.CommentIntentionRepository
	AgentLogs         repositories.AgentLogRepository
}

func wireRepos() Repos {
	return Repos{
		Comments:          repositories.NewCommentRepository(),
		Insights:          repositories.NewInsightRepository(),
		Intentions:        repositories.NewIntentionRepository(),
		SentimentLevels:   repositories.NewSentimentLevelRepository(),
		CommentInsights:   repositories.NewCommentInsightRepository(),
		CommentIntentions: repositories.NewCommentIntentionRepository(),
		AgentLogs:         repositories.NewAgentLogRepository(),
	}
}

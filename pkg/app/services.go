package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/config"
	"github.com/ekaya-inc/comment-insights/pkg/database"
	"github.com/ekaya-inc/comment-insights/pkg/events"
	"github.com/ekaya-inc/comment-insights/pkg/llm"
	"github.com/ekaya-inc/comment-insights/pkg/prompts"
	"github.com/ekaya-inc/comment-insights/pkg/services"
	"github.com/ekaya-inc/comment-insights/pkg/services/workqueue"
)

// Services holds the long-lived service objects shared by the HTTP server
// and the worker.
type Services struct {
	LLM          *llm.Client
	Prompts      *prompts.Compiler
	AnalyzeQueue *workqueue.Queue
	Analysis     services.AnalysisService
	Processor    *services.AnalyzeCommentsProcessor
}

func wireServices(
	cfg *config.Config,
	db *database.DB,
	bus *events.Bus,
	queues *workqueue.Manager,
	repos Repos,
	logger *zap.Logger,
) (Services, error) {
	client, err := llm.NewClient(&llm.Config{
		OpenAIAPIKey:     cfg.LLM.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.LLM.OpenAIBaseURL,
		AnthropicAPIKey:  cfg.LLM.AnthropicAPIKey,
		AnthropicBaseURL: cfg.LLM.AnthropicBaseURL,
		DefaultProvider:  llm.Provider(cfg.LLM.Provider),
		DefaultTier:      llm.PerformanceTier(cfg.LLM.PerformanceTier),
	}, logger)
	if err != nil {
		return Services{}, fmt.Errorf("init llm client: %w", err)
	}

	compiler := prompts.NewCompiler(logger)
	queue := queues.CreateQueue(services.AnalyzeCommentsQueue)
	temperature := cfg.LLM.Temperature

	processor := services.NewAnalyzeCommentsProcessor(services.AnalyzeCommentsDeps{
		DB:                db,
		Comments:          repos.Comments,
		Insights:          repos.Insights,
		Intentions:        repos.Intentions,
		SentimentLevels:   repos.SentimentLevels,
		CommentInsights:   repos.CommentInsights,
		CommentIntentions: repos.CommentIntentions,
		AgentLogs:         repos.AgentLogs,
		Generator:         client,
		Prompts:           compiler,
		Bus:               bus,
		Logger:            logger,
		Provider:          llm.Provider(cfg.LLM.Provider),
		Tier:              llm.PerformanceTier(cfg.LLM.PerformanceTier),
		Temperature:       &temperature,
	})

	return Services{
		LLM:          client,
		Prompts:      compiler,
		AnalyzeQueue: queue,
		Analysis:     services.NewAnalysisService(queue, cfg.Queue.BatchSize, logger),
		Processor:    processor,
	}, nil
}

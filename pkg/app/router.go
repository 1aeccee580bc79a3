package app

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/auth"
	"github.com/ekaya-inc/comment-insights/pkg/config"
	"github.com/ekaya-inc/comment-insights/pkg/database"
	"github.com/ekaya-inc/comment-insights/pkg/handlers"
	"github.com/ekaya-inc/comment-insights/pkg/middleware"
	"github.com/ekaya-inc/comment-insights/pkg/realtime"
)

// newAuthMiddleware returns a middleware that checks bearer tokens when
// verification is enabled and passes every request through otherwise.
func newAuthMiddleware(cfg *config.AuthConfig, logger *zap.Logger) (*auth.Middleware, error) {
	if !cfg.EnableVerification {
		logger.Warn("API authentication disabled")
		return auth.NewMiddleware(nil, logger), nil
	}
	validator, err := auth.NewHMACValidator(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("init token validator: %w", err)
	}
	return auth.NewMiddleware(auth.NewAuthService(validator, logger), logger), nil
}

func wireRouter(
	cfg *config.Config,
	db *database.DB,
	hub *realtime.Hub,
	svcs Services,
	repos Repos,
	authMiddleware *auth.Middleware,
	logger *zap.Logger,
) http.Handler {
	mux := http.NewServeMux()
	scope := handlers.ScopeMiddleware(database.WithScopeContext(db))

	handlers.NewHealthHandler(cfg, hub, logger).RegisterRoutes(mux)
	handlers.NewCommentsHandler(repos.Comments, repos.CommentInsights, repos.CommentIntentions, logger).
		RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewInsightsHandler(repos.Insights, logger).
		RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewAnalysisHandler(svcs.Analysis, svcs.AnalyzeQueue, repos.AgentLogs, logger).
		RegisterRoutes(mux, authMiddleware, scope)

	// Browsers cannot set headers on a WebSocket handshake, so the token
	// may also arrive as ?token=.
	mux.HandleFunc("GET /ws", authMiddleware.RequireAuth(hub.HandleWS))

	return middleware.RequestLogger(logger)(mux)
}

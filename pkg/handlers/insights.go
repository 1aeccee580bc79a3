package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/auth"
	"github.com/ekaya-inc/comment-insights/pkg/models"
	"github.com/ekaya-inc/comment-insights/pkg/repositories"
)

// InsightListResponse for GET /api/insights
type InsightListResponse struct {
	Insights []*models.Insight `json:"insights"`
	Total    int               `json:"total"`
}

// InsightsHandler serves the insight catalogue.
type InsightsHandler struct {
	insights repositories.InsightRepository
	logger   *zap.Logger
}

// NewInsightsHandler creates a new insights handler.
func NewInsightsHandler(insights repositories.InsightRepository, logger *zap.Logger) *InsightsHandler {
	return &InsightsHandler{insights: insights, logger: logger}
}

// RegisterRoutes registers the insight routes on the given mux.
func (h *InsightsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/insights", authMiddleware.RequireAuth(scope(h.List)))
}

// List handles GET /api/insights
func (h *InsightsHandler) List(w http.ResponseWriter, r *http.Request) {
	insights, err := h.insights.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list insights", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "list_insights_failed", err.Error())
		return
	}

	writeData(w, h.logger, http.StatusOK, InsightListResponse{Insights: insights, Total: len(insights)})
}

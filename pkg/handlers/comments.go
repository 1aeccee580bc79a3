package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/auth"
	"github.com/ekaya-inc/comment-insights/pkg/models"
	"github.com/ekaya-inc/comment-insights/pkg/repositories"
	"github.com/ekaya-inc/comment-insights/pkg/validation"
)

// CreateCommentRequest for POST /api/comments
type CreateCommentRequest struct {
	Content string  `json:"content" validate:"required"`
	Source  *string `json:"source,omitempty"`
}

// CommentListResponse for GET /api/comments
type CommentListResponse struct {
	Comments []*models.Comment `json:"comments"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// CommentAnalysisResponse for GET /api/comments/{cid}/analysis
type CommentAnalysisResponse struct {
	Insights   []*models.CommentInsight   `json:"insights"`
	Intentions []*models.CommentIntention `json:"intentions"`
}

// CommentsHandler handles comment HTTP requests.
type CommentsHandler struct {
	comments          repositories.CommentRepository
	commentInsights   repositories.CommentInsightRepository
	commentIntentions repositories.CommentIntentionRepository
	logger            *zap.Logger
}

// NewCommentsHandler creates a new comments handler.
func NewCommentsHandler(
	comments repositories.CommentRepository,
	commentInsights repositories.CommentInsightRepository,
	commentIntentions repositories.CommentIntentionRepository,
	logger *zap.Logger,
) *CommentsHandler {
	return &CommentsHandler{
		comments:          comments,
		commentInsights:   commentInsights,
		commentIntentions: commentIntentions,
		logger:            logger,
	}
}

// RegisterRoutes registers the comment routes on the given mux.
func (h *CommentsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/comments", authMiddleware.RequireAuth(scope(h.Create)))
	mux.HandleFunc("GET /api/comments", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("GET /api/comments/{cid}/analysis", authMiddleware.RequireAuth(scope(h.Analysis)))
}

// Create handles POST /api/comments
func (h *CommentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if err := validation.Struct(req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", strings.Join(validation.Issues(err), "; "))
		return
	}

	comment := &models.Comment{Content: req.Content, Source: req.Source}
	if err := h.comments.Create(r.Context(), comment); err != nil {
		h.logger.Error("Failed to create comment", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "create_comment_failed", err.Error())
		return
	}

	writeData(w, h.logger, http.StatusCreated, comment)
}

// List handles GET /api/comments
func (h *CommentsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := ParsePagination(w, r, h.logger)
	if !ok {
		return
	}

	comments, err := h.comments.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list comments", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "list_comments_failed", err.Error())
		return
	}

	writeData(w, h.logger, http.StatusOK, CommentListResponse{Comments: comments, Limit: limit, Offset: offset})
}

// Analysis handles GET /api/comments/{cid}/analysis
func (h *CommentsHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	commentID, ok := ParseCommentID(w, r, h.logger)
	if !ok {
		return
	}

	insights, err := h.commentInsights.ListByComment(r.Context(), commentID)
	if err != nil {
		h.logger.Error("Failed to list comment insights",
			zap.String("comment_id", commentID.String()),
			zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "get_comment_analysis_failed", err.Error())
		return
	}
	intentions, err := h.commentIntentions.ListByComment(r.Context(), commentID)
	if err != nil {
		h.logger.Error("Failed to list comment intentions",
			zap.String("comment_id", commentID.String()),
			zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "get_comment_analysis_failed", err.Error())
		return
	}

	writeData(w, h.logger, http.StatusOK, CommentAnalysisResponse{Insights: insights, Intentions: intentions})
}

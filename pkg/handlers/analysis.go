package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/comment-insights/pkg/auth"
	"github.com/ekaya-inc/comment-insights/pkg/models"
	"github.com/ekaya-inc/comment-insights/pkg/repositories"
	"github.com/ekaya-inc/comment-insights/pkg/services"
	"github.com/ekaya-inc/comment-insights/pkg/services/workqueue"
	"github.com/ekaya-inc/comment-insights/pkg/validation"
)

// SubmitBatchRequest for POST /api/analysis/batch
type SubmitBatchRequest struct {
	CommentIDs []uuid.UUID    `json:"commentIds" validate:"min=1"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// JobLogsResponse for GET /api/jobs/{id}/logs
type JobLogsResponse struct {
	JobID string                       `json:"jobId"`
	Logs  []*models.AgentProcessingLog `json:"logs"`
}

// AnalysisHandler submits analysis batches and reports on their jobs.
type AnalysisHandler struct {
	analysis  services.AnalysisService
	queue     *workqueue.Queue
	agentLogs repositories.AgentLogRepository
	logger    *zap.Logger
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(
	analysis services.AnalysisService,
	queue *workqueue.Queue,
	agentLogs repositories.AgentLogRepository,
	logger *zap.Logger,
) *AnalysisHandler {
	return &AnalysisHandler{
		analysis:  analysis,
		queue:     queue,
		agentLogs: agentLogs,
		logger:    logger,
	}
}

// RegisterRoutes registers the analysis routes on the given mux.
func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/analysis/batch", authMiddleware.RequireAuth(h.SubmitBatch))
	mux.HandleFunc("GET /api/jobs", authMiddleware.RequireAuth(h.Counts))
	mux.HandleFunc("GET /api/jobs/{id}", authMiddleware.RequireAuth(h.GetJob))
	mux.HandleFunc("GET /api/jobs/{id}/logs", authMiddleware.RequireAuth(scope(h.JobLogs)))
}

// SubmitBatch handles POST /api/analysis/batch. It only reports whether the
// jobs were queued; analysis outcomes arrive as events.
func (h *AnalysisHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "validation_error", strings.Join(validation.Issues(err), "; "))
		return
	}

	sub, err := h.analysis.SubmitBatch(r.Context(), req.CommentIDs, req.Metadata)
	if err != nil {
		if errors.Is(err, services.ErrEmptyBatch) {
			writeError(w, h.logger, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		h.logger.Error("Failed to submit analysis batch",
			zap.Int("comment_count", len(req.CommentIDs)),
			zap.Error(err))
		writeError(w, h.logger, http.StatusServiceUnavailable, "submit_batch_failed", err.Error())
		return
	}

	writeData(w, h.logger, http.StatusAccepted, sub)
}

// Counts handles GET /api/jobs
func (h *AnalysisHandler) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Counts(r.Context())
	if err != nil {
		h.logger.Error("Failed to read queue counts", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "queue_counts_failed", err.Error())
		return
	}
	writeData(w, h.logger, http.StatusOK, counts)
}

// GetJob handles GET /api/jobs/{id}
func (h *AnalysisHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := h.queue.Get(r.Context(), jobID)
	if err != nil {
		if workqueue.IsNotFound(err) {
			writeError(w, h.logger, http.StatusNotFound, "job_not_found", "Job not found")
			return
		}
		h.logger.Error("Failed to get job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "get_job_failed", err.Error())
		return
	}

	writeData(w, h.logger, http.StatusOK, job)
}

// JobLogs handles GET /api/jobs/{id}/logs
func (h *AnalysisHandler) JobLogs(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	logs, err := h.agentLogs.ListByJob(r.Context(), jobID)
	if err != nil {
		h.logger.Error("Failed to list agent logs", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "get_job_logs_failed", err.Error())
		return
	}

	writeData(w, h.logger, http.StatusOK, JobLogsResponse{JobID: jobID, Logs: logs})
}

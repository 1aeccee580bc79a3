package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ekaya-inc/comment-insights/pkg/database"
	"github.com/ekaya-inc/comment-insights/pkg/models"
)

// AgentLogRepository defines the interface for the agent processing audit log.
type AgentLogRepository interface {
	// Upsert writes the log row for (job, comment, agent), replacing any
	// row a previous attempt of the same job left behind.
	Upsert(ctx context.Context, log *models.AgentProcessingLog) error

	// ListByJob returns the rows for a job ordered by creation time.
	ListByJob(ctx context.Context, jobID string) ([]*models.AgentProcessingLog, error)
}

type agentLogRepository struct{}

// NewAgentLogRepository creates a new agent log repository.
func NewAgentLogRepository() AgentLogRepository {
	return &agentLogRepository{}
}

func (r *agentLogRepository) Upsert(ctx context.Context, log *models.AgentProcessingLog) error {
	q, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}

	metadata := log.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal agent log metadata: %w", err)
	}

	query := `
		INSERT INTO agent_processing_logs
			(job_id, comment_id, agent_name, processing_time_ms, success, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, comment_id, agent_name) DO UPDATE
		SET processing_time_ms = EXCLUDED.processing_time_ms,
		    success = EXCLUDED.success,
		    error_message = EXCLUDED.error_message,
		    metadata = EXCLUDED.metadata,
		    updated_at = now()
		RETURNING id, created_at, updated_at`

	err = q.QueryRow(ctx, query, log.JobID, log.CommentID, string(log.AgentName), log.ProcessingTimeMs,
		log.Success, log.ErrorMessage, metadataJSON).
		Scan(&log.ID, &log.CreatedAt, &log.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert agent processing log: %w", err)
	}
	return nil
}

func (r *agentLogRepository) ListByJob(ctx context.Context, jobID string) ([]*models.AgentProcessingLog, error) {
	q, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `
		SELECT id, job_id, comment_id, agent_name, processing_time_ms, success, error_message, metadata,
		       created_at, updated_at
		FROM agent_processing_logs
		WHERE job_id = $1
		ORDER BY created_at, id`

	rows, err := q.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent processing logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AgentProcessingLog
	for rows.Next() {
		var l models.AgentProcessingLog
		var metadataJSON []byte
		if err := rows.Scan(&l.ID, &l.JobID, &l.CommentID, &l.AgentName, &l.ProcessingTimeMs, &l.Success,
			&l.ErrorMessage, &metadataJSON, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent processing log: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &l.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal agent log metadata: %w", err)
			}
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent processing logs: %w", err)
	}
	return logs, nil
}

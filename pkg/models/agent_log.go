package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentName identifies one of the three analysis phases.
type AgentName string

const (
	AgentLETI AgentName = "leti" // insight detection
	AgentGRO  AgentName = "gro"  // intention detection
	AgentPIX  AgentName = "pix"  // sentiment analysis
)

// AgentProcessingLog is the per job, comment and agent audit row. Writes are
// upserts keyed on (job_id, comment_id, agent_name) so retries overwrite.
type AgentProcessingLog struct {
	ID               int64          `json:"id"`
	JobID            string         `json:"job_id"`
	CommentID        uuid.UUID      `json:"comment_id"`
	AgentName        AgentName      `json:"agent_name"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	Success          bool           `json:"success"`
	ErrorMessage     *string        `json:"error_message,omitempty"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

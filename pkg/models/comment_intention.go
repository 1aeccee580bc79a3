package models

import (
	"time"

	"github.com/google/uuid"
)

// CommentIntention records the primary intention detected for a comment.
type CommentIntention struct {
	ID                  int64           `json:"id"`
	CommentID           uuid.UUID       `json:"comment_id"`
	IntentionID         int64           `json:"intention_id"`
	SecondaryIntentions []IntentionType `json:"secondary_intentions"`
	Confidence          int             `json:"confidence"`
	Reasoning           string          `json:"reasoning"`
	ContextFactors      []string        `json:"context_factors"`
	CreatedAt           time.Time       `json:"created_at"`
}

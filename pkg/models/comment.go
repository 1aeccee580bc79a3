package models

import (
	"time"

	"github.com/google/uuid"
)

// Comment is a free-text customer comment submitted through the API.
type Comment struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Source    *string   `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

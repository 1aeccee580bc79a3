package models

import (
	"strings"
	"time"
)

// Insight is a named recurring theme. Names are unique after normalization.
type Insight struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Content         string    `json:"content"`
	BusinessUnit    *string   `json:"business_unit,omitempty"`
	OperationalArea *string   `json:"operational_area,omitempty"`
	AIGenerated     bool      `json:"ai_generated"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NormalizeInsightName returns the canonical form used for storage and lookups.
func NormalizeInsightName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

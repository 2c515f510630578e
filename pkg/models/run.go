package models

import "time"

// RunMetadata describes a run directory without parsing its journal.
type RunMetadata struct {
	ID         string     `json:"id"`
	CreatedAt  *time.Time `json:"created_at"`
	EventCount int        `json:"event_count"`
}

// EventPage is a slice of raw journal records.
type EventPage struct {
	RunID  string                   `json:"run_id"`
	Events []map[string]interface{} `json:"events"`
	Offset int                      `json:"offset"`
	Limit  int                      `json:"limit"`
	Total  int                      `json:"total"`
}

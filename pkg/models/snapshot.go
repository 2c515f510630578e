package models

import "time"

// Agent is a scanning agent seen in the journal.
type Agent struct {
	ID        string                 `json:"id"`
	Label     string                 `json:"label"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
	Meta      map[string]interface{} `json:"meta"`
}

// Asset is a target (URL, path or host) touched during a run.
type Asset struct {
	ID        string                 `json:"id"`
	Label     string                 `json:"label"`
	URL       string                 `json:"url"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
	Meta      map[string]interface{} `json:"meta"`
}

// Finding is a reported vulnerability.
type Finding struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id,omitempty"`
	AssetID     string    `json:"asset_id,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	TS          time.Time `json:"ts"`
}

// Edge is a directed relation between two nodes. Its identity is
// (Source, Target, Relation).
type Edge struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
	Label    string `json:"label,omitempty"`
}

// ToolCallEntry is one entry of a run's tool-call history.
type ToolCallEntry struct {
	ID            string                 `json:"id"`
	TS            time.Time              `json:"ts"`
	AgentID       string                 `json:"agent_id,omitempty"`
	Tool          string                 `json:"tool,omitempty"`
	Target        string                 `json:"target,omitempty"`
	Status        string                 `json:"status,omitempty"`
	Summary       string                 `json:"summary,omitempty"`
	Args          map[string]interface{} `json:"args"`
	ResultSummary string                 `json:"result_summary,omitempty"`
}

// Snapshot is the graph view materialized from a run's journal.
type Snapshot struct {
	RunID           string          `json:"run_id"`
	Agents          []Agent         `json:"agents"`
	Assets          []Asset         `json:"assets"`
	Vulnerabilities []Finding       `json:"vulnerabilities"`
	Edges           []Edge          `json:"edges"`
	ToolCalls       []ToolCallEntry `json:"tool_calls"`
	LastEventTS     *time.Time      `json:"last_event_ts"`
}

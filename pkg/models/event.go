package models

import (
	"fmt"
	"strconv"
	"time"
)

// Kind is the closed set of journal record types the graph understands.
type Kind string

const (
	KindAgentStep Kind = "agent_step"
	KindVulnFound Kind = "vuln_found"
	KindToolCall  Kind = "mcp_tool_call"
	KindScanStart Kind = "scan_start"
	KindEvent     Kind = "event"
)

// ParseKind maps a record type to its Kind. Unrecognized types map to KindEvent.
func ParseKind(recordType string) Kind {
	switch Kind(recordType) {
	case KindAgentStep, KindVulnFound, KindToolCall, KindScanStart:
		return Kind(recordType)
	default:
		return KindEvent
	}
}

// Payload is the typed body of a journal record.
type Payload interface {
	// EventType is the value written to the record's "type" field.
	EventType() string
	// Subject returns the agent id and target carried by the record, if any.
	Subject() (agentID, target string)
}

// Event is one parsed journal line.
type Event struct {
	TS      time.Time
	Type    string
	Payload Payload

	// Raw is the decoded JSON object, passed through untouched to event pages and streams.
	Raw map[string]interface{} `json:"-"`
}

// Kind returns the record's Kind.
func (e *Event) Kind() Kind {
	return ParseKind(e.Type)
}

// AgentStep records an agent lifecycle change or an action against a target.
type AgentStep struct {
	AgentID string                 `json:"agent_id,omitempty"`
	Target  string                 `json:"target,omitempty"`
	Action  string                 `json:"action,omitempty"`
	Tool    string                 `json:"tool,omitempty"`
	Status  string                 `json:"status,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

func (p *AgentStep) EventType() string         { return string(KindAgentStep) }
func (p *AgentStep) Subject() (string, string) { return p.AgentID, p.Target }

// VulnFound records a finding reported by an agent.
type VulnFound struct {
	AgentID     string `json:"agent_id,omitempty"`
	Target      string `json:"target,omitempty"`
	VulnID      string `json:"vuln_id,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
}

func (p *VulnFound) EventType() string         { return string(KindVulnFound) }
func (p *VulnFound) Subject() (string, string) { return p.AgentID, p.Target }

// ToolCall records one tool invocation report. A call reported at start and at
// completion produces two records.
type ToolCall struct {
	AgentID       string                 `json:"agent_id,omitempty"`
	Target        string                 `json:"target,omitempty"`
	Tool          string                 `json:"tool,omitempty"`
	Status        string                 `json:"status,omitempty"`
	Args          map[string]interface{} `json:"args,omitempty"`
	ResultSummary string                 `json:"result_summary,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
}

func (p *ToolCall) EventType() string         { return string(KindToolCall) }
func (p *ToolCall) Subject() (string, string) { return p.AgentID, p.Target }

// ScanStart is written once when a scan is configured.
type ScanStart struct {
	AgentID string                 `json:"agent_id,omitempty"`
	Target  string                 `json:"target,omitempty"`
	Action  string                 `json:"action,omitempty"`
	RunID   string                 `json:"run_id,omitempty"`
	RunName string                 `json:"run_name,omitempty"`
	Targets []string               `json:"targets,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

func (p *ScanStart) EventType() string         { return string(KindScanStart) }
func (p *ScanStart) Subject() (string, string) { return p.AgentID, p.Target }

// Generic is the fallback body for any record type outside the known set.
type Generic struct {
	Type    string                 `json:"-"`
	AgentID string                 `json:"agent_id,omitempty"`
	Target  string                 `json:"target,omitempty"`
	Action  string                 `json:"action,omitempty"`
	Status  string                 `json:"status,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

func (p *Generic) EventType() string {
	if p.Type == "" {
		return string(KindEvent)
	}
	return p.Type
}

func (p *Generic) Subject() (string, string) { return p.AgentID, p.Target }

// FieldString renders a scalar JSON value as a string. Objects, arrays and
// null render as "".
func FieldString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

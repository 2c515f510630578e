package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"scanlens/internal/logger"
	"scanlens/internal/metrics"
	"scanlens/pkg/models"
)

const (
	maxResultSummary = 200
	maxDescription   = 500
)

// findingCategories are matched against finding titles in order.
var findingCategories = []string{
	"sql injection",
	"xss",
	"csrf",
	"idor",
	"ssrf",
	"xxe",
	"rce",
	"authentication",
	"authorization",
	"path traversal",
	"file upload",
	"mass assignment",
	"business logic",
	"race condition",
}

// FindingReport is passed to Writer.OnFinding for every reported finding.
type FindingReport struct {
	ID       string
	Title    string
	Content  string
	Severity string
}

type toolExecution struct {
	agentID string
	tool    string
	args    map[string]interface{}
}

// Writer appends records to one run's journal. Every record is written as a
// single line with one write call on an append-only handle. Open and write
// failures are logged and dropped; appends never return an error.
type Writer struct {
	runID   string
	runName string
	path    string
	log     *logger.Logger

	// OnFinding is invoked synchronously by ReportFinding.
	OnFinding func(FindingReport)

	mu         sync.Mutex
	file       *os.File
	startTime  time.Time
	nextExecID int
	executions map[int]toolExecution
	findings   int
	now        func() time.Time
}

// NewRunID returns a generated run id.
func NewRunID() string {
	return "run-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewWriter prepares a writer for <root>/<run>/events.jsonl. An empty runName
// generates a run id. The file is created on first append.
func NewWriter(root, runName string, log *logger.Logger) (*Writer, error) {
	runID := runName
	if runID == "" {
		runID = NewRunID()
	}
	path, err := EventsPath(root, runID)
	if err != nil {
		return nil, err
	}
	return &Writer{
		runID:      runID,
		runName:    runName,
		path:       path,
		log:        log,
		startTime:  time.Now().UTC(),
		nextExecID: 1,
		executions: make(map[int]toolExecution),
		now:        time.Now,
	}, nil
}

// RunID returns the run this writer appends to.
func (w *Writer) RunID() string { return w.runID }

// Path returns the journal file path.
func (w *Writer) Path() string { return w.path }

// Append writes one typed record stamped with the current time.
func (w *Writer) Append(p models.Payload) {
	body, err := json.Marshal(p)
	if err != nil {
		metrics.AppendFailures.Inc()
		w.log.Warnf("Failed to encode %s record: %v", p.EventType(), err)
		return
	}
	w.appendLine(p.EventType(), "", body)
}

// AppendRaw writes an arbitrary record. Missing ts is stamped with the current
// time and missing type defaults to "event".
func (w *Writer) AppendRaw(record map[string]interface{}) {
	eventType := models.FieldString(record["type"])
	if eventType == "" {
		eventType = string(models.KindEvent)
	}
	ts := models.FieldString(record["ts"])

	rest := make(map[string]interface{}, len(record))
	for k, v := range record {
		if k == "ts" || k == "type" {
			continue
		}
		rest[k] = v
	}
	body, err := json.Marshal(rest)
	if err != nil {
		metrics.AppendFailures.Inc()
		w.log.Warnf("Failed to encode %s record: %v", eventType, err)
		return
	}
	w.appendLine(eventType, ts, body)
}

// appendLine splices {"ts","type"} in front of the encoded body fields.
func (w *Writer) appendLine(eventType, ts string, body []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ts == "" {
		ts = w.now().UTC().Format(time.RFC3339Nano)
	}
	envelope, err := json.Marshal(struct {
		TS   string `json:"ts"`
		Type string `json:"type"`
	}{ts, eventType})
	if err != nil {
		metrics.AppendFailures.Inc()
		w.log.Warnf("Failed to encode record envelope: %v", err)
		return
	}

	var line bytes.Buffer
	line.Grow(len(envelope) + len(body) + 1)
	line.Write(envelope[:len(envelope)-1])
	if inner := bytes.TrimSpace(body); len(inner) > 2 {
		line.WriteByte(',')
		line.Write(inner[1:])
	} else {
		line.WriteByte('}')
	}
	line.WriteByte('\n')

	if err := w.ensureOpen(); err != nil {
		metrics.AppendFailures.Inc()
		w.log.Errorf("Failed to open journal %s: %v", w.path, err)
		return
	}
	if _, err := w.file.Write(line.Bytes()); err != nil {
		metrics.AppendFailures.Inc()
		w.log.Warnf("Failed to write event to %s: %v", w.path, err)
		return
	}
	metrics.RecordsAppended.WithLabelValues(string(models.ParseKind(eventType))).Inc()
	w.log.Debugf("Logged event: %s", eventType)
}

func (w *Writer) ensureOpen() error {
	if w.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = f
	w.log.Infof("Initialized journal at: %s", w.path)
	return nil
}

// Close flushes the journal to stable storage and closes it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// ScanStarted records the scan configuration.
func (w *Writer) ScanStarted(targets []string) {
	w.Append(&models.ScanStart{
		RunID:   w.runID,
		RunName: w.runName,
		Targets: targets,
		Meta:    map[string]interface{}{"start_time": w.startTime.Format(time.RFC3339Nano)},
	})
}

// AgentCreated records a new agent.
func (w *Writer) AgentCreated(agentID, name, task, parentID string) {
	meta := map[string]interface{}{"name": name, "task": task, "parent_id": nil}
	if parentID != "" {
		meta["parent_id"] = parentID
	}
	w.Append(&models.AgentStep{
		AgentID: agentID,
		Action:  "created",
		Status:  "running",
		Meta:    meta,
	})
}

// AgentStatus records an agent status change.
func (w *Writer) AgentStatus(agentID, status, errMsg string) {
	meta := map[string]interface{}{}
	if errMsg != "" {
		meta["error_message"] = errMsg
	}
	w.Append(&models.AgentStep{
		AgentID: agentID,
		Action:  "status_update",
		Status:  status,
		Meta:    meta,
	})
}

// ToolStarted records the start of a tool invocation and returns its
// execution id for ToolFinished.
func (w *Writer) ToolStarted(agentID, tool string, args map[string]interface{}) int {
	w.mu.Lock()
	id := w.nextExecID
	w.nextExecID++
	w.executions[id] = toolExecution{agentID: agentID, tool: tool, args: args}
	w.mu.Unlock()

	w.Append(&models.ToolCall{
		AgentID: agentID,
		Tool:    tool,
		Target:  toolTarget(args),
		Status:  "running",
		Args:    args,
	})
	return id
}

// ToolFinished records the completion of a tool invocation. Unknown execution
// ids are ignored.
func (w *Writer) ToolFinished(execID int, status string, result interface{}) {
	w.mu.Lock()
	exec, ok := w.executions[execID]
	w.mu.Unlock()
	if !ok {
		return
	}

	w.Append(&models.ToolCall{
		AgentID:       exec.agentID,
		Tool:          exec.tool,
		Target:        toolTarget(exec.args),
		Status:        status,
		Args:          exec.args,
		ResultSummary: summarizeResult(result),
	})
}

// ReportFinding records a finding and returns its id.
func (w *Writer) ReportFinding(title, content, severity, agentID, target string) string {
	w.mu.Lock()
	w.findings++
	id := fmt.Sprintf("vuln-%04d", w.findings)
	w.mu.Unlock()

	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	severity = strings.ToLower(strings.TrimSpace(severity))

	w.log.Infof("Added vulnerability report: %s - %s", id, title)
	if w.OnFinding != nil {
		w.OnFinding(FindingReport{ID: id, Title: title, Content: content, Severity: severity})
	}

	w.Append(&models.VulnFound{
		AgentID:     agentID,
		Target:      target,
		VulnID:      id,
		Severity:    severity,
		Category:    CategoryFromTitle(title),
		Description: truncateRunes(content, maxDescription),
	})
	return id
}

// CategoryFromTitle returns the first known category named in title, with
// spaces replaced by underscores, or "".
func CategoryFromTitle(title string) string {
	lower := strings.ToLower(title)
	for _, category := range findingCategories {
		if strings.Contains(lower, category) {
			return strings.ReplaceAll(category, " ", "_")
		}
	}
	return ""
}

func toolTarget(args map[string]interface{}) string {
	for _, key := range []string{"url", "target", "path"} {
		if s := models.FieldString(args[key]); s != "" {
			return s
		}
	}
	return ""
}

func summarizeResult(result interface{}) string {
	switch r := result.(type) {
	case nil:
		return ""
	case string:
		if len([]rune(r)) > maxResultSummary {
			return truncateRunes(r, maxResultSummary) + "..."
		}
		return r
	case map[string]interface{}:
		data, err := json.Marshal(r)
		if err != nil {
			return ""
		}
		return truncateRunes(strings.ReplaceAll(string(data), "\n", " "), maxResultSummary)
	default:
		return ""
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

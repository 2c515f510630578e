package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanlens/internal/logger"
	"scanlens/pkg/models"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]interface{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(s.Bytes(), &rec), "line %q", s.Text())
		out = append(out, rec)
	}
	require.NoError(t, s.Err())
	return out
}

func TestWriterAppendCreatesRunDirectory(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root, "scan-a", logger.Nop())
	require.NoError(t, err)
	defer w.Close()

	w.Append(&models.AgentStep{AgentID: "a1", Target: "http://x", Action: "probe", Status: "ok"})

	assert.Equal(t, filepath.Join(root, "scan-a", EventsFileName), w.Path())
	recs := readLines(t, w.Path())
	require.Len(t, recs, 1)
	assert.Equal(t, "agent_step", recs[0]["type"])
	assert.Equal(t, "a1", recs[0]["agent_id"])
	assert.Equal(t, "probe", recs[0]["action"])
	ts, ok := recs[0]["ts"].(string)
	require.True(t, ok)
	_, parsed := ParseTimestamp(ts)
	assert.True(t, parsed)
}

func TestWriterLinesStartWithEnvelope(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "scan-a", logger.Nop())
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	w.Append(&models.Generic{Type: "note"})
	w.AppendRaw(map[string]interface{}{"type": "custom", "x": 1})
	require.NoError(t, w.Close())

	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"ts":"2025-01-01T00:00:00Z","type":"note"}`, lines[0])
	assert.Equal(t, `{"ts":"2025-01-01T00:00:00Z","type":"custom","x":1}`, lines[1])
}

func TestWriterAppendRawKeepsTimestamp(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "", logger.Nop())
	require.NoError(t, err)
	defer w.Close()
	assert.True(t, strings.HasPrefix(w.RunID(), "run-"))
	assert.Len(t, w.RunID(), len("run-")+8)

	w.AppendRaw(map[string]interface{}{"ts": "2024-02-03T04:05:06Z", "agent_id": "a"})

	recs := readLines(t, w.Path())
	require.Len(t, recs, 1)
	assert.Equal(t, "2024-02-03T04:05:06Z", recs[0]["ts"])
	assert.Equal(t, "event", recs[0]["type"])
}

func TestWriterConcurrentAppendsStayLineAtomic(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "scan-a", logger.Nop())
	require.NoError(t, err)
	defer w.Close()

	payload := strings.Repeat("x", 8*1024)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				w.Append(&models.AgentStep{AgentID: "a", Status: payload})
			}
		}(i)
	}
	wg.Wait()

	recs := readLines(t, w.Path())
	assert.Len(t, recs, 200)
}

func TestWriterSwallowsOpenFailure(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "scan-a")
	require.NoError(t, os.WriteFile(blocker, []byte("file, not dir"), 0o644))

	w, err := NewWriter(root, "scan-a", logger.Nop())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		w.Append(&models.AgentStep{AgentID: "a"})
	})
	assert.NoError(t, w.Close())
}

func TestNewWriterRejectsBadRunName(t *testing.T) {
	_, err := NewWriter(t.TempDir(), "../escape", logger.Nop())
	assert.ErrorIs(t, err, ErrInvalidRunID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriterTypedHelpers(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "scan-a", logger.Nop())
	require.NoError(t, err)

	var reported []FindingReport
	w.OnFinding = func(r FindingReport) { reported = append(reported, r) }

	w.ScanStarted([]string{"http://target"})
	w.AgentCreated("agent-1", "Recon", "map the app", "")
	exec := w.ToolStarted("agent-1", "browser", map[string]interface{}{"path": "/login"})
	w.ToolFinished(exec, "completed", strings.Repeat("r", 250))
	w.ToolFinished(exec+100, "completed", "ignored")
	id := w.ReportFinding("  Stored XSS in comments ", strings.Repeat("d", 600), " HIGH ", "agent-1", "http://target/c")
	w.AgentStatus("agent-1", "failed", "timeout")
	require.NoError(t, w.Close())

	assert.Equal(t, "vuln-0001", id)
	require.Len(t, reported, 1)
	assert.Equal(t, FindingReport{ID: "vuln-0001", Title: "Stored XSS in comments", Content: strings.Repeat("d", 600), Severity: "high"}, reported[0])

	recs := readLines(t, w.Path())
	require.Len(t, recs, 6)

	assert.Equal(t, "scan_start", recs[0]["type"])
	assert.Equal(t, "scan-a", recs[0]["run_id"])
	assert.Equal(t, []interface{}{"http://target"}, recs[0]["targets"])

	assert.Equal(t, "agent_step", recs[1]["type"])
	assert.Equal(t, "created", recs[1]["action"])
	assert.Equal(t, "running", recs[1]["status"])
	meta := recs[1]["meta"].(map[string]interface{})
	assert.Equal(t, "Recon", meta["name"])
	assert.Nil(t, meta["parent_id"])

	assert.Equal(t, "mcp_tool_call", recs[2]["type"])
	assert.Equal(t, "/login", recs[2]["target"])
	assert.Equal(t, "running", recs[2]["status"])

	assert.Equal(t, "completed", recs[3]["status"])
	assert.Equal(t, strings.Repeat("r", 200)+"...", recs[3]["result_summary"])

	assert.Equal(t, "vuln_found", recs[4]["type"])
	assert.Equal(t, "vuln-0001", recs[4]["vuln_id"])
	assert.Equal(t, "high", recs[4]["severity"])
	assert.Equal(t, "xss", recs[4]["category"])
	assert.Len(t, recs[4]["description"], 500)

	assert.Equal(t, "status_update", recs[5]["action"])
	assert.Equal(t, "timeout", recs[5]["meta"].(map[string]interface{})["error_message"])
}

func TestCategoryFromTitle(t *testing.T) {
	assert.Equal(t, "sql_injection", CategoryFromTitle("Blind SQL Injection on /search"))
	assert.Equal(t, "path_traversal", CategoryFromTitle("Path Traversal via file param"))
	assert.Equal(t, "xss", CategoryFromTitle("XSS and CSRF"))
	assert.Equal(t, "", CategoryFromTitle("Weird behaviour"))
}

func TestSetReusesWriters(t *testing.T) {
	root := t.TempDir()
	set := NewSet(root, logger.Nop())

	a1, err := set.Writer("a")
	require.NoError(t, err)
	a2, err := set.Writer("a")
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	_, err = set.Writer("b")
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	_, err = set.Writer("..")
	assert.ErrorIs(t, err, ErrInvalidRunID)

	a1.Append(&models.Generic{Type: "ping"})
	require.NoError(t, set.Close())
	assert.Equal(t, 0, set.Len())
	assert.Len(t, readLines(t, filepath.Join(root, "a", EventsFileName)), 1)
}

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanlens/config"
	"scanlens/internal/journal"
	"scanlens/internal/logger"
	"scanlens/internal/runs"
	"scanlens/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	svc := runs.NewService(runs.Options{Root: root, PollInterval: 20 * time.Millisecond, UseFsnotify: true}, logger.Nop())
	return New(svc, cfg, logger.Nop()), root
}

func seed(t *testing.T, root, runID string, lines ...string) {
	t.Helper()
	dir := filepath.Join(root, runID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, journal.EventsFileName), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(w, req)
	return w
}

var scenario = []string{
	`{"ts":"2024-01-01T00:00:00Z","type":"agent_step","agent_id":"a1","target":"http://x","action":"scan","status":"running"}`,
	`{"ts":"2024-01-01T00:00:05Z","type":"vuln_found","agent_id":"a1","target":"http://x","vuln_id":"vuln-0001","severity":"high","category":"sql_injection","description":"..."}`,
}

func TestListRuns(t *testing.T) {
	s, root := newTestServer(t, config.ServerConfig{})

	w := get(t, s, "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	seed(t, root, "run-a", scenario...)
	w = get(t, s, "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)

	var list []models.RunMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "run-a", list[0].ID)
	assert.Equal(t, 2, list[0].EventCount)
	assert.NotNil(t, list[0].CreatedAt)
}

func TestSnapshotEndpoint(t *testing.T) {
	s, root := newTestServer(t, config.ServerConfig{})
	seed(t, root, "run-a", scenario...)

	w := get(t, s, "/api/runs/run-a/snapshot")
	require.Equal(t, http.StatusOK, w.Code)

	var snap map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "run-a", snap["run_id"])
	assert.Len(t, snap["agents"], 1)
	assert.Len(t, snap["assets"], 1)
	assert.Len(t, snap["vulnerabilities"], 1)
	assert.Len(t, snap["edges"], 3)
	assert.Len(t, snap["tool_calls"], 0)
	assert.Equal(t, "2024-01-01T00:00:05Z", snap["last_event_ts"])
}

func TestMissingRunIs404(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{})

	for _, path := range []string{
		"/api/runs/absent/snapshot",
		"/api/runs/absent/events",
		"/api/runs/absent/vulnerabilities",
		"/api/runs/../snapshot",
	} {
		w := get(t, s, path)
		if w.Code == http.StatusMovedPermanently || w.Code == http.StatusTemporaryRedirect {
			continue
		}
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w := get(t, s, "/api/runs/absent/snapshot")
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["detail"])
}

func TestEventsPagination(t *testing.T) {
	s, root := newTestServer(t, config.ServerConfig{})
	seed(t, root, "run-a", scenario...)

	w := get(t, s, "/api/runs/run-a/events?offset=1&limit=5")
	require.Equal(t, http.StatusOK, w.Code)

	var page models.EventPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Offset)
	assert.Equal(t, 5, page.Limit)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "vuln_found", page.Events[0]["type"])

	w = get(t, s, "/api/runs/run-a/events?limit=5000")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, runs.MaxPageSize, page.Limit)

	w = get(t, s, "/api/runs/run-a/events")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, runs.DefaultPageSize, page.Limit)

	w = get(t, s, "/api/runs/run-a/events?offset=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVulnerabilitiesEndpoint(t *testing.T) {
	s, root := newTestServer(t, config.ServerConfig{})
	seed(t, root, "run-a",
		`{"ts":"2024-01-01T00:00:00Z","type":"vuln_found","vuln_id":"low","severity":"low"}`,
		`{"ts":"2024-01-01T00:00:01Z","type":"vuln_found","vuln_id":"crit","severity":"critical"}`,
	)

	w := get(t, s, "/api/runs/run-a/vulnerabilities")
	require.Equal(t, http.StatusOK, w.Code)

	var findings []models.Finding
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &findings))
	require.Len(t, findings, 2)
	assert.Equal(t, "crit", findings[0].ID)
}

func TestCORSAndHealth(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{})

	w := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req, _ := http.NewRequest(http.MethodOptions, "/api/runs", nil)
	req.Header.Set("Origin", "http://ui.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestFrontendPlaceholderAndStatic(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{FrontendDir: filepath.Join(t.TempDir(), "missing")})
	w := get(t, s, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Frontend build not found")

	dist := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html>ui</html>"), 0o644))
	s, _ = newTestServer(t, config.ServerConfig{FrontendDir: dist})
	w = get(t, s, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<html>ui</html>")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{})
	get(t, s, "/healthz")

	w := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "scanlens_http_requests_total")
}

func dialStream(t *testing.T, ts *httptest.Server, runID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/runs/" + runID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestStreamDeliversAppendedRecords(t *testing.T) {
	s, root := newTestServer(t, config.ServerConfig{})
	seed(t, root, "live", scenario...)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.stop()

	ws := dialStream(t, ts, "live")
	time.Sleep(100 * time.Millisecond)

	w, err := journal.NewWriter(root, "live", logger.Nop())
	require.NoError(t, err)
	defer w.Close()
	w.AppendRaw(map[string]interface{}{"type": "agent_step", "agent_id": "a2", "n": 1})
	w.AppendRaw(map[string]interface{}{"type": "agent_step", "agent_id": "a2", "n": 2})

	for i := 1; i <= 2; i++ {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
		var rec map[string]interface{}
		require.NoError(t, ws.ReadJSON(&rec))
		assert.Equal(t, "a2", rec["agent_id"])
		assert.EqualValues(t, i, rec["n"])
	}
}

func TestStreamMissingRunClosesWithPolicyViolation(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ws := dialStream(t, ts, "absent")
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))

	var msg map[string]string
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "run not found", msg["error"])

	_, _, err := ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

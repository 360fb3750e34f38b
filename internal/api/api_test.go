package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"appkernel/internal/agent"
	"appkernel/internal/ai"
	"appkernel/internal/budget"
	"appkernel/internal/catalog"
	"appkernel/internal/config"
	"appkernel/internal/generation"
	"appkernel/internal/memory"
	"appkernel/internal/selector"
	"appkernel/internal/stream"
	"appkernel/internal/team"
)

type stubPlanner struct{}

func (stubPlanner) Plan(context.Context, generation.Request) ([]generation.ManifestEntry, error) {
	return []generation.ManifestEntry{
		{Path: "lib/main.dart", Type: "entry", Description: "entry point"},
	}, nil
}

type stubGenerator struct{}

func (stubGenerator) GenerateFile(context.Context, generation.Request, generation.ManifestEntry) (string, error) {
	return "void main() {}\n", nil
}

func (stubGenerator) InvokeAs(context.Context, generation.Request, string, string) (string, error) {
	return "void main() {}\n", nil
}

type memWriter struct {
	mu    sync.Mutex
	files map[string]map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{files: make(map[string]map[string]string)}
}

func (w *memWriter) Write(projectID, relPath, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[projectID] == nil {
		w.files[projectID] = make(map[string]string)
	}
	w.files[projectID][relPath] = content
	return nil
}

func (w *memWriter) FileCount(projectID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.files[projectID])
}

func (w *memWriter) Exists(projectID string) bool {
	return w.FileCount(projectID) > 0
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	cat := catalog.Default()
	sel := selector.New(cat)

	bud, err := budget.New(db, 0, 0)
	require.NoError(t, err)

	store, err := memory.NewStore(db, memory.NewCache(""))
	require.NoError(t, err)

	agents := agent.NewRegistry(agent.NewFactory(), t.TempDir())

	bus := generation.NewBroadcaster()
	writer := newMemWriter()
	var gen stubGenerator
	engine := generation.NewEngine(stubPlanner{}, gen, writer, bus, config.PacingConfig{}, store)
	orch := team.New(stubPlanner{}, gen, writer, bus, store)

	adapters := ai.NewRegistry()

	return &Handler{
		Catalog:  cat,
		Selector: sel,
		Budget:   bud,
		Agents:   agents,
		Store:    store,
		Engine:   engine,
		Team:     orch,
		Adapters: adapters,
		Hub:      stream.NewHub(bus),
	}
}

func testRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(newTestHandler(t))
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) StandardResponse {
	t.Helper()
	var resp StandardResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	w := do(t, testRouter(t), "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "appkernel", body["service"])
}

func TestListModels(t *testing.T) {
	w := do(t, testRouter(t), "GET", "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	require.True(t, resp.Success)
	models := resp.Data.([]any)
	assert.NotEmpty(t, models)
}

func TestSelectModel(t *testing.T) {
	w := do(t, testRouter(t), "POST", "/api/v1/models/select", map[string]any{
		"strategy":    "cheapest",
		"min_quality": 5,
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	require.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.NotEmpty(t, data["model_id"])
}

func TestSelectModel_BadPayload(t *testing.T) {
	req, _ := http.NewRequest("POST", "/api/v1/models/select", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	testRouter(t).ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCalculateCost(t *testing.T) {
	router := testRouter(t)

	w := do(t, router, "POST", "/api/v1/models/cost", CostRequest{
		ModelID: "anthropic:claude-sonnet", InputTokens: 1000, OutputTokens: 1000,
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	data := resp.Data.(map[string]any)
	assert.Greater(t, data["cost_usd"].(float64), 0.0)

	w = do(t, router, "POST", "/api/v1/models/cost", CostRequest{ModelID: "nope:missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAgentLifecycleEndpoints(t *testing.T) {
	router := testRouter(t)

	w := do(t, router, "POST", "/api/v1/agents", CreateAgentRequest{
		Template: "code-dev", Name: "builder-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	resp := decode(t, w)
	id := resp.Data.(map[string]any)["id"].(string)
	require.NotEmpty(t, id)

	w = do(t, router, "POST", fmt.Sprintf("/api/v1/agents/%s/pause", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Paused agents cannot deprecate straight to removed-like states the
	// transition table forbids.
	w = do(t, router, "POST", fmt.Sprintf("/api/v1/agents/%s/pause", id), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, "POST", fmt.Sprintf("/api/v1/agents/%s/resume", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", fmt.Sprintf("/api/v1/agents/%s/history", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	history := resp.Data.([]any)
	assert.Len(t, history, 3) // created, paused, resumed

	w = do(t, router, "GET", "/api/v1/agents/missing/history", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "POST", "/api/v1/agents/missing/pause", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateCustomAgent_SecurityLevels(t *testing.T) {
	router := testRouter(t)

	for _, level := range []string{"restricted", "normal", "elevated", "admin"} {
		w := do(t, router, "POST", "/api/v1/agents/custom", CreateCustomAgentRequest{
			Name: "custom-" + level, SecurityLevel: level,
		})
		assert.Equal(t, http.StatusCreated, w.Code, "level %s", level)
	}

	w := do(t, router, "POST", "/api/v1/agents/custom", CreateCustomAgentRequest{
		Name: "custom-bad", SecurityLevel: "standard",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAgent_UnknownTemplate(t *testing.T) {
	w := do(t, testRouter(t), "POST", "/api/v1/agents", CreateAgentRequest{
		Template: "not-a-template", Name: "x",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemoryEndpoints(t *testing.T) {
	router := testRouter(t)

	w := do(t, router, "POST", "/api/v1/memory/projects", map[string]any{
		"id": "p1", "name": "Todo App",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, router, "GET", "/api/v1/memory/projects/p1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "Todo App", resp.Data.(map[string]any)["name"])

	w = do(t, router, "GET", "/api/v1/memory/projects/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "PUT", "/api/v1/memory/preferences/theme", map[string]any{
		"value": "dark",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/api/v1/memory/preferences/theme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.Equal(t, "dark", resp.Data.(map[string]any)["value"])

	w = do(t, router, "GET", "/api/v1/memory/preferences/unset", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAbandonedTaskEndpoints(t *testing.T) {
	router := testRouter(t)

	w := do(t, router, "POST", "/api/v1/memory/abandoned", MarkAbandonedRequest{
		Description: "half-finished login screen", ProjectID: "p1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w).Data.(map[string]any)["id"].(string)

	w = do(t, router, "GET", "/api/v1/memory/abandoned?project_id=p1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w).Data.([]any), 1)

	w = do(t, router, "POST", fmt.Sprintf("/api/v1/memory/abandoned/%s/resolve", id), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/api/v1/memory/abandoned?project_id=p1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w).Data)
}

func TestBudgetRemaining_RequiresUser(t *testing.T) {
	w := do(t, testRouter(t), "GET", "/api/v1/budget/remaining", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBudgetRemaining_CapsOff(t *testing.T) {
	w := do(t, testRouter(t), "GET", "/api/v1/budget/remaining?user_id=u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(-1), data["daily_usd"])
	assert.Equal(t, float64(-1), data["session_usd"])
}

func TestGenerationEndpoints(t *testing.T) {
	router := testRouter(t)

	w := do(t, router, "POST", "/api/v1/generation/start", StartGenerationRequest{
		ProjectID: "proj-1", ProjectName: "Demo",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.True(t, resp.Success)
	status := resp.Data.(map[string]any)["status"].(string)
	assert.Contains(t, []string{"working", "already_running"}, status)

	w = do(t, router, "GET", "/api/v1/generation/proj-1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "POST", "/api/v1/generation/proj-1/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.True(t, resp.Success)

	w = do(t, router, "GET", "/api/v1/generation/never-started/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	data := resp.Data.(map[string]any)
	assert.Equal(t, false, data["is_running"])
	assert.Equal(t, "not_started", data["status"])
}

func TestStartGeneration_MissingFields(t *testing.T) {
	w := do(t, testRouter(t), "POST", "/api/v1/generation/start", map[string]any{
		"project_id": "p1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTeamBuild(t *testing.T) {
	router := testRouter(t)

	w := do(t, router, "POST", "/api/v1/team/build", StartGenerationRequest{
		ProjectID: "team-1", ProjectName: "Demo",
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	require.True(t, resp.Success)
	files := resp.Data.(map[string]any)["files"].([]any)
	assert.Len(t, files, 1)

	w = do(t, router, "GET", "/api/v1/team/team-1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w).Data.(map[string]any)["is_running"])
}

package controllers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nse_trading_system/models"
	"nse_trading_system/routes"
	"nse_trading_system/services/catalog"
	"nse_trading_system/services/taskengine"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAPI(t *testing.T) (*gin.Engine, *taskengine.Store) {
	t.Helper()
	cfg := taskengine.DefaultConfig()
	cfg.StopGrace = time.Second
	return setupAPIWithConfig(t, cfg)
}

func setupAPIWithConfig(t *testing.T, cfg taskengine.Config) (*gin.Engine, *taskengine.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateTaskModels(db))

	cat, err := catalog.New([]catalog.TaskDefinition{
		{Name: "echo_report", Command: "echo hello world", Queue: models.QueueAnalysis, Description: "prints a line"},
		{Name: "place_trade", Command: "sleep 0.5", Queue: models.QueueTrading, Description: "serialized trade"},
		{Name: "watch_events", Command: "sleep 30", Queue: models.QueueEvents, Description: "long watcher"},
	})
	require.NoError(t, err)

	store := taskengine.NewStore(db)
	engine := taskengine.NewEngine(store, cat, cfg)
	require.NoError(t, engine.Start())
	t.Cleanup(engine.Stop)

	router := gin.New()
	routes.SetupRoutes(router, engine, taskengine.NewStatusService(store, engine), cat)

	return router, store
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	parsed := map[string]interface{}{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

func waitTerminal(t *testing.T, store *taskengine.Store, id uint) models.TaskExecution {
	t.Helper()
	var rec models.TaskExecution
	require.Eventually(t, func() bool {
		var err error
		rec, err = store.Get(id)
		require.NoError(t, err)
		return rec.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return rec
}

func TestCreateTaskUnknownName(t *testing.T) {
	router, store := setupAPI(t)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/tasks", `{"task_name":"no_such_task"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "unknown task")

	recs, err := store.List(10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCreateTaskMissingName(t *testing.T) {
	router, _ := setupAPI(t)

	w, _ := doJSON(t, router, http.MethodPost, "/api/v1/tasks", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTaskAccepted(t *testing.T) {
	router, store := setupAPI(t)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/tasks", `{"task_name":"echo_report"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pending", body["status"])
	id := uint(body["id"].(float64))

	final := waitTerminal(t, store, id)
	assert.Equal(t, models.StatusCompleted, final.Status)
}

func TestGetTaskLifecycleSnapshot(t *testing.T) {
	router, store := setupAPI(t)

	_, created := doJSON(t, router, http.MethodPost, "/api/v1/tasks", `{"task_name":"echo_report"}`)
	id := uint(created["id"].(float64))
	waitTerminal(t, store, id)

	w, body := doJSON(t, router, http.MethodGet, "/api/v1/tasks/1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, false, body["can_stop"])
	assert.Contains(t, body["output"], "hello world")
	assert.NotNil(t, body["started_at"])
	assert.NotNil(t, body["completed_at"])
}

func TestGetTaskNotFound(t *testing.T) {
	router, _ := setupAPI(t)

	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/tasks/9999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTaskInvalidID(t *testing.T) {
	router, _ := setupAPI(t)

	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/tasks/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOutputEndpointIsIdempotent(t *testing.T) {
	router, store := setupAPI(t)

	_, created := doJSON(t, router, http.MethodPost, "/api/v1/tasks", `{"task_name":"echo_report"}`)
	id := uint(created["id"].(float64))
	waitTerminal(t, store, id)

	// Arbitrary polling frequency must not corrupt state.
	var last string
	for i := 0; i < 20; i++ {
		w, body := doJSON(t, router, http.MethodGet, "/api/v1/tasks/1/output", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "completed", body["status"])
		out := body["output"].(string)
		if last != "" {
			assert.Equal(t, last, out)
		}
		last = out
	}
	assert.Contains(t, last, "hello world")
}

func TestStopRunningTaskOverHTTP(t *testing.T) {
	router, store := setupAPI(t)

	_, created := doJSON(t, router, http.MethodPost, "/api/v1/tasks", `{"task_name":"watch_events"}`)
	id := uint(created["id"].(float64))

	require.Eventually(t, func() bool {
		rec, err := store.Get(id)
		require.NoError(t, err)
		return rec.Status == models.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/tasks/1/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	final := waitTerminal(t, store, id)
	assert.Equal(t, models.StatusStopped, final.Status)
}

func TestStopCompletedTaskSoftFails(t *testing.T) {
	router, store := setupAPI(t)

	_, created := doJSON(t, router, http.MethodPost, "/api/v1/tasks", `{"task_name":"echo_report"}`)
	id := uint(created["id"].(float64))
	waitTerminal(t, store, id)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/tasks/1/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["success"])

	rec, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
}

func TestStopUnknownTaskOverHTTP(t *testing.T) {
	router, _ := setupAPI(t)

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/tasks/9999/stop", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])
}

func TestListTasksMostRecentFirst(t *testing.T) {
	router, store := setupAPI(t)

	for i := 0; i < 3; i++ {
		_, created := doJSON(t, router, http.MethodPost, "/api/v1/tasks", `{"task_name":"echo_report"}`)
		waitTerminal(t, store, uint(created["id"].(float64)))
	}

	w, body := doJSON(t, router, http.MethodGet, "/api/v1/tasks?limit=2", "")
	assert.Equal(t, http.StatusOK, w.Code)

	data := body["data"].([]interface{})
	require.Len(t, data, 2)
	first := data[0].(map[string]interface{})
	second := data[1].(map[string]interface{})
	assert.Greater(t, first["id"].(float64), second["id"].(float64))
}

func TestListTasksInvalidLimit(t *testing.T) {
	router, _ := setupAPI(t)

	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/tasks?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTaskQueueFull(t *testing.T) {
	cfg := taskengine.DefaultConfig()
	cfg.StopGrace = time.Second
	cfg.Backlog = 1
	router, store := setupAPIWithConfig(t, cfg)

	// Occupy the single trading worker, then fill the one-slot backlog.
	w, body := doJSON(t, router, http.MethodPost, "/api/v1/tasks",
		`{"task_name": "place_trade", "command": "sleep 2"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	firstID := uint(body["id"].(float64))
	require.Eventually(t, func() bool {
		rec, err := store.Get(firstID)
		return err == nil && rec.Status == models.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	w, _ = doJSON(t, router, http.MethodPost, "/api/v1/tasks",
		`{"task_name": "place_trade", "command": "sleep 2"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w, body = doJSON(t, router, http.MethodPost, "/api/v1/tasks",
		`{"task_name": "place_trade", "command": "sleep 2"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, body["error"], "backlog is full")

	// The rejected submission is still recorded for the audit trail.
	recs, err := store.List(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.StatusFailed, recs[0].Status)
	assert.Nil(t, recs[0].StartedAt)
}

func TestGetCatalog(t *testing.T) {
	router, _ := setupAPI(t)

	w, body := doJSON(t, router, http.MethodGet, "/api/v1/catalog", "")
	assert.Equal(t, http.StatusOK, w.Code)

	data := body["data"].([]interface{})
	require.Len(t, data, 3)
	def := data[0].(map[string]interface{})
	assert.Equal(t, "echo_report", def["name"])
	assert.Equal(t, "analysis", def["queue"])
}

package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"nse_trading_system/models"
	"nse_trading_system/services/catalog"
	"nse_trading_system/services/taskengine"

	"github.com/gin-gonic/gin"
)

// TaskController handles task submission and monitoring requests
type TaskController struct {
	engine  *taskengine.Engine
	status  *taskengine.StatusService
	catalog *catalog.Catalog
}

// NewTaskController creates a new task controller
func NewTaskController(engine *taskengine.Engine, status *taskengine.StatusService, cat *catalog.Catalog) *TaskController {
	return &TaskController{
		engine:  engine,
		status:  status,
		catalog: cat,
	}
}

// CreateTask submits a catalog task for background execution
// POST /api/v1/tasks
func (tc *TaskController) CreateTask(c *gin.Context) {
	var request struct {
		TaskName string `json:"task_name" binding:"required"`
		Command  string `json:"command"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := tc.engine.Submit(request.TaskName, request.Command)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrUnknownTask):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, taskengine.ErrQueueFull):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit task"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     rec.ID,
		"status": rec.Status,
	})
}

// GetTask returns the full snapshot of one task execution
// GET /api/v1/tasks/:id
func (tc *TaskController) GetTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	rec, err := tc.status.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           rec.ID,
		"task_name":    rec.TaskName,
		"queue":        rec.Queue,
		"status":       rec.Status,
		"started_at":   rec.StartedAt,
		"completed_at": rec.CompletedAt,
		"can_stop":     rec.Status == models.StatusRunning,
		"output":       rec.Output,
		"error_log":    rec.ErrorLog,
	})
}

// GetTaskOutput returns the lightweight output snapshot for live polling
// GET /api/v1/tasks/:id/output
func (tc *TaskController) GetTaskOutput(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	snap, err := tc.status.Output(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": snap.Status,
		"output": snap.Output,
	})
}

// StopTask requests cancellation of a task execution
// POST /api/v1/tasks/:id/stop
func (tc *TaskController) StopTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	reply, err := tc.status.RequestStop(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Task not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": reply.Success,
		"message": reply.Message,
	})
}

// ListTasks returns recent task executions, most recent first
// GET /api/v1/tasks?limit=N
func (tc *TaskController) ListTasks(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}

	recs, err := tc.status.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tasks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": recs})
}

// GetCatalog returns the task catalog for the dashboard
// GET /api/v1/catalog
func (tc *TaskController) GetCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": tc.catalog.List()})
}

// parseTaskID parses the :id path parameter, writing a 400 on failure.
func parseTaskID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task id"})
		return 0, false
	}
	return uint(id), true
}

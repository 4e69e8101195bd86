package routes

import (
	"nse_trading_system/controllers"
	"nse_trading_system/middleware"
	"nse_trading_system/services/catalog"
	"nse_trading_system/services/taskengine"

	"github.com/gin-gonic/gin"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, engine *taskengine.Engine, status *taskengine.StatusService, cat *catalog.Catalog) {
	// Initialize controllers
	taskController := controllers.NewTaskController(engine, status, cat)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Task routes
		tasks := api.Group("/tasks")
		{
			tasks.POST("", middleware.SubmitRateLimitMiddleware(), taskController.CreateTask)
			tasks.GET("", taskController.ListTasks)
			tasks.GET("/:id", taskController.GetTask)
			tasks.GET("/:id/output", taskController.GetTaskOutput)
			tasks.POST("/:id/stop", taskController.StopTask)
		}

		// Task catalog for the dashboard
		api.GET("/catalog", taskController.GetCatalog)
	}
}

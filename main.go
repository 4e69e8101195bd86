package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"nse_trading_system/config"
	"nse_trading_system/models"
	"nse_trading_system/routes"
	"nse_trading_system/scheduler"
	"nse_trading_system/services/catalog"
	"nse_trading_system/services/taskengine"

	"github.com/gin-gonic/gin"
)

// dbInitialized tracks whether the database has been successfully initialized
// This global variable is used for thread-safe access across goroutines to allow
// the /ready health endpoint to dynamically check database status
var dbInitialized bool
var dbInitMutex sync.RWMutex

// taskEngine and jobScheduler are created by the background init goroutine
// and read again at shutdown; dbInitMutex guards the handoff.
var taskEngine *taskengine.Engine
var jobScheduler *scheduler.Scheduler

func main() {
	log.Println("==============================================")
	log.Println("  NSE Trading System Backend - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Add middlewares
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Setup health check endpoints FIRST so the container runtime can detect
	// the service is up. Database will be initialized in background
	setupHealthEndpoints(router)

	// Create HTTP server with timeouts. Bind to 0.0.0.0 explicitly for
	// container networking
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// Start server IMMEDIATELY so the runtime knows we're listening
	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Initialize database, task engine and routes in background
	go func() {
		// Initialize database connection
		db, err := config.InitDB()
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (health check only)")
			return
		}

		// Run database migrations
		log.Println("Running database migrations...")
		if err := models.MigrateTaskModels(db); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		// Load the task catalog
		cat, err := catalog.Load(cfg.TaskCatalogPath)
		if err != nil {
			log.Printf("ERROR: Task catalog load failed: %v", err)
			return
		}

		// Start the task execution engine
		store := taskengine.NewStore(db)
		engine := taskengine.NewEngine(store, cat, taskengine.Config{
			Workers: map[models.QueueName]int{
				models.QueueDataCollection: cfg.DataCollectionWorkers,
				models.QueueAnalysis:       cfg.AnalysisWorkers,
				models.QueueTrading:        cfg.TradingWorkers,
				models.QueueEvents:         cfg.EventsWorkers,
			},
			Backlog:   cfg.QueueBacklog,
			StopGrace: time.Duration(cfg.StopGraceSeconds) * time.Second,
		})
		if err := engine.Start(); err != nil {
			log.Printf("ERROR: Task engine start failed: %v", err)
			return
		}
		statusService := taskengine.NewStatusService(store, engine)

		// Mark database as ready and publish the engine for shutdown
		dbInitMutex.Lock()
		dbInitialized = true
		taskEngine = engine
		dbInitMutex.Unlock()

		// Setup all API routes
		routes.SetupRoutes(router, engine, statusService, cat)

		// Start background scheduler
		if cfg.SchedulerEnabled {
			sched := scheduler.NewScheduler(engine, store)
			sched.Start()
			dbInitMutex.Lock()
			jobScheduler = sched
			dbInitMutex.Unlock()
		} else {
			log.Println("Scheduler disabled by configuration")
		}

		log.Println("Application fully initialized with database")
	}()

	// Graceful shutdown
	gracefulShutdown(server)
}

// setupHealthEndpoints sets up health check endpoints
func setupHealthEndpoints(router *gin.Engine) {
	// Root endpoint
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "NSE Trading System Backend",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks if service is ready to receive traffic
	router.GET("/ready", func(c *gin.Context) {
		dbInitMutex.RLock()
		isDBReady := dbInitialized
		dbInitMutex.RUnlock()

		if !isDBReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database not connected",
			})
			return
		}

		// Check database connection
		sqlDB, err := config.DB.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}

		if err := sqlDB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})

	// Startup probe - can be used for initial health check
	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "started",
		})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests in production
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	dbInitMutex.RLock()
	engine := taskEngine
	sched := jobScheduler
	dbInitMutex.RUnlock()

	// Stop scheduler first so no new tasks are submitted
	if sched != nil {
		sched.Stop()
	}

	// Stop the task engine: workers exit, running processes are terminated
	if engine != nil {
		engine.Stop()
	}

	// Drain in-flight HTTP requests
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}

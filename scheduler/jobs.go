package scheduler

import (
	"log"
	"time"

	"nse_trading_system/models"

	"github.com/go-co-op/gocron"
)

// TaskSubmitter submits a catalog task for execution.
type TaskSubmitter interface {
	Submit(taskName, overrideCommand string) (models.TaskExecution, error)
}

// ActivityChecker reports whether a task name still has an unfinished record.
type ActivityChecker interface {
	HasActive(taskName string) bool
}

// Scheduler manages the periodic task submissions
type Scheduler struct {
	cron    *gocron.Scheduler
	engine  TaskSubmitter
	records ActivityChecker
}

// NewScheduler creates a new scheduler instance
func NewScheduler(engine TaskSubmitter, records ActivityChecker) *Scheduler {
	return &Scheduler{
		cron:    gocron.NewScheduler(time.UTC),
		engine:  engine,
		records: records,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Master orchestrator pipeline every 5 minutes
	s.cron.Every(5).Minutes().Do(func() {
		s.submitIfIdle("master_trading_orchestrator")
	})

	// Monitor NSE events and announcements every 15 minutes
	s.cron.Every(15).Minutes().Do(func() {
		s.submitIfIdle("monitor_market_events")
	})

	// Fetch live market data every 2 minutes
	s.cron.Every(2).Minutes().Do(func() {
		s.submitIfIdle("collect_market_data")
	})

	// Scrape company fundamentals twice daily, before and after market hours
	s.cron.Every(1).Day().At("08:00").Do(func() {
		s.submitIfIdle("scrape_companies")
	})
	s.cron.Every(1).Day().At("18:00").Do(func() {
		s.submitIfIdle("scrape_companies")
	})

	// Cleanup old data at midnight
	s.cron.Every(1).Day().At("00:00").Do(func() {
		s.submitIfIdle("cleanup_old_data")
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// submitIfIdle submits the task unless its previous run is still pending or
// running, in which case the tick is dropped and logged.
func (s *Scheduler) submitIfIdle(taskName string) {
	if s.records.HasActive(taskName) {
		log.Printf("Skipping scheduled run of %s: previous run still active", taskName)
		return
	}

	rec, err := s.engine.Submit(taskName, "")
	if err != nil {
		log.Printf("Scheduled submission of %s failed: %v", taskName, err)
		return
	}

	log.Printf("Scheduled task %s submitted as execution %d", taskName, rec.ID)
}

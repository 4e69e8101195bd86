package scheduler

import (
	"errors"
	"testing"

	"nse_trading_system/models"

	"github.com/stretchr/testify/assert"
)

type stubSubmitter struct {
	submitted []string
	err       error
}

func (s *stubSubmitter) Submit(taskName, overrideCommand string) (models.TaskExecution, error) {
	if s.err != nil {
		return models.TaskExecution{}, s.err
	}
	s.submitted = append(s.submitted, taskName)
	return models.TaskExecution{ID: uint(len(s.submitted)), TaskName: taskName, Status: models.StatusPending}, nil
}

type stubChecker struct {
	active map[string]bool
}

func (s *stubChecker) HasActive(taskName string) bool {
	return s.active[taskName]
}

func TestSubmitIfIdleSubmitsWhenIdle(t *testing.T) {
	submitter := &stubSubmitter{}
	sched := NewScheduler(submitter, &stubChecker{active: map[string]bool{}})

	sched.submitIfIdle("master_trading_orchestrator")

	assert.Equal(t, []string{"master_trading_orchestrator"}, submitter.submitted)
}

func TestSubmitIfIdleSkipsActiveTask(t *testing.T) {
	submitter := &stubSubmitter{}
	sched := NewScheduler(submitter, &stubChecker{
		active: map[string]bool{"master_trading_orchestrator": true},
	})

	// The tick is dropped, not queued for catch-up.
	sched.submitIfIdle("master_trading_orchestrator")
	sched.submitIfIdle("master_trading_orchestrator")

	assert.Empty(t, submitter.submitted)
}

func TestSubmitIfIdleOnlySkipsTheActiveName(t *testing.T) {
	submitter := &stubSubmitter{}
	sched := NewScheduler(submitter, &stubChecker{
		active: map[string]bool{"scrape_companies": true},
	})

	sched.submitIfIdle("scrape_companies")
	sched.submitIfIdle("monitor_market_events")

	assert.Equal(t, []string{"monitor_market_events"}, submitter.submitted)
}

func TestSubmitIfIdleToleratesSubmitErrors(t *testing.T) {
	submitter := &stubSubmitter{err: errors.New("queue backlog is full")}
	sched := NewScheduler(submitter, &stubChecker{active: map[string]bool{}})

	// Must not panic; the failed tick is logged and dropped.
	sched.submitIfIdle("collect_market_data")

	assert.Empty(t, submitter.submitted)
}

package taskengine

import (
	"fmt"
	"time"

	"nse_trading_system/models"
)

// StatusSnapshot is a point-in-time view of a record's lifecycle.
type StatusSnapshot struct {
	Status      models.TaskStatus `json:"status"`
	StartedAt   *time.Time        `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at"`
	CanStop     bool              `json:"can_stop"`
}

// OutputSnapshot carries the full accumulated output for live polling.
// Clients receive the whole buffer on every call and diff on their side, so
// a reconnecting client needs no server-side cursor.
type OutputSnapshot struct {
	Status   models.TaskStatus `json:"status"`
	Output   string            `json:"output"`
	ErrorLog string            `json:"error_log"`
}

// StopReply is the soft result of a stop request.
type StopReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusService is the read facade over the record store, plus the
// cancellation entry point. Reads are idempotent and safe under arbitrarily
// frequent polling.
type StatusService struct {
	store  *Store
	engine *Engine
}

// NewStatusService creates the status facade.
func NewStatusService(store *Store, engine *Engine) *StatusService {
	return &StatusService{store: store, engine: engine}
}

// Status returns the lifecycle snapshot for a record.
func (s *StatusService) Status(id uint) (StatusSnapshot, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return StatusSnapshot{}, err
	}
	return StatusSnapshot{
		Status:      rec.Status,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		CanStop:     rec.Status == models.StatusRunning,
	}, nil
}

// Output returns the accumulated output for a record.
func (s *StatusService) Output(id uint) (OutputSnapshot, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return OutputSnapshot{}, err
	}
	return OutputSnapshot{
		Status:   rec.Status,
		Output:   rec.Output,
		ErrorLog: rec.ErrorLog,
	}, nil
}

// Get returns the full record.
func (s *StatusService) Get(id uint) (models.TaskExecution, error) {
	return s.store.Get(id)
}

// List returns recent records, most recent first.
func (s *StatusService) List(limit int) ([]models.TaskExecution, error) {
	return s.store.List(limit)
}

// RequestStop asks for cancellation of a record. It is a request, not a
// synchronous guarantee: for a running task the caller re-polls status until
// the stopped transition is observed.
func (s *StatusService) RequestStop(id uint) (StopReply, error) {
	outcome, rec, err := s.store.RequestStop(id)
	if err != nil {
		return StopReply{}, err
	}

	switch outcome {
	case StopPending:
		return StopReply{Success: true, Message: "Task stopped before it started"}, nil
	case StopSignalled:
		s.engine.terminate(id)
		return StopReply{Success: true, Message: "Stop signal sent, task is terminating"}, nil
	default:
		return StopReply{
			Success: false,
			Message: fmt.Sprintf("Task is not running (status: %s)", rec.Status),
		}, nil
	}
}

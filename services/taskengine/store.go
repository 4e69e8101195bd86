package taskengine

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"nse_trading_system/models"

	"gorm.io/gorm"
)

// flushEvery is how many appended output lines may accumulate before the
// record's database row is rewritten. The row is always rewritten on a
// status transition.
const flushEvery = 10

const stoppedMarker = "\n--- TASK STOPPED BY USER ---\n"

// StopOutcome describes what RequestStop did with a record.
type StopOutcome int

const (
	// StopTerminal means the record was already completed, failed or stopped.
	StopTerminal StopOutcome = iota
	// StopPending means the record was stopped before it ever ran.
	StopPending
	// StopSignalled means the record is running and the cancellation flag
	// is now set; the caller must deliver the termination signal.
	StopSignalled
)

// liveRecord is the in-memory authority for a record that has not reached a
// terminal state. Readers are served from it so a polling client sees
// partial output without waiting for a database flush.
type liveRecord struct {
	rec           models.TaskExecution
	stopRequested bool
	unflushed     int
}

// Store owns every task execution record. All mutation is funnelled through
// its mutex: the executing worker is the only writer for a given record, and
// concurrent readers always get a consistent snapshot.
type Store struct {
	db   *gorm.DB
	mu   sync.Mutex
	live map[uint]*liveRecord
}

// NewStore creates a task execution store backed by the given database.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:   db,
		live: make(map[uint]*liveRecord),
	}
}

// Create inserts a new pending record for a submission.
func (s *Store) Create(taskName, command string, queue models.QueueName) (models.TaskExecution, error) {
	rec := models.TaskExecution{
		TaskName: taskName,
		Command:  command,
		Queue:    string(queue),
		Status:   models.StatusPending,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Create(&rec).Error; err != nil {
		return models.TaskExecution{}, fmt.Errorf("failed to create task execution: %w", err)
	}
	s.live[rec.ID] = &liveRecord{rec: rec}

	return rec, nil
}

// Get returns a snapshot of a record. Live records are served from memory,
// terminal ones from the database.
func (s *Store) Get(id uint) (models.TaskExecution, error) {
	s.mu.Lock()
	if lr, ok := s.live[id]; ok {
		rec := lr.rec
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	var rec models.TaskExecution
	if err := s.db.First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TaskExecution{}, ErrNotFound
		}
		return models.TaskExecution{}, err
	}
	return rec, nil
}

// List returns up to limit records, most recent first. Records still in
// flight are overlaid with their live snapshot.
func (s *Store) List(limit int) ([]models.TaskExecution, error) {
	var recs []models.TaskExecution
	if err := s.db.Order("id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}

	s.mu.Lock()
	for i := range recs {
		if lr, ok := s.live[recs[i].ID]; ok {
			recs[i] = lr.rec
		}
	}
	s.mu.Unlock()

	return recs, nil
}

// TryStart claims a pending record for execution. The claim loses to a
// concurrent stop request: at most one of {start, stop-while-pending} wins.
func (s *Store) TryStart(id uint) (models.TaskExecution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lr, ok := s.live[id]
	if !ok || lr.rec.Status != models.StatusPending || lr.stopRequested {
		return models.TaskExecution{}, false
	}

	now := time.Now()
	lr.rec.Status = models.StatusRunning
	lr.rec.StartedAt = &now
	s.persist(lr)

	return lr.rec, true
}

// AppendOutput appends one captured stdout line to a running record.
// Appends against a record that has already reached a terminal state are
// dropped, so output is frozen the moment the record finishes.
func (s *Store) AppendOutput(id uint, line string) {
	s.appendChunk(id, line, false)
}

// AppendErrorLog appends one captured stderr line to a running record.
func (s *Store) AppendErrorLog(id uint, line string) {
	s.appendChunk(id, line, true)
}

func (s *Store) appendChunk(id uint, line string, errLog bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lr, ok := s.live[id]
	if !ok || lr.rec.Status != models.StatusRunning {
		return
	}

	if errLog {
		lr.rec.ErrorLog += line + "\n"
	} else {
		lr.rec.Output += line + "\n"
	}

	lr.unflushed++
	if lr.unflushed >= flushEvery {
		s.persist(lr)
	}
}

// Finish moves a record to a terminal state. It refuses records that are
// already terminal, which makes the normal-completion/forced-stop race safe:
// whichever transition arrives first wins, the other is a no-op.
func (s *Store) Finish(id uint, status models.TaskStatus, errNote string) bool {
	if !status.Terminal() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lr, ok := s.live[id]
	if !ok || lr.rec.Status.Terminal() {
		return false
	}

	now := time.Now()
	lr.rec.Status = status
	lr.rec.CompletedAt = &now
	if errNote != "" {
		if lr.rec.ErrorLog != "" {
			lr.rec.ErrorLog += "\n"
		}
		lr.rec.ErrorLog += errNote
	}
	if status == models.StatusStopped {
		lr.rec.Output += stoppedMarker
	}

	s.persist(lr)
	delete(s.live, id)

	return true
}

// RequestStop sets the cancellation flag on a record. Stopping a pending
// record marks it stopped directly, without it ever running; stopping a
// running record only flags it, and the caller terminates the process.
func (s *Store) RequestStop(id uint) (StopOutcome, models.TaskExecution, error) {
	s.mu.Lock()

	lr, ok := s.live[id]
	if !ok {
		s.mu.Unlock()
		// Terminal records only exist in the database.
		rec, err := s.Get(id)
		if err != nil {
			return StopTerminal, models.TaskExecution{}, err
		}
		return StopTerminal, rec, nil
	}

	switch lr.rec.Status {
	case models.StatusPending:
		lr.stopRequested = true
		now := time.Now()
		lr.rec.Status = models.StatusStopped
		lr.rec.CompletedAt = &now
		lr.rec.Output += stoppedMarker
		s.persist(lr)
		rec := lr.rec
		delete(s.live, id)
		s.mu.Unlock()
		return StopPending, rec, nil

	case models.StatusRunning:
		lr.stopRequested = true
		rec := lr.rec
		s.mu.Unlock()
		return StopSignalled, rec, nil
	}

	rec := lr.rec
	s.mu.Unlock()
	return StopTerminal, rec, nil
}

// StopRequested reports whether cancellation was requested for a record.
func (s *Store) StopRequested(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	lr, ok := s.live[id]
	return ok && lr.stopRequested
}

// HasActive reports whether any pending or running record exists for a task
// name. Used by the scheduler's skip-if-active policy.
func (s *Store) HasActive(taskName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lr := range s.live {
		if lr.rec.TaskName == taskName && !lr.rec.Status.Terminal() {
			return true
		}
	}
	return false
}

// RecoverInterrupted fails any records a previous process left non-terminal.
// Missed work is not retried; the dashboard shows the interruption.
func (s *Store) RecoverInterrupted() error {
	now := time.Now()
	res := s.db.Model(&models.TaskExecution{}).
		Where("status IN ?", []models.TaskStatus{models.StatusPending, models.StatusRunning}).
		Updates(map[string]interface{}{
			"status":       models.StatusFailed,
			"error_log":    "task interrupted by backend restart",
			"completed_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to recover interrupted tasks: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Printf("Marked %d interrupted task(s) as failed", res.RowsAffected)
	}
	return nil
}

// persist rewrites the record's row. Callers hold the store mutex.
func (s *Store) persist(lr *liveRecord) {
	lr.unflushed = 0
	if err := s.db.Model(&models.TaskExecution{}).
		Where("id = ?", lr.rec.ID).
		Updates(map[string]interface{}{
			"status":       lr.rec.Status,
			"output":       lr.rec.Output,
			"error_log":    lr.rec.ErrorLog,
			"started_at":   lr.rec.StartedAt,
			"completed_at": lr.rec.CompletedAt,
		}).Error; err != nil {
		log.Printf("Failed to persist task execution %d: %v", lr.rec.ID, err)
	}
}

package taskengine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"nse_trading_system/models"
	"nse_trading_system/services/catalog"
)

// Config holds worker pool settings for the task engine.
type Config struct {
	// Workers is the concurrency limit per queue. Trading and events run a
	// single worker so their tasks are strictly serialized.
	Workers map[models.QueueName]int

	// Backlog is the pending capacity per queue.
	Backlog int

	// StopGrace is how long a terminated process gets between SIGTERM and
	// SIGKILL.
	StopGrace time.Duration
}

// DefaultConfig returns the standard queue topology.
func DefaultConfig() Config {
	return Config{
		Workers: map[models.QueueName]int{
			models.QueueDataCollection: 2,
			models.QueueAnalysis:       2,
			models.QueueTrading:        1,
			models.QueueEvents:         1,
		},
		Backlog:   100,
		StopGrace: 5 * time.Second,
	}
}

type job struct {
	id      uint
	command string
}

type queue struct {
	name    models.QueueName
	workers int
	jobs    chan job
}

// execHandle tracks a running process so a stop request can signal it.
type execHandle struct {
	proc *os.Process
	done chan struct{}
}

// Engine routes submitted tasks to per-queue worker pools and executes them
// as subprocesses with incrementally captured output.
type Engine struct {
	store   *Store
	catalog *catalog.Catalog
	cfg     Config

	queues map[models.QueueName]*queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// submitMu keeps record creation and enqueue atomic so per-queue FIFO
	// order matches submission order under concurrent submitters.
	submitMu sync.Mutex

	procMu sync.Mutex
	procs  map[uint]*execHandle
}

// NewEngine creates a task engine over the given store and catalog.
func NewEngine(store *Store, cat *catalog.Catalog, cfg Config) *Engine {
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultConfig().Backlog
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultConfig().StopGrace
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		store:   store,
		catalog: cat,
		cfg:     cfg,
		queues:  make(map[models.QueueName]*queue),
		ctx:     ctx,
		cancel:  cancel,
		procs:   make(map[uint]*execHandle),
	}

	defaults := DefaultConfig().Workers
	for _, name := range models.AllQueues() {
		workers := cfg.Workers[name]
		if workers <= 0 {
			workers = defaults[name]
		}
		e.queues[name] = &queue{
			name:    name,
			workers: workers,
			jobs:    make(chan job, cfg.Backlog),
		}
	}

	return e
}

// Start recovers interrupted records and launches the worker pools.
func (e *Engine) Start() error {
	if err := e.store.RecoverInterrupted(); err != nil {
		return err
	}

	for _, q := range e.queues {
		for i := 0; i < q.workers; i++ {
			e.wg.Add(1)
			go e.worker(q)
		}
	}

	log.Printf("Task engine started (%d queues)", len(e.queues))
	return nil
}

// Stop shuts the engine down: workers exit, and any still-running processes
// receive the termination sequence.
func (e *Engine) Stop() {
	e.cancel()

	e.procMu.Lock()
	ids := make([]uint, 0, len(e.procs))
	for id := range e.procs {
		ids = append(ids, id)
	}
	e.procMu.Unlock()

	for _, id := range ids {
		e.terminate(id)
	}

	e.wg.Wait()
	log.Println("Task engine stopped")
}

// Submit validates the task name, creates a pending record, and enqueues it
// on the task's queue. It returns as soon as the record is queued; execution
// failures never reach the submitter.
func (e *Engine) Submit(taskName, overrideCommand string) (models.TaskExecution, error) {
	def, err := e.catalog.Lookup(taskName)
	if err != nil {
		return models.TaskExecution{}, err
	}

	command := def.Command
	if overrideCommand != "" {
		command = overrideCommand
	}

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	rec, err := e.store.Create(def.Name, command, def.Queue)
	if err != nil {
		return models.TaskExecution{}, err
	}

	q := e.queues[def.Queue]
	select {
	case q.jobs <- job{id: rec.ID, command: command}:
	default:
		e.store.Finish(rec.ID, models.StatusFailed, ErrQueueFull.Error())
		return models.TaskExecution{}, fmt.Errorf("queue %s: %w", def.Queue, ErrQueueFull)
	}

	log.Printf("Task %d (%s) queued on %s", rec.ID, def.Name, def.Queue)
	return rec, nil
}

// worker pulls the oldest pending job and executes it. A job whose record
// was stopped while still pending fails the claim and is skipped.
func (e *Engine) worker(q *queue) {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case j := <-q.jobs:
			rec, ok := e.store.TryStart(j.id)
			if !ok {
				continue
			}
			e.runTask(rec)
		}
	}
}

func (e *Engine) trackProcess(id uint, proc *os.Process) *execHandle {
	h := &execHandle{proc: proc, done: make(chan struct{})}
	e.procMu.Lock()
	e.procs[id] = h
	e.procMu.Unlock()
	return h
}

func (e *Engine) untrackProcess(id uint, h *execHandle) {
	close(h.done)
	e.procMu.Lock()
	delete(e.procs, id)
	e.procMu.Unlock()
}

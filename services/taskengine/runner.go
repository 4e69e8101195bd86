package taskengine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"nse_trading_system/models"
)

// runTask executes one claimed record as a subprocess. The process gets its
// own process group so a stop request can signal the whole tree, and stdout
// and stderr are streamed into the record line by line while it runs.
func (e *Engine) runTask(rec models.TaskExecution) {
	argv := strings.Fields(rec.Command)
	if len(argv) == 0 {
		e.store.Finish(rec.ID, models.StatusFailed, "empty command")
		return
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.store.Finish(rec.ID, models.StatusFailed, fmt.Sprintf("failed to open stdout pipe: %v", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		e.store.Finish(rec.ID, models.StatusFailed, fmt.Sprintf("failed to open stderr pipe: %v", err))
		return
	}

	if err := cmd.Start(); err != nil {
		e.store.Finish(rec.ID, models.StatusFailed, fmt.Sprintf("failed to start command: %v", err))
		return
	}

	h := e.trackProcess(rec.ID, cmd.Process)

	// A stop request that raced with startup may have found no process to
	// signal; deliver it now that the handle is registered.
	if e.store.StopRequested(rec.ID) {
		e.terminate(rec.ID)
	}

	var scanners sync.WaitGroup
	scanners.Add(2)
	go func() {
		defer scanners.Done()
		e.scanInto(rec.ID, stdout, e.store.AppendOutput)
	}()
	go func() {
		defer scanners.Done()
		e.scanInto(rec.ID, stderr, e.store.AppendErrorLog)
	}()

	scanners.Wait()
	waitErr := cmd.Wait()
	e.untrackProcess(rec.ID, h)

	switch {
	case e.store.StopRequested(rec.ID):
		e.store.Finish(rec.ID, models.StatusStopped, "")
		log.Printf("Task %d (%s) stopped", rec.ID, rec.TaskName)
	case waitErr != nil:
		e.store.Finish(rec.ID, models.StatusFailed, exitMessage(waitErr))
		log.Printf("Task %d (%s) failed: %v", rec.ID, rec.TaskName, waitErr)
	default:
		e.store.Finish(rec.ID, models.StatusCompleted, "")
		log.Printf("Task %d (%s) completed", rec.ID, rec.TaskName)
	}
}

// scanInto streams lines from a pipe into the record until EOF. Appends
// arriving after the record went terminal are dropped by the store.
func (e *Engine) scanInto(id uint, r io.Reader, sink func(uint, string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink(id, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		e.store.AppendErrorLog(id, fmt.Sprintf("output capture aborted: %v", err))
		// Keep draining so the process is never blocked writing to a full
		// pipe after capture stops.
		io.Copy(io.Discard, r)
	}
}

// terminate signals a running task's process group: SIGTERM first, then
// SIGKILL if it has not exited within the grace period.
func (e *Engine) terminate(id uint) {
	e.procMu.Lock()
	h := e.procs[id]
	e.procMu.Unlock()
	if h == nil {
		return
	}

	pgid := h.proc.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		// Process group already gone; the worker finishes the record.
		return
	}

	go func() {
		select {
		case <-h.done:
		case <-time.After(e.cfg.StopGrace):
			if err := syscall.Kill(-pgid, syscall.SIGKILL); err == nil {
				log.Printf("Task %d force killed after %v grace", id, e.cfg.StopGrace)
			}
		}
	}()
}

// exitMessage renders a Wait error the way the dashboard shows it.
func exitMessage(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("process exited with code %d", exitErr.ExitCode())
	}
	return fmt.Sprintf("task execution failed: %v", err)
}

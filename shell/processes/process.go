package processes

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ProcessLogEntry is one line of backend output.
type ProcessLogEntry struct {
	ID        int64
	Timestamp time.Time
	Source    string // "stdout" or "stderr"
	Message   string
	PID       int
}

// LogBuffer keeps the most recent lines of backend output.
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []ProcessLogEntry
	capacity int
	nextID   int64
}

// NewLogBuffer creates a new log buffer with the specified capacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &LogBuffer{
		entries:  make([]ProcessLogEntry, 0, capacity),
		capacity: capacity,
		nextID:   1,
	}
}

// AddEntry appends a line, dropping the oldest when full.
func (lb *LogBuffer) AddEntry(source, message string, pid int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	entry := ProcessLogEntry{
		ID:        lb.nextID,
		Timestamp: time.Now(),
		Source:    source,
		Message:   message,
		PID:       pid,
	}
	if len(lb.entries) >= lb.capacity {
		lb.entries = lb.entries[1:]
	}
	lb.entries = append(lb.entries, entry)
	lb.nextID++
}

// GetLatestEntries returns the most recent count entries, oldest first.
func (lb *LogBuffer) GetLatestEntries(count int) []ProcessLogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if count <= 0 || len(lb.entries) == 0 {
		return []ProcessLogEntry{}
	}
	start := len(lb.entries) - count
	if start < 0 {
		start = 0
	}
	result := make([]ProcessLogEntry, len(lb.entries)-start)
	copy(result, lb.entries[start:])
	return result
}

// ProcessState is the lifecycle of a spawned backend.
type ProcessState int

const (
	// StateRunning means the process was started and has not been asked to stop.
	StateRunning ProcessState = iota
	// StateStopping means the termination signal was sent.
	StateStopping
	// StateExited means the process has been reaped.
	StateExited
)

func (ps ProcessState) String() string {
	switch ps {
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateExited:
		return "Exited"
	default:
		return "InvalidState"
	}
}

// Process is a spawned backend as seen by the handle and the coordinator.
type Process interface {
	Pid() int
	// Terminate signals the process to stop and returns without waiting.
	Terminate() error
	// Done is closed once the process has been reaped.
	Done() <-chan struct{}
	// ExitErr is the result of waiting on the process; valid after Done.
	ExitErr() error
	// RecentOutput returns up to n of the last output lines.
	RecentOutput(n int) []string
	// Uptime is the time since the process was started.
	Uptime() time.Duration
}

// BackendProcess is a running backend server started by Launcher.
type BackendProcess struct {
	Spec      LaunchSpec
	LogBuffer *LogBuffer

	cmd       *exec.Cmd
	pid       int
	startTime time.Time
	done      chan struct{}
	stdout    *lineWriter
	stderr    *lineWriter

	mu       sync.Mutex
	state    ProcessState
	exitErr  error
	exitTime time.Time
}

func newBackendProcess(spec LaunchSpec, logger *slog.Logger, capacity int) *BackendProcess {
	bp := &BackendProcess{
		Spec:      spec,
		LogBuffer: NewLogBuffer(capacity),
		done:      make(chan struct{}),
	}
	bp.stdout = &lineWriter{source: "stdout", emit: bp.emitter(logger.Info)}
	bp.stderr = &lineWriter{source: "stderr", emit: bp.emitter(logger.Warn)}
	return bp
}

func (bp *BackendProcess) emitter(log func(msg string, args ...any)) func(source, line string) {
	return func(source, line string) {
		pid := bp.Pid()
		bp.LogBuffer.AddEntry(source, line, pid)
		log("Backend "+source, "pid", pid, "output", line)
	}
}

func (bp *BackendProcess) attach(cmd *exec.Cmd) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.cmd = cmd
	bp.pid = cmd.Process.Pid
	bp.startTime = time.Now()
	bp.state = StateRunning
}

// reap waits for the process and records how it ended.
func (bp *BackendProcess) reap() {
	err := bp.cmd.Wait()
	bp.stdout.Flush()
	bp.stderr.Flush()

	bp.mu.Lock()
	bp.exitErr = err
	bp.exitTime = time.Now()
	bp.state = StateExited
	bp.mu.Unlock()
	close(bp.done)
}

// Pid returns the OS process id.
func (bp *BackendProcess) Pid() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.pid
}

// Uptime is how long the process has been running, or ran for once reaped.
func (bp *BackendProcess) Uptime() time.Duration {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.state == StateExited {
		return bp.exitTime.Sub(bp.startTime)
	}
	return time.Since(bp.startTime)
}

// Terminate sends the platform termination signal. Exit is not awaited. A process
// that has already been reaped is not signalled.
func (bp *BackendProcess) Terminate() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	select {
	case <-bp.done:
		return nil
	default:
	}
	if bp.state == StateExited {
		return nil
	}
	bp.state = StateStopping

	// os.Process knows when Wait has reaped the child, even before reap records it.
	if err := terminate(bp.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Done is closed once the process has been reaped.
func (bp *BackendProcess) Done() <-chan struct{} {
	return bp.done
}

// ExitErr returns the error from waiting on the process.
func (bp *BackendProcess) ExitErr() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.exitErr
}

// RecentOutput returns up to n of the last output lines.
func (bp *BackendProcess) RecentOutput(n int) []string {
	entries := bp.LogBuffer.GetLatestEntries(n)
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Message
	}
	return lines
}

// lineWriter splits a byte stream into lines. exec copies each stream from a single
// goroutine, so Write is never called concurrently for one writer.
type lineWriter struct {
	source  string
	emit    func(source, line string)
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.pending[:i], "\r")
		w.emit(w.source, string(line))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	if len(w.pending) > 0 {
		w.emit(w.source, string(w.pending))
		w.pending = nil
	}
}

package processes

import "sync"

// Handle owns the single live backend process of a supervisor. The spawn step writes
// it once and the exit handler takes it out; both go through the same lock.
type Handle struct {
	mu   sync.Mutex
	proc Process
}

// Set stores proc. It fails with ErrAlreadyRunning while another process is held.
func (h *Handle) Set(proc Process) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.proc != nil {
		return ErrAlreadyRunning
	}
	h.proc = proc
	return nil
}

// Current returns the held process, or nil.
func (h *Handle) Current() Process {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.proc
}

// Terminate empties the handle and signals the process it held. It returns the
// process that was signalled, or nil when the handle was already empty. Exit is not
// awaited: callers are tearing the host down and cannot act on the result.
func (h *Handle) Terminate() (Process, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	proc := h.proc
	if proc == nil {
		return nil, nil
	}
	h.proc = nil
	return proc, proc.Terminate()
}

package processes

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProcess struct {
	pid        int
	terminated atomic.Int32
	done       chan struct{}
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (f *fakeProcess) Pid() int                    { return f.pid }
func (f *fakeProcess) Done() <-chan struct{}       { return f.done }
func (f *fakeProcess) ExitErr() error              { return nil }
func (f *fakeProcess) RecentOutput(n int) []string { return nil }
func (f *fakeProcess) Uptime() time.Duration       { return time.Second }

func (f *fakeProcess) Terminate() error {
	f.terminated.Add(1)
	return nil
}

func TestHandleSetTwice(t *testing.T) {
	var h Handle
	if err := h.Set(newFakeProcess(1)); err != nil {
		t.Fatalf("first Set returned error: %v", err)
	}
	if err := h.Set(newFakeProcess(2)); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Set error = %v, want ErrAlreadyRunning", err)
	}
	if h.Current().Pid() != 1 {
		t.Errorf("Current pid = %d, want 1", h.Current().Pid())
	}
}

func TestHandleTerminateOnce(t *testing.T) {
	var h Handle
	proc := newFakeProcess(7)
	if err := h.Set(proc); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	var wg sync.WaitGroup
	var signalled atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := h.Terminate()
			if err != nil {
				t.Errorf("Terminate returned error: %v", err)
			}
			if p != nil {
				signalled.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := proc.terminated.Load(); got != 1 {
		t.Errorf("process terminated %d times, want 1", got)
	}
	if got := signalled.Load(); got != 1 {
		t.Errorf("%d callers saw the process, want 1", got)
	}
	if h.Current() != nil {
		t.Error("handle should be empty after Terminate")
	}
}

func TestHandleTerminateEmpty(t *testing.T) {
	var h Handle
	p, err := h.Terminate()
	if p != nil || err != nil {
		t.Errorf("Terminate on empty handle = (%v, %v), want (nil, nil)", p, err)
	}
}

package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("lifecycle: already started")
	// ErrReadinessTimeout means the backend never accepted a connection.
	ErrReadinessTimeout = errors.New("lifecycle: backend did not become ready")
	// ErrShuttingDown is returned by Start when shutdown began before startup finished.
	ErrShuttingDown = errors.New("lifecycle: shutting down")
	// ErrBackendExited means the backend exited before accepting a connection.
	ErrBackendExited = errors.New("lifecycle: backend exited before becoming ready")
	// ErrUnknownCommand is returned for menu commands the shell does not handle.
	ErrUnknownCommand = errors.New("lifecycle: unknown command")
	// ErrNoWindow is returned by window commands before the window exists.
	ErrNoWindow = errors.New("lifecycle: no window")
)

// WindowError reports a failure to create, navigate or show the main window.
type WindowError struct {
	Op  string
	Err error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("lifecycle: window %s: %v", e.Op, e.Err)
}

func (e *WindowError) Unwrap() error {
	return e.Err
}

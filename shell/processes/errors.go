package processes

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when a second backend is stored in a Handle.
	ErrAlreadyRunning = errors.New("processes: backend already running")
	// ErrMigrationTimeout is recorded when the one-shot migration outlives its bound.
	ErrMigrationTimeout = errors.New("processes: migration timed out")
)

// SpawnError reports a backend that could not be started.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("processes: spawn %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

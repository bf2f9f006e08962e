package lifecycle

// State is the coordinator's position in the startup and shutdown sequence.
type State int

const (
	// StateIdle is the state before Start.
	StateIdle State = iota
	// StateDirectoriesPrepared means the config, database and upload directories exist.
	StateDirectoriesPrepared
	// StateMigrated means the migration run finished, successfully or not.
	StateMigrated
	// StateLaunching covers port selection and spawning the backend.
	StateLaunching
	// StateAwaitingReadiness means the shell is polling the backend's port.
	StateAwaitingReadiness
	// StateReady means the backend accepted a connection.
	StateReady
	// StateRunning means the window is showing the backend.
	StateRunning
	// StateTerminating means Shutdown is signalling the backend.
	StateTerminating
	// StateTerminated is final.
	StateTerminated
	// StateDevAttached means development mode is waiting on an external backend.
	StateDevAttached
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateDirectoriesPrepared:
		return "DirectoriesPrepared"
	case StateMigrated:
		return "Migrated"
	case StateLaunching:
		return "Launching"
	case StateAwaitingReadiness:
		return "AwaitingReadiness"
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	case StateDevAttached:
		return "DevAttached"
	default:
		return "InvalidState"
	}
}

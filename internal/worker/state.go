package worker

// State is a worker session lifecycle state.
type State string

const (
	StateUninitialized        State = "uninitialized"
	StateInitializing         State = "initializing"
	StateReady                State = "ready"
	StateInitializationFailed State = "initialization_failed"
	StateServing              State = "serving"
	StateStopped              State = "stopped"
)

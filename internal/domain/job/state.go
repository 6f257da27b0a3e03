package job

import "fmt"

// State represents the current position of a job in its lifecycle. A job
// starts initialized, is admitted to scheduled, moves to running when a pool
// worker picks it up, and ends in exactly one of the terminal states.
type State string

const (
	// StateInitialized indicates a job has been created but is not yet under
	// scheduler control.
	StateInitialized State = "initialized"

	// StateScheduled indicates a job has been admitted and is waiting for a
	// pool worker.
	StateScheduled State = "scheduled"

	// StateRunning indicates a pool worker is executing the job.
	StateRunning State = "running"

	// StateCompleted indicates the job's work finished normally.
	StateCompleted State = "completed"

	// StateCanceled indicates the job was canceled by a caller.
	StateCanceled State = "canceled"

	// StateInterrupted indicates the job's work ended abnormally.
	StateInterrupted State = "interrupted"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether the state is absorbing. Once a job reaches a
// terminal state it never transitions again.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCanceled, StateInterrupted:
		return true
	default:
		return false
	}
}

// ParseState converts a string to a State. Unknown values map to the empty
// state.
func ParseState(s string) State {
	switch State(s) {
	case StateInitialized, StateScheduled, StateRunning, StateCompleted, StateCanceled, StateInterrupted:
		return State(s)
	default:
		return ""
	}
}

// ValidateTransition checks if a state transition is valid and returns an
// error if not.
func (s State) ValidateTransition(target State) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job state transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the job lifecycle rules. Nothing ever returns to
// initialized, and cancellation is reachable from both scheduled and running.
func (s State) isValidTransition(target State) bool {
	switch s {
	case StateInitialized:
		return target == StateScheduled
	case StateScheduled:
		return target == StateRunning || target == StateCanceled
	case StateRunning:
		return target == StateCompleted || target == StateCanceled || target == StateInterrupted
	case StateCompleted, StateCanceled, StateInterrupted:
		// Terminal states are absorbing.
		return false
	default:
		return false
	}
}

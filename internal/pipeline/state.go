package pipeline

import "fmt"

// State is the lifecycle position of one pipeline run.
type State string

const (
	StateIdle           State = "Idle"
	StateProvisioning   State = "Provisioning"
	StateToolchainReady State = "ToolchainReady"
	StateBuilding       State = "Building"
	StateBuilt          State = "Built"
	StatePublished      State = "Published"
	StateFailed         State = "Failed"
)

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s State) bool {
	return s == StatePublished || s == StateFailed
}

func isAllowedTransition(from, to State) bool {
	if to == StateFailed {
		return !IsTerminal(from)
	}
	switch from {
	case StateIdle:
		return to == StateProvisioning
	case StateProvisioning:
		return to == StateToolchainReady
	case StateToolchainReady:
		return to == StateBuilding
	case StateBuilding:
		return to == StateBuilt
	case StateBuilt:
		return to == StatePublished
	default:
		return false
	}
}

// Machine tracks the current state and the state a failure happened in.
type Machine struct {
	current     State
	failedState State
}

func NewMachine() *Machine {
	return &Machine{current: StateIdle}
}

func (m *Machine) Current() State {
	return m.current
}

// FailedState is the state the run was in when it moved to Failed, or ""
// if it has not failed.
func (m *Machine) FailedState() State {
	return m.failedState
}

// Transition moves to the next state. Disallowed transitions are reported
// and leave the machine unchanged.
func (m *Machine) Transition(to State) error {
	if !isAllowedTransition(m.current, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", m.current, to)
	}
	if to == StateFailed {
		m.failedState = m.current
	}
	m.current = to
	return nil
}

// Fail moves to Failed from any non-terminal state.
func (m *Machine) Fail() error {
	return m.Transition(StateFailed)
}

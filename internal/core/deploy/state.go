package deploy

import (
	"errors"
	"fmt"
)

// =============================================================================
// Stack Lifecycle States
// =============================================================================

// StackState is the observed lifecycle state of one deployment target.
type StackState string

const (
	StateAbsent     StackState = "absent"
	StateCreating   StackState = "creating"
	StateUpdating   StackState = "updating"
	StateConverging StackState = "converging"
	StateStable     StackState = "stable"
	StateFailed     StackState = "failed"
)

// ErrInvalidState is returned when a platform reports a state this tool does
// not recognize.
var ErrInvalidState = errors.New("unrecognized stack state")

// CanIssueDeploy reports whether a new deploy operation may be issued from
// this state. Mutating a stack that is mid-operation is never safe; only a
// missing or settled stack accepts a new operation.
func (s StackState) CanIssueDeploy() bool {
	return s == StateAbsent || s == StateStable
}

// InProgress reports whether the platform is still converging toward a
// requested state.
func (s StackState) InProgress() bool {
	switch s {
	case StateCreating, StateUpdating, StateConverging:
		return true
	default:
		return false
	}
}

// Terminal reports whether polling can stop at this state.
func (s StackState) Terminal() bool {
	return s == StateStable || s == StateFailed
}

func (s StackState) String() string {
	return string(s)
}

// ParseState converts a raw state string into a StackState.
func ParseState(raw string) (StackState, error) {
	switch StackState(raw) {
	case StateAbsent, StateCreating, StateUpdating, StateConverging, StateStable, StateFailed:
		return StackState(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidState, raw)
	}
}

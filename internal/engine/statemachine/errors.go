package statemachine

import "fmt"

// IllegalTransitionError means the event is not valid from the
// entity's current state. Caller error, never retried.
type IllegalTransitionError struct {
	Machine string
	State   State
	Event   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s: event %q is not allowed from state %q", e.Machine, e.Event, e.State.Name)
}

// GuardError means a before hook rejected the transition. The entity
// state is untouched.
type GuardError struct {
	Event string
	Err   error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("transition %q rejected by guard: %v", e.Event, e.Err)
}

func (e *GuardError) Unwrap() error { return e.Err }

// MissingArgumentError means a hook-declared required argument was
// absent from the event arguments. Caller error.
type MissingArgumentError struct {
	Event string
	Key   string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("transition %q requires argument %q", e.Event, e.Key)
}

// HookError means an after hook failed once the state change was
// already applied. It is surfaced but not rolled back unless the
// caller's transaction scope rolls back.
type HookError struct {
	Event string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("after hook for %q failed: %v", e.Event, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

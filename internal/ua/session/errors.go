package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrNotRegistered indicates the account is not in the Registered state.
	ErrNotRegistered = errors.New("not registered")

	// ErrOperationInProgress indicates another operation of the same kind is
	// still awaiting its outcome.
	ErrOperationInProgress = errors.New("operation in progress")

	// ErrTimeout indicates the registrar did not answer (408).
	ErrTimeout = errors.New("timeout")

	// ErrCallTerminated indicates the call has already reached Disconnected.
	ErrCallTerminated = errors.New("call terminated")

	// ErrNoAccount indicates no account has been created.
	ErrNoAccount = errors.New("no account")

	// ErrBuddyExists indicates the buddy is already in the list.
	ErrBuddyExists = errors.New("buddy already exists")

	// ErrInvalidState indicates an invalid state for the operation.
	ErrInvalidState = errors.New("invalid state for operation")
)

// RegistrationFailedError reports a failing registration confirmation.
type RegistrationFailedError struct {
	StatusCode int
	Reason     string
}

// Error returns the error message.
func (e *RegistrationFailedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("registration failed: %d %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("registration failed: %d", e.StatusCode)
}

// SetupFailedError reports a call that disconnected before it was confirmed.
type SetupFailedError struct {
	StatusCode int
	Reason     string
}

// Error returns the error message.
func (e *SetupFailedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("call setup failed: %d %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("call setup failed: %d", e.StatusCode)
}

// EngineCommandError wraps a failure returned by an engine command.
type EngineCommandError struct {
	Op    string
	Cause error
}

// Error returns the error message.
func (e *EngineCommandError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error.
func (e *EngineCommandError) Unwrap() error {
	return e.Cause
}

func engineErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineCommandError{Op: op, Cause: err}
}

// StateTransitionError indicates an operation was attempted in the wrong state.
type StateTransitionError struct {
	Entity string       // "account" or "call"
	ID     string       // Entity identifier
	From   fmt.Stringer // Current state
	Op     string       // Attempted operation
}

// Error returns the error message.
func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s in state %s", e.Entity, e.ID, e.Op, e.From)
}

// Unwrap returns ErrInvalidState.
func (e *StateTransitionError) Unwrap() error {
	return ErrInvalidState
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrNoPendingTasks indicates that no claimable task is currently queued.
	ErrNoPendingTasks = errors.New("no pending tasks")
	// ErrNumberNotRetryable indicates a manual retry was requested for a
	// number that is not in the failed status.
	ErrNumberNotRetryable = errors.New("number is not in failed status")
	// ErrNumberCancelled indicates an operation was requested against a
	// number already in its terminal cancelled status.
	ErrNumberCancelled = errors.New("number is cancelled")
)

// ValidationError is a client error on enqueue or trigger input. It is
// rejected synchronously and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError is returned when a lifecycle update would violate
// the number state machine.
type InvalidTransitionError struct {
	From NumberStatus
	To   NumberStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid number status transition %s -> %s", e.From, e.To)
}

package model

import "errors"

var (
	// ErrInvalidDefinition marks a task definition that cannot be scheduled.
	// Callers surface it to study administrators; it is never retried.
	ErrInvalidDefinition = errors.New("invalid task definition")

	// ErrInvalidRule marks a malformed branching condition.
	ErrInvalidRule = errors.New("invalid condition rule")
)

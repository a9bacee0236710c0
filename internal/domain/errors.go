package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine and its stores.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStepOrder         = fmt.Errorf("step order violation: %w", ErrInvalidTransition)
	ErrConcurrentUpdate  = errors.New("concurrent update")
	ErrDuplicateAlert    = errors.New("active alert already exists")
	ErrDuplicateNumber   = errors.New("reference number already taken")
)

// ValidationError reports a rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError reports an illegal status change. The entity is unchanged.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
	Step   bool
}

func (e *TransitionError) Error() string {
	if e.Step {
		return fmt.Sprintf("%s %s: step %s completed out of order (current %s)", e.Entity, e.ID, e.To, e.From)
	}
	return fmt.Sprintf("%s %s: cannot transition from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	if e.Step {
		return ErrStepOrder
	}
	return ErrInvalidTransition
}

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

package domain

import (
	"errors"
	"fmt"
)

// Sentinel error classes. Typed errors below match them through errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// ValidationError reports a malformed or out-of-range attribute.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Kind, e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError is returned when an operation references a missing or removed id.
type NotFoundError struct {
	Kind    Kind
	ID      int64
	Name    string
	Deleted bool
}

func (e NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s with name %q not found", e.Kind, e.Name)
	}
	if e.Deleted {
		return fmt.Sprintf("%s with ID %d has already been deleted", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s with ID %d not found", e.Kind, e.ID)
}

// Is reports whether target is ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DuplicateKeyError is returned when a create collides with an existing id or
// a unique attribute value.
type DuplicateKeyError struct {
	Kind  Kind
	ID    int64
	Field string
	Value any
}

func (e DuplicateKeyError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s with %s %v already exists", e.Kind, e.Field, e.Value)
	}
	return fmt.Sprintf("%s with ID %d already exists", e.Kind, e.ID)
}

// Is reports whether target is ErrDuplicateKey.
func (e DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

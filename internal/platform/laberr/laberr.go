// Package laberr defines the error taxonomy shared by the workflow engine.
// Every failure surfaced by a service wraps exactly one of the sentinel
// kinds below so that callers can discriminate with errors.Is without
// parsing messages.
package laberr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: a referenced entity does not exist. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition: a state-machine edge is not permitted.
	// The wrapped message carries the attempted and current states.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPreconditionFailed: the entity is in a valid state but a business
	// precondition is unmet (e.g. processing a specimen whose quality is
	// not acceptable).
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrDuplicateKey: a unique business identifier collided at creation.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConflict: an optimistic-concurrency update lost a race and should
	// be retried by the caller with fresh state.
	ErrConflict = errors.New("concurrent modification")
)

// NotFound reports a missing entity, e.g. NotFound("lab order", id).
func NotFound(entity string, id interface{}) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}

// InvalidTransition reports a rejected state-machine edge.
func InvalidTransition(entity, from, to string) error {
	return fmt.Errorf("%s cannot transition from %s to %s: %w", entity, from, to, ErrInvalidTransition)
}

// Precondition reports an unmet business precondition.
func Precondition(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrPreconditionFailed)...)
}

// Duplicate reports a unique-key collision on a business identifier.
func Duplicate(entity, key string) error {
	return fmt.Errorf("%s %q already exists: %w", entity, key, ErrDuplicateKey)
}

// Conflict reports a lost optimistic-concurrency race.
func Conflict(entity string, id interface{}) error {
	return fmt.Errorf("%s %v was modified concurrently: %w", entity, id, ErrConflict)
}

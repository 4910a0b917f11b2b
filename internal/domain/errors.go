package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur while running or recovering snapshots.
var (
	// ErrRunInProgress indicates the client already has a running snapshot.
	ErrRunInProgress = errors.New("a snapshot is already running for this client")

	// ErrNoProvidersEnabled indicates no provider is both configured and on
	// the execution path.
	ErrNoProvidersEnabled = errors.New("no providers enabled")

	// ErrSnapshotNotFound indicates a snapshot lookup returned nothing.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrClientNotFound indicates the client does not exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrSnapshotNotRunning indicates a finalization targeted a snapshot that
	// already reached a terminal state, usually through recovery.
	ErrSnapshotNotRunning = errors.New("snapshot is not running")

	// ErrInvalidTransition indicates an illegal lifecycle transition.
	ErrInvalidTransition = errors.New("invalid snapshot transition")

	// ErrUnknownProvider indicates a provider name outside KnownProviders.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap lets callers match any ValidationError against ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

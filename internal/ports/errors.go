package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur when talking to the store,
// the lock backend or the metrics registry.
var (
	// ErrLockNotAcquired indicates that a run lock could not be obtained
	// before the context ended.
	ErrLockNotAcquired = errors.New("run lock not acquired")

	// ErrStoreUnavailable indicates that the persistence backend could not
	// be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrProviderDisabled indicates that an adapter was requested for a
	// provider with no credentials configured.
	ErrProviderDisabled = errors.New("provider not enabled")
)

// StoreError represents a failed persistence operation.
type StoreError struct {
	// Operation is the name of the store method that failed.
	Operation string

	// Key identifies the row involved, usually a snapshot or client id.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: operation=%s, key=%s, err=%v", e.Operation, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a new StoreError with the given details.
func NewStoreError(operation, key string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		Key:       key,
		Err:       err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}

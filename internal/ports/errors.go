package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur while talking to reference
// data collaborators.
var (
	// ErrServiceUnavailable indicates that the backing store is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrCorruptReference indicates stored reference data could not be decoded.
	ErrCorruptReference = errors.New("corrupt reference data")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// LookupError represents a failed call to a ReferenceLookup or
// ClassificationResolver. Absent data is not an error; LookupError only
// wraps storage failures.
type LookupError struct {
	// Operation is the name of the operation that failed.
	Operation string

	// Indicator is the indicator being scored when the failure occurred.
	Indicator string

	// AgeMonths is the lookup key age.
	AgeMonths int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for LookupError.
func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup error: operation=%s, indicator=%s, age_months=%d, err=%v",
		e.Operation, e.Indicator, e.AgeMonths, e.Err)
}

// Unwrap returns the underlying error.
func (e *LookupError) Unwrap() error { return e.Err }

// NewLookupError creates a new LookupError with the given details.
func NewLookupError(operation, indicator string, ageMonths int, err error) *LookupError {
	return &LookupError{
		Operation: operation,
		Indicator: indicator,
		AgeMonths: ageMonths,
		Err:       err,
	}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
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

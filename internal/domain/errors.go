package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors that can occur while scoring measurements.
var (
	// ErrInvalidDateRange indicates the assessment date precedes the birth date.
	ErrInvalidDateRange = errors.New("assessment date precedes birth date")

	// ErrMissingField indicates a required value is empty.
	ErrMissingField = errors.New("required value missing")

	// ErrInvalidDate indicates no supported date layout matched.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidNumber indicates a numeric token could not be parsed.
	ErrInvalidNumber = errors.New("invalid number")

	// ErrInvalidSex indicates a sex token matched no known synonym.
	ErrInvalidSex = errors.New("invalid sex")

	// ErrExtraCells indicates a row carries values past the last header
	// column, usually an unquoted decimal comma shifting the cells.
	ErrExtraCells = errors.New("more cells than header columns")

	// ErrInvalidMeasurement indicates a record failed structural validation.
	ErrInvalidMeasurement = errors.New("invalid measurement")

	// ErrEmptyPayload indicates a batch upload carried no bytes.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrUndecodablePayload indicates the payload is not valid UTF-8.
	ErrUndecodablePayload = errors.New("payload is not valid UTF-8")

	// ErrNoData indicates the decoded payload holds only whitespace.
	ErrNoData = errors.New("payload contains no data")

	// ErrNoHeader indicates the payload has no header row.
	ErrNoHeader = errors.New("missing header row")

	// ErrMissingHeaders indicates required canonical columns are absent.
	ErrMissingHeaders = errors.New("required headers not found")

	// ErrTooManyRows indicates a batch exceeded the configured row limit.
	ErrTooManyRows = errors.New("too many rows")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// FieldError is a row-scoped failure tied to one canonical field.
type FieldError struct {
	// Field is the canonical field name, e.g. "data_nascimento".
	Field string

	// Value is the raw token that failed to parse. Empty for missing values.
	Value string

	// Err is the underlying sentinel.
	Err error
}

// Error implements the error interface for FieldError.
func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v %q", e.Field, e.Err, e.Value)
}

// Unwrap returns the underlying error, supporting Go 1.13+ error unwrapping.
func (e *FieldError) Unwrap() error { return e.Err }

// NewFieldError creates a new FieldError with the given details.
func NewFieldError(field, value string, err error) *FieldError {
	return &FieldError{Field: field, Value: value, Err: err}
}

// FileError is a batch-aborting failure. No partial outcome accompanies it.
type FileError struct {
	// Stage names the pipeline state that failed, e.g. "validate_headers".
	Stage string

	// Missing lists absent canonical headers when Err is ErrMissingHeaders.
	Missing []string

	// Suggestions maps a missing canonical header to a present header that
	// looks like a misspelling of one of its aliases.
	Suggestions map[string]string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for FileError.
func (e *FileError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "file error: stage=%s, err=%v", e.Stage, e.Err)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Missing, ", "))
	}
	for _, m := range e.Missing {
		if s, ok := e.Suggestions[m]; ok {
			fmt.Fprintf(&b, " (did you mean %q for %s?)", s, m)
		}
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *FileError) Unwrap() error { return e.Err }

// NewFileError creates a new FileError for the given pipeline stage.
func NewFileError(stage string, err error) *FileError {
	return &FileError{Stage: stage, Err: err}
}

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

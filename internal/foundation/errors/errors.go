// Package errors provides a lightweight structured error type (ServiceError)
// for category-based classification and retry semantics in HTTP adapters and CLI.
package errors

import (
	"errors"
	"fmt"

	"git.home.luguber.info/inful/runledger/internal/foundation"
)

// ErrorCategory represents the category of a runledger error for classification.
type ErrorCategory string

const (
	// User-facing input errors
	CategoryValidation ErrorCategory = "validation" // malformed request shape (400)
	CategorySchema     ErrorCategory = "schema"     // field-level record validation (422)
	CategoryAuth       ErrorCategory = "auth"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryNotFound   ErrorCategory = "not_found"

	// External system integration errors
	CategoryNetwork ErrorCategory = "network"

	// Runtime and infrastructure errors
	CategoryStorage  ErrorCategory = "storage"
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// ContextFields carries structured context for ServiceError.
type ContextFields map[string]any

// ServiceError is a structured error with category, retryability, and context.
type ServiceError struct {
	Category  ErrorCategory           `json:"category"`
	Severity  ErrorSeverity           `json:"severity"`
	Message   string                  `json:"message"`
	Cause     error                   `json:"cause,omitempty"`
	Retryable bool                    `json:"retryable"`
	Context   ContextFields           `json:"context,omitempty"`
	Fields    []foundation.FieldError `json:"fields,omitempty"`
}

// Build returns the error itself; kept for fluent construction chains.
func (e *ServiceError) Build() *ServiceError {
	return e
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling.
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ServiceError) WithContext(key string, value any) *ServiceError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches an underlying cause.
func (e *ServiceError) WithCause(err error) *ServiceError {
	e.Cause = err
	return e
}

// WithFields attaches field-level validation detail.
func (e *ServiceError) WithFields(fields ...foundation.FieldError) *ServiceError {
	e.Fields = append(e.Fields, fields...)
	return e
}

// New creates a new ServiceError.
func New(category ErrorCategory, severity ErrorSeverity, message string) *ServiceError {
	return &ServiceError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new ServiceError that wraps an existing error.
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *ServiceError {
	return &ServiceError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// Retryable creates a new retryable ServiceError.
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *ServiceError {
	return &ServiceError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// AsClassified extracts a ServiceError from an error chain.
func AsClassified(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsCategory checks if an error belongs to a specific category.
func IsCategory(err error, category ErrorCategory) bool {
	if se, ok := AsClassified(err); ok {
		return se.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if se, ok := AsClassified(err); ok {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if unclassified.
func GetCategory(err error) ErrorCategory {
	if se, ok := AsClassified(err); ok {
		return se.Category
	}
	return CategoryInternal
}

package errors

// Convenience constructors for common error patterns.

// ValidationError reports a malformed request (400).
func ValidationError(message string) *ServiceError {
	return New(CategoryValidation, SeverityWarning, message)
}

// SchemaError reports field-level record validation failure (422).
func SchemaError(message string) *ServiceError {
	return New(CategorySchema, SeverityWarning, message)
}

// NotFound reports an unknown resource (404).
func NotFound(resource, id string) *ServiceError {
	return New(CategoryNotFound, SeverityWarning, resource+" not found").
		WithContext("id", id)
}

// AuthError reports missing or invalid credentials (401).
func AuthError(message string) *ServiceError {
	return New(CategoryAuth, SeverityWarning, message)
}

// RateLimited reports a rate-limit rejection (429).
func RateLimited(message string) *ServiceError {
	return Retryable(CategoryRateLimit, SeverityInfo, message)
}

// StorageError wraps a database failure (500).
func StorageError(message string) *ServiceError {
	return New(CategoryStorage, SeverityError, message)
}

// NetworkError wraps an upstream transport failure; retryable by default.
func NetworkError(message string) *ServiceError {
	return Retryable(CategoryNetwork, SeverityError, message)
}

// DaemonError reports a service lifecycle failure (503).
func DaemonError(message string) *ServiceError {
	return New(CategoryDaemon, SeverityError, message)
}

// Internal reports an unexpected internal failure (500).
func Internal(message string) *ServiceError {
	return New(CategoryInternal, SeverityError, message)
}

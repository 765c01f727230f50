package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HTTPErrorAdapter handles error presentation and status code determination for HTTP applications.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

// NewHTTPErrorAdapter creates a new HTTP error adapter with an optional slog logger.
// If logger is nil, the default package logger will be used.
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

// HTTPErrorResponse is the wire shape for error bodies. Detail is either a
// plain message string or a list of field-level validation failures.
type HTTPErrorResponse struct {
	Detail any `json:"detail"`
}

// StatusCodeFor determines the HTTP status code for a given error based on
// its classification. Unknown errors map to 500.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if c, ok := AsClassified(err); ok {
		switch c.Category {
		case CategoryValidation:
			return http.StatusBadRequest
		case CategorySchema:
			return http.StatusUnprocessableEntity
		case CategoryAuth:
			return http.StatusUnauthorized
		case CategoryRateLimit:
			return http.StatusTooManyRequests
		case CategoryNotFound:
			return http.StatusNotFound
		case CategoryNetwork:
			return http.StatusBadGateway
		case CategoryDaemon:
			return http.StatusServiceUnavailable
		case CategoryStorage, CategoryInternal:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

// FormatErrorResponse builds the JSON payload for an error. Validation errors
// carrying field detail surface the field list; everything else surfaces the
// message string only (internal causes never leak to clients).
func (a *HTTPErrorAdapter) FormatErrorResponse(err error) HTTPErrorResponse {
	if c, ok := AsClassified(err); ok {
		if len(c.Fields) > 0 {
			return HTTPErrorResponse{Detail: c.Fields}
		}
		return HTTPErrorResponse{Detail: c.Message}
	}
	return HTTPErrorResponse{Detail: "internal server error"}
}

// WriteErrorResponse writes a JSON error response and logs with appropriate level.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	status := a.StatusCodeFor(err)
	payload := a.FormatErrorResponse(err)

	b, jerr := json.Marshal(payload)
	if jerr != nil {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"detail":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)

	if c, ok := AsClassified(err); ok {
		a.logger.Log(r.Context(), a.slogLevelFromSeverity(c.Severity), c.Error())
		return
	}
	a.logger.Error(err.Error())
}

func (a *HTTPErrorAdapter) slogLevelFromSeverity(sev ErrorSeverity) slog.Level {
	switch sev {
	case SeverityFatal, SeverityError:
		return slog.LevelError
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

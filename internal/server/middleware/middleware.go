// Package middleware provides HTTP middleware for logging, panic recovery,
// bearer-token auth, and per-IP rate limiting for the runledger API.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	derrors "git.home.luguber.info/inful/runledger/internal/foundation/errors"
	"git.home.luguber.info/inful/runledger/internal/logfields"
	"git.home.luguber.info/inful/runledger/internal/metrics"
	"git.home.luguber.info/inful/runledger/internal/ratelimit"
)

// Options configures the optional cross-cutting layers.
type Options struct {
	AuthEnabled bool
	AuthToken   string

	RateLimitEnabled bool
	Limiter          *ratelimit.Limiter
	RateLimitWindow  time.Duration

	Recorder metrics.Recorder
}

// Chain applies, outermost first: logging, panic recovery, rate limiting,
// and bearer auth. /health bypasses both gates; /api/v1/metadata bypasses
// auth only.
func Chain(logger *slog.Logger, adapter *derrors.HTTPErrorAdapter, opts Options) func(http.Handler) http.Handler {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	return func(next http.Handler) http.Handler {
		h := next
		if opts.AuthEnabled {
			h = authMiddleware(adapter, opts, h)
		}
		if opts.RateLimitEnabled && opts.Limiter != nil {
			h = rateLimitMiddleware(adapter, opts, h)
		}
		return loggingMiddleware(logger, opts.Recorder, panicRecoveryMiddleware(logger, adapter, h))
	}
}

// loggingMiddleware logs method, path, status, duration, user agent, and remote addr.
func loggingMiddleware(logger *slog.Logger, recorder metrics.Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start)
		recorder.ObserveRequestDuration(r.URL.Path, r.Method, wrapped.statusCode, duration)
		logger.Info("HTTP request",
			logfields.Method(r.Method),
			logfields.Path(r.URL.Path),
			logfields.HTTPStatus(wrapped.statusCode),
			logfields.DurationMS(float64(duration.Microseconds())/1000),
			logfields.UserAgent(r.UserAgent()),
			logfields.RemoteAddr(r.RemoteAddr))
	})
}

// panicRecoveryMiddleware recovers from panics and writes a structured error
// response via the HTTPErrorAdapter.
func panicRecoveryMiddleware(logger *slog.Logger, adapter *derrors.HTTPErrorAdapter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("HTTP handler panic",
					"error", rec,
					logfields.Path(r.URL.Path),
					logfields.Method(r.Method),
					logfields.RemoteAddr(r.RemoteAddr))

				panicErr := derrors.Internal("internal server error").
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()
				adapter.WriteErrorResponse(w, r, panicErr)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func authMiddleware(adapter *derrors.HTTPErrorAdapter, opts Options, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if header == "" || !ok {
			opts.Recorder.IncAuthFailure()
			adapter.WriteErrorResponse(w, r, derrors.AuthError("missing or malformed Authorization header").Build())
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(opts.AuthToken)) != 1 {
			opts.Recorder.IncAuthFailure()
			adapter.WriteErrorResponse(w, r, derrors.AuthError("invalid bearer token").Build())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitMiddleware(adapter *derrors.HTTPErrorAdapter, opts Options, next http.Handler) http.Handler {
	window := opts.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		d := opts.Limiter.Allow(clientIP(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			opts.Recorder.IncRateLimited(r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(int(window/time.Second)))
			adapter.WriteErrorResponse(w, r, derrors.RateLimited("rate limit exceeded").
				WithContext("remote_addr", r.RemoteAddr).Build())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authExempt(path string) bool {
	return path == "/health" || path == "/api/v1/metadata"
}

// clientIP strips the port from RemoteAddr so the limiter keys on the host.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWriter captures status codes for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

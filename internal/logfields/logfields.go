package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyEventID    = "event_id"
	KeyRunID      = "run_id"
	KeyAgent      = "agent_name"
	KeyJobType    = "job_type"
	KeyStatus     = "status"
	KeyRoute      = "route"
	KeyMethod     = "method"
	KeyHTTPStatus = "http_status"
	KeyDurationMS = "duration_ms"
	KeyCount      = "count"
	KeyPath       = "path"
	KeyErrorType  = "error_type"
	KeyError      = "error"
	KeyRemoteAddr = "remote_addr"
	KeyUserAgent  = "user_agent"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func EventID(id string) slog.Attr      { return slog.String(KeyEventID, id) }
func RunID(id string) slog.Attr        { return slog.String(KeyRunID, id) }
func Agent(name string) slog.Attr      { return slog.String(KeyAgent, name) }
func JobType(t string) slog.Attr       { return slog.String(KeyJobType, t) }
func Status(s string) slog.Attr        { return slog.String(KeyStatus, s) }
func Route(r string) slog.Attr         { return slog.String(KeyRoute, r) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func HTTPStatus(code int) slog.Attr    { return slog.Int(KeyHTTPStatus, code) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Count(n int) slog.Attr            { return slog.Int(KeyCount, n) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func ErrorType(kind string) slog.Attr  { return slog.String(KeyErrorType, kind) }
func RemoteAddr(addr string) slog.Attr { return slog.String(KeyRemoteAddr, addr) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

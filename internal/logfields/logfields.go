package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyWorkerID     = "worker_id"
	KeyOperationID  = "operation_id"
	KeyParentID     = "parent_operation_id"
	KeySessionState = "session_state"
	KeyAction       = "action"
	KeyImpl         = "implementation"
	KeyScope        = "scope"
	KeyOutcome      = "outcome"
	KeyIsolation    = "isolation"
	KeySymbol       = "symbol"
	KeyLoader       = "loader"
	KeyTransport    = "transport"
	KeyDurationMS   = "duration_ms"
	KeyPath         = "path"
	KeyError        = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func WorkerID(id string) slog.Attr      { return slog.String(KeyWorkerID, id) }
func OperationID(id string) slog.Attr   { return slog.String(KeyOperationID, id) }
func ParentID(id string) slog.Attr      { return slog.String(KeyParentID, id) }
func SessionState(s string) slog.Attr   { return slog.String(KeySessionState, s) }
func Action(name string) slog.Attr      { return slog.String(KeyAction, name) }
func Implementation(n string) slog.Attr { return slog.String(KeyImpl, n) }
func Scope(name string) slog.Attr       { return slog.String(KeyScope, name) }
func Outcome(o string) slog.Attr        { return slog.String(KeyOutcome, o) }
func Isolation(kind string) slog.Attr   { return slog.String(KeyIsolation, kind) }
func Symbol(name string) slog.Attr      { return slog.String(KeySymbol, name) }
func Loader(name string) slog.Attr      { return slog.String(KeyLoader, name) }
func Transport(kind string) slog.Attr   { return slog.String(KeyTransport, kind) }
func DurationMS(ms float64) slog.Attr   { return slog.Float64(KeyDurationMS, ms) }
func Path(p string) slog.Attr           { return slog.String(KeyPath, p) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

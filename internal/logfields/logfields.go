package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field names shared across packages.
const (
	KeyTaskID     = "task_id"
	KeyStatus     = "status"
	KeyUserID     = "user_id"
	KeyRevision   = "revision"
	KeyOnline     = "online"
	KeyTarget     = "target"
	KeyPath       = "path"
	KeyAddr       = "addr"
	KeyDurationMS = "duration_ms"
	KeyCount      = "count"
	KeyError      = "error"
)

func TaskID(id string) slog.Attr      { return slog.String(KeyTaskID, id) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func UserID(id string) slog.Attr      { return slog.String(KeyUserID, id) }
func Revision(r int64) slog.Attr      { return slog.Int64(KeyRevision, r) }
func Online(v bool) slog.Attr         { return slog.Bool(KeyOnline, v) }
func Target(t string) slog.Attr       { return slog.String(KeyTarget, t) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Addr(a string) slog.Attr         { return slog.String(KeyAddr, a) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

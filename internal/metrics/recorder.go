// Package metrics exposes sync engine and lifecycle observability hooks.
package metrics

import "time"

// PushResult labels the outcome of a single remote write.
type PushResult string

const (
	PushSuccess  PushResult = "success"
	PushFailed   PushResult = "failed"
	// PushConflict is a write refused because the remote holds a newer revision.
	PushConflict PushResult = "conflict"
)

// Recorder receives engine and state machine observations. Implementations
// may forward to Prometheus or discard.
type Recorder interface {
	ObservePass(d time.Duration, attempted, synced, failed int)
	IncPush(trigger string, result PushResult)
	IncTransition(status string)
	IncRejectedTransition(reason string)
	SetUnsynced(n int)
	SetOnline(online bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePass(time.Duration, int, int, int) {}
func (NoopRecorder) IncPush(string, PushResult)                {}
func (NoopRecorder) IncTransition(string)                      {}
func (NoopRecorder) IncRejectedTransition(string)              {}
func (NoopRecorder) SetUnsynced(int)                           {}
func (NoopRecorder) SetOnline(bool)                            {}

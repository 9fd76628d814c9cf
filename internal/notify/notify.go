// Package notify sends best-effort push messages when a task changes status.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tracktrip/internal/logfields"
)

// ErrInvalidTarget is returned when a delivery target cannot be used.
var ErrInvalidTarget = errors.New("invalid notification target")

// Message is the visible content of a push notification.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Dispatcher delivers a message to a target such as a device push token.
type Dispatcher interface {
	Send(ctx context.Context, target string, msg Message) error
}

// Noop drops every message.
type Noop struct{}

func (Noop) Send(context.Context, string, Message) error { return nil }

// Detached runs sends in the background. Failures are logged and never
// reported back to the caller.
type Detached struct {
	next    Dispatcher
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewDetached wraps next. A non-positive timeout defaults to ten seconds.
func NewDetached(next Dispatcher, timeout time.Duration, logger *slog.Logger) *Detached {
	if next == nil {
		next = Noop{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detached{next: next, timeout: timeout, logger: logger}
}

// Dispatch schedules a send and returns immediately. Empty targets are skipped.
func (d *Detached) Dispatch(target string, msg Message) {
	if target == "" {
		d.logger.Debug("no notification target, skipping", slog.String("title", msg.Title))
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.next.Send(ctx, target, msg); err != nil {
			d.logger.Warn("notification failed", logfields.Target(target), logfields.Error(err))
			return
		}
		d.logger.Debug("notification sent", logfields.Target(target))
	}()
}

// Wait blocks until every scheduled send has finished.
func (d *Detached) Wait() {
	d.wg.Wait()
}

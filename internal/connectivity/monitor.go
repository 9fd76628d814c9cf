// Package connectivity tracks whether the remote task store is reachable.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"tracktrip/internal/logfields"
)

// Probe checks one aspect of reachability.
type Probe interface {
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

// DialProbe succeeds when a TCP connection to Address can be opened.
type DialProbe struct {
	Address string
	Timeout time.Duration
}

func (p DialProbe) Check(ctx context.Context) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.Address, err)
	}
	return conn.Close()
}

// Options configure a Monitor.
type Options struct {
	// Link checks network connectivity, Reach checks that the remote
	// service answers. Both must pass for the monitor to report online.
	Link  Probe
	Reach Probe
	// Interval between scheduled checks. Defaults to 15s.
	Interval time.Duration
	// Timeout bounds a single check. Defaults to 5s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Monitor publishes reachability changes to subscribers.
type Monitor struct {
	opts Options

	// publishMu orders deliveries of concurrent Set calls.
	publishMu sync.Mutex

	mu     sync.Mutex
	subs   map[int]func(bool)
	nextID int
	known  bool
	online bool

	scheduler gocron.Scheduler
}

// New creates a monitor. Nil probes are treated as always passing.
func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{opts: opts, subs: map[int]func(bool){}}
}

// Subscribe registers fn for reachability changes. Callbacks run
// synchronously on the publishing goroutine and must not block. The returned
// function removes the subscription and may be called more than once.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records a reachability observation. The first observation and every
// change are delivered to subscribers in the order they were recorded;
// repeats are not. Subscribers must not call Set.
func (m *Monitor) Set(online bool) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	if m.known && m.online == online {
		m.mu.Unlock()
		return
	}
	m.known = true
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.opts.Logger.Info("connectivity changed", logfields.Online(online))
	for _, fn := range subs {
		fn(online)
	}
}

// Check runs the probes once and publishes the result.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	probes := []struct {
		name  string
		probe Probe
	}{{"link", m.opts.Link}, {"reach", m.opts.Reach}}

	online := true
	for _, p := range probes {
		if p.probe == nil {
			continue
		}
		if err := p.probe.Check(ctx); err != nil {
			m.opts.Logger.Debug("connectivity probe failed", slog.String("probe", p.name), logfields.Error(err))
			online = false
			break
		}
	}
	m.Set(online)
	return online
}

// Start runs an immediate check and then schedules one every interval.
func (m *Monitor) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(m.opts.Interval),
		gocron.NewTask(func() { m.Check(ctx) }),
		gocron.WithName("connectivity-check"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule connectivity check: %w", err)
	}

	m.mu.Lock()
	m.scheduler = s
	m.mu.Unlock()

	m.Check(ctx)
	s.Start()
	return nil
}

// Stop shuts the scheduler down.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	s := m.scheduler
	m.scheduler = nil
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

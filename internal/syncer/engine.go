// Package syncer reconciles the local task collection with the remote store.
//
// Every unsynced task is pushed again on each reconciliation pass until the
// remote acknowledges it (at-least-once). A task is marked synced only when
// the acknowledged write carried the revision that is still stored locally,
// so a mutation that lands while a pass is in flight is never flagged as
// synced by that pass. Each task is re-read right before it is pushed, and
// the remote refuses writes older than what it holds.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tracktrip/internal/logfields"
	"tracktrip/internal/metrics"
	"tracktrip/internal/models"
	"tracktrip/internal/taskstore"
)

const (
	triggerReconcile    = "reconcile"
	triggerWriteThrough = "write_through"
)

// Remote is the authoritative document store.
type Remote interface {
	FetchAll(ctx context.Context) ([]models.Task, error)
	Upsert(ctx context.Context, task models.Task) error
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Attempted  int           `json:"attempted"`
	Synced     int           `json:"synced"`
	Failed     int           `json:"failed"`
	Superseded int           `json:"superseded"`
	Conflicts  int           `json:"conflicts"`
	Duration   time.Duration `json:"duration"`
}

// Options configure an Engine.
type Options struct {
	Recorder metrics.Recorder
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Engine owns reconciliation between the repository and the remote store.
type Engine struct {
	repo     *taskstore.Repository
	remote   Remote
	recorder metrics.Recorder
	logger   *slog.Logger
	clock    func() time.Time

	online atomic.Bool
	passMu sync.Mutex
	kick   chan struct{}

	workerMu sync.Mutex
	stop     context.CancelFunc
	done     chan struct{}
}

// New wires an engine over repo and remote.
func New(repo *taskstore.Repository, remote Remote, opts Options) *Engine {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		repo:     repo,
		remote:   remote,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		clock:    opts.Clock,
		kick:     make(chan struct{}, 1),
	}
}

// Online reports the last connectivity state seen by the engine.
func (e *Engine) Online() bool { return e.online.Load() }

// HandleConnectivity records a reachability signal and requests a pass when
// online. It never blocks, so it is safe as a monitor subscription.
// Repeated signals with the same value are harmless.
func (e *Engine) HandleConnectivity(online bool) {
	prev := e.online.Swap(online)
	e.recorder.SetOnline(online)
	if prev != online {
		e.logger.Info("sync engine connectivity", logfields.Online(online))
	}
	if online {
		e.Kick()
	}
}

// Kick requests a reconciliation pass from the worker. Requests made while a
// pass is queued are coalesced into it.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Start runs the reconciliation worker until ctx is canceled or Stop is
// called. The returned channel is closed once the worker has exited; an
// in-flight pass always completes first. Start is meant to be called once.
func (e *Engine) Start(ctx context.Context) <-chan struct{} {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.workerMu.Lock()
	e.stop, e.done = cancel, done
	e.workerMu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.kick:
				if !e.Online() {
					continue
				}
				if _, err := e.Reconcile(context.WithoutCancel(ctx)); err != nil {
					e.logger.Warn("reconciliation pass failed", logfields.Error(err))
				}
			}
		}
	}()
	return done
}

// Stop cancels the worker and waits for it to exit. It returns at once when
// no worker is running.
func (e *Engine) Stop() {
	e.workerMu.Lock()
	cancel, done := e.stop, e.done
	e.stop, e.done = nil, nil
	e.workerMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Reconcile pushes every unsynced task to the remote store and marks the
// acknowledged ones synced with a single save. Passes never overlap.
// Per-task push failures are not errors; they stay unsynced for the next
// pass. An error is returned only when the local store fails.
func (e *Engine) Reconcile(ctx context.Context) (PassResult, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	start := e.clock()
	var res PassResult

	tasks, err := e.repo.List(ctx)
	if err != nil {
		return res, err
	}

	acked := map[string]int64{}
	for _, snap := range tasks {
		if snap.IsSynced {
			continue
		}
		// A write-through may have pushed a newer revision since the list.
		t, ok, err := e.repo.Get(ctx, snap.ID)
		if err != nil {
			return res, err
		}
		if !ok || t.IsSynced {
			continue
		}
		res.Attempted++
		err = e.remote.Upsert(ctx, t)
		var conflict *models.RevisionConflict
		if errors.As(err, &conflict) {
			res.Conflicts++
			e.recorder.IncPush(triggerReconcile, metrics.PushConflict)
			e.rebase(ctx, conflict)
			continue
		}
		if err != nil {
			res.Failed++
			e.recorder.IncPush(triggerReconcile, metrics.PushFailed)
			e.logger.Debug("remote write failed, will retry",
				logfields.TaskID(t.ID), logfields.Revision(t.Revision), logfields.Error(err))
			continue
		}
		e.recorder.IncPush(triggerReconcile, metrics.PushSuccess)
		acked[t.ID] = t.Revision
	}

	if len(acked) > 0 {
		n, err := e.markSynced(ctx, acked)
		if err != nil {
			return res, err
		}
		res.Synced = n
		res.Superseded = len(acked) - n
	}

	res.Duration = e.clock().Sub(start)
	e.recorder.ObservePass(res.Duration, res.Attempted, res.Synced, res.Failed)
	e.updateUnsyncedGauge(ctx)
	if res.Attempted > 0 {
		e.logger.Info("reconciliation pass finished",
			slog.Int("attempted", res.Attempted),
			slog.Int("synced", res.Synced),
			slog.Int("failed", res.Failed),
			slog.Int("superseded", res.Superseded),
			slog.Int("conflicts", res.Conflicts),
			logfields.Duration(res.Duration))
	}
	return res, nil
}

// AfterMutation is the write-through path: when online the task is pushed
// immediately and marked synced on success. A pass is requested either way so
// earlier failures are retried on every mutation.
func (e *Engine) AfterMutation(ctx context.Context, task models.Task) {
	if !e.Online() {
		e.updateUnsyncedGauge(ctx)
		return
	}
	defer e.Kick()

	err := e.remote.Upsert(ctx, task)
	var conflict *models.RevisionConflict
	if errors.As(err, &conflict) {
		e.recorder.IncPush(triggerWriteThrough, metrics.PushConflict)
		e.rebase(ctx, conflict)
		return
	}
	if err != nil {
		e.recorder.IncPush(triggerWriteThrough, metrics.PushFailed)
		e.logger.Debug("write-through failed, left for reconciliation",
			logfields.TaskID(task.ID), logfields.Error(err))
		return
	}
	e.recorder.IncPush(triggerWriteThrough, metrics.PushSuccess)
	if _, err := e.markSynced(ctx, map[string]int64{task.ID: task.Revision}); err != nil {
		e.logger.Warn("failed to record sync state", logfields.TaskID(task.ID), logfields.Error(err))
	}
}

// rebase handles a write the remote refused as older than its copy. When the
// refused revision is still the stored local one, the local task is moved
// past the remote revision so the next push supersedes it. Otherwise a newer
// local mutation exists and is pushed by its own write or the next pass.
func (e *Engine) rebase(ctx context.Context, conflict *models.RevisionConflict) {
	rebased := false
	err := e.repo.Mutate(ctx, func(tasks []models.Task) ([]models.Task, error) {
		i := taskstore.IndexOf(tasks, conflict.TaskID)
		if i < 0 || tasks[i].IsSynced || tasks[i].Revision != conflict.Incoming {
			return nil, taskstore.ErrSkipSave
		}
		tasks[i].Revision = conflict.Stored + 1
		rebased = true
		return tasks, nil
	})
	if err != nil {
		e.logger.Warn("failed to rebase task revision", logfields.TaskID(conflict.TaskID), logfields.Error(err))
		return
	}
	e.logger.Debug("remote holds a newer revision",
		logfields.TaskID(conflict.TaskID), logfields.Revision(conflict.Incoming),
		slog.Int64("stored_revision", conflict.Stored), slog.Bool("rebased", rebased))
	if rebased {
		e.Kick()
	}
}

// markSynced flips isSynced for tasks whose stored revision matches the
// acknowledged one and returns how many were flipped.
func (e *Engine) markSynced(ctx context.Context, acked map[string]int64) (int, error) {
	n := 0
	err := e.repo.Mutate(ctx, func(tasks []models.Task) ([]models.Task, error) {
		for i := range tasks {
			rev, ok := acked[tasks[i].ID]
			if !ok || tasks[i].IsSynced || tasks[i].Revision != rev {
				continue
			}
			tasks[i].IsSynced = true
			n++
		}
		if n == 0 {
			return nil, taskstore.ErrSkipSave
		}
		return tasks, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Unsynced counts local tasks not yet acknowledged by the remote store.
func (e *Engine) Unsynced(ctx context.Context) (int, error) {
	tasks, err := e.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if !t.IsSynced {
			n++
		}
	}
	return n, nil
}

func (e *Engine) updateUnsyncedGauge(ctx context.Context) {
	n, err := e.Unsynced(ctx)
	if err != nil {
		return
	}
	e.recorder.SetUnsynced(n)
}

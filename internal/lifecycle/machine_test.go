package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracktrip/internal/models"
	"tracktrip/internal/notify"
	"tracktrip/internal/taskstore"
)

type sentMessage struct {
	target string
	msg    notify.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingNotifier) Dispatch(target string, msg notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{target, msg})
}

func (r *recordingNotifier) messages() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

type recordingSyncer struct {
	mu    sync.Mutex
	tasks []models.Task
}

func (r *recordingSyncer) AfterMutation(_ context.Context, t models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
}

func (r *recordingSyncer) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

type fixture struct {
	kv       *taskstore.MemoryKV
	repo     *taskstore.Repository
	machine  *Machine
	notifier *recordingNotifier
	syncer   *recordingSyncer
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := taskstore.NewMemoryKV()
	repo := taskstore.NewRepository(taskstore.NewSnapshot(kv, "", nil), nil)
	f := &fixture{
		kv:       kv,
		repo:     repo,
		notifier: &recordingNotifier{},
		syncer:   &recordingSyncer{},
		now:      time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC),
	}
	ids := 0
	f.machine = New(repo, Options{
		Syncer:   f.syncer,
		Notifier: f.notifier,
		Clock:    func() time.Time { return f.now },
		NewID: func() string {
			ids++
			return fmt.Sprintf("task-%d", ids)
		},
	})
	return f
}

func (f *fixture) create(t *testing.T) models.Task {
	t.Helper()
	task, err := f.machine.Create(context.Background(), Draft{
		Title:               "  Pallet to dock 4 ",
		AssignedTo:          "driver-1",
		AssignedToPushToken: "ExponentPushToken[d1]",
	}, "creator-1")
	require.NoError(t, err)
	return task
}

func (f *fixture) blob(t *testing.T) []byte {
	t.Helper()
	raw, err := f.kv.Get(context.Background(), taskstore.DefaultKey)
	require.NoError(t, err)
	return raw
}

func TestCreateStampsInitialState(t *testing.T) {
	f := newFixture(t)
	task := f.create(t)

	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, "Pallet to dock 4", task.Title)
	assert.Equal(t, models.StatusCreated, task.Status)
	assert.False(t, task.IsSynced)
	assert.Equal(t, int64(1), task.Revision)
	require.Len(t, task.Timeline, 1)
	assert.Equal(t, models.Step{At: f.now, By: "creator-1"}, task.Timeline[models.StatusCreated])
	assert.Equal(t, f.now, task.CreatedAt)
	require.NoError(t, task.Validate())

	stored, err := f.machine.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, stored.Title)
	assert.Equal(t, 1, f.syncer.calls())
}

func TestCreateDefaultIDsAreUnique(t *testing.T) {
	repo := taskstore.NewRepository(taskstore.NewSnapshot(taskstore.NewMemoryKV(), "", nil), nil)
	m := New(repo, Options{})
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		task, err := m.Create(context.Background(), Draft{Title: "x"}, "u")
		require.NoError(t, err)
		require.False(t, seen[task.ID])
		seen[task.ID] = true
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.machine.Create(context.Background(), Draft{Title: "   "}, "u1")
	require.ErrorIs(t, err, ErrInvalidTask)
	assert.True(t, IsRejection(err))

	_, err = f.machine.Create(context.Background(), Draft{Title: "ok"}, "")
	require.ErrorIs(t, err, ErrMissingActor)
}

func TestConfirmStepsInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t)

	steps := []struct {
		status models.Status
		user   string
	}{
		{models.StatusInProgress, "creator-1"},
		{models.StatusAccepted, "driver-1"},
		{models.StatusDelivered, "driver-1"},
		{models.StatusCompleted, "receiver-1"},
	}
	stamps := map[models.Status]models.Step{models.StatusCreated: task.Timeline[models.StatusCreated]}
	for i, s := range steps {
		f.now = f.now.Add(time.Duration(i+1) * time.Minute)
		updated, err := f.machine.ConfirmStep(ctx, task.ID, s.status, s.user)
		require.NoError(t, err)
		stamps[s.status] = models.Step{At: f.now, By: s.user}

		assert.Equal(t, s.status, updated.Status)
		assert.False(t, updated.IsSynced)
		assert.Equal(t, int64(i+2), updated.Revision)
		assert.Equal(t, models.Timeline(stamps), updated.Timeline, "earlier entries stay untouched")
		require.NoError(t, updated.Validate())
	}

	assert.Len(t, f.notifier.messages(), len(steps))
	assert.Equal(t, "ExponentPushToken[d1]", f.notifier.messages()[0].target)
	assert.Contains(t, f.notifier.messages()[3].msg.Body, "completed")
}

func TestReconfirmIsByteForByteNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t)
	_, err := f.machine.ConfirmStep(ctx, task.ID, models.StatusInProgress, "u1")
	require.NoError(t, err)

	before := f.blob(t)
	puts := f.kv.Puts()
	f.now = f.now.Add(time.Hour)

	_, err = f.machine.ConfirmStep(ctx, task.ID, models.StatusInProgress, "someone-else")
	require.ErrorIs(t, err, ErrAlreadyReached)
	assert.True(t, IsRejection(err))

	_, err = f.machine.ConfirmStep(ctx, task.ID, models.StatusCreated, "someone-else")
	require.ErrorIs(t, err, ErrAlreadyReached)

	assert.Equal(t, before, f.blob(t))
	assert.Equal(t, puts, f.kv.Puts())
}

func TestForwardSkipAllowedBackwardRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t)

	updated, err := f.machine.ConfirmStep(ctx, task.ID, models.StatusDelivered, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, updated.Status)
	assert.False(t, updated.Timeline.Reached(models.StatusAccepted))

	_, err = f.machine.ConfirmStep(ctx, task.ID, models.StatusAccepted, "d1")
	require.ErrorIs(t, err, ErrBackwardStep)

	stored, err := f.machine.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, stored.Status)
}

func TestTerminalStateRejectsFurtherSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t)
	_, err := f.machine.ConfirmStep(ctx, task.ID, models.StatusCompleted, "r1")
	require.NoError(t, err)

	_, err = f.machine.ConfirmStep(ctx, task.ID, models.StatusAccepted, "r1")
	require.ErrorIs(t, err, ErrTerminal)
	_, err = f.machine.ConfirmStep(ctx, task.ID, models.StatusCompleted, "r1")
	require.ErrorIs(t, err, ErrAlreadyReached)
}

func TestConfirmUnknownTaskAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.machine.ConfirmStep(ctx, "missing", models.StatusAccepted, "u1")
	require.ErrorIs(t, err, ErrTaskNotFound)

	task := f.create(t)
	_, err = f.machine.ConfirmStep(ctx, task.ID, models.Status("teleported"), "u1")
	require.ErrorIs(t, err, ErrUnknownStatus)

	_, err = f.machine.ConfirmStep(ctx, task.ID, models.StatusAccepted, " ")
	require.ErrorIs(t, err, ErrMissingActor)
}

func TestConcurrentConfirmationsStampOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = f.machine.ConfirmStepAt(ctx, task.ID, models.StatusAccepted, fmt.Sprintf("driver-%d", n), f.now.Add(time.Duration(n)*time.Second))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyReached)
	}
	assert.Equal(t, 1, succeeded)

	stored, err := f.machine.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, stored.Status)
	assert.Equal(t, int64(2), stored.Revision)
	assert.Len(t, stored.Timeline, 2)
}

func TestPersistenceFailureSurfacesAndDoesNotApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t)
	syncCalls := f.syncer.calls()

	f.kv.SetFailures(nil, errors.New("disk full"))
	_, err := f.machine.ConfirmStep(ctx, task.ID, models.StatusInProgress, "u1")
	require.Error(t, err)
	assert.False(t, IsRejection(err))
	assert.Empty(t, f.notifier.messages())
	assert.Equal(t, syncCalls, f.syncer.calls())

	f.kv.SetFailures(nil, nil)
	stored, err := f.machine.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, stored.Status)
	assert.False(t, stored.Timeline.Reached(models.StatusInProgress))
}

type failingDispatcher struct{}

func (failingDispatcher) Send(context.Context, string, notify.Message) error {
	return errors.New("push service down")
}

func TestNotificationFailureDoesNotRevert(t *testing.T) {
	kv := taskstore.NewMemoryKV()
	repo := taskstore.NewRepository(taskstore.NewSnapshot(kv, "", nil), nil)
	detached := notify.NewDetached(failingDispatcher{}, time.Second, nil)
	m := New(repo, Options{Notifier: detached})
	ctx := context.Background()

	task, err := m.Create(ctx, Draft{Title: "x", AssignedToPushToken: "ExponentPushToken[z]"}, "u1")
	require.NoError(t, err)
	updated, err := m.ConfirmStep(ctx, task.ID, models.StatusInProgress, "u1")
	require.NoError(t, err)
	detached.Wait()

	stored, err := m.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Status, stored.Status)
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t)

	updated, err := f.machine.Assign(ctx, task.ID, models.User{ID: "receiver-9", PushToken: "ExponentPushToken[r9]"})
	require.NoError(t, err)
	assert.Equal(t, "receiver-9", updated.AssignedTo)
	assert.Equal(t, "ExponentPushToken[r9]", updated.AssignedToPushToken)
	assert.Equal(t, int64(2), updated.Revision)
	assert.False(t, updated.IsSynced)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ExponentPushToken[r9]", msgs[0].target)

	_, err = f.machine.Assign(ctx, "missing", models.User{ID: "x"})
	require.ErrorIs(t, err, ErrTaskNotFound)
	_, err = f.machine.Assign(ctx, task.ID, models.User{})
	require.ErrorIs(t, err, ErrInvalidTask)
}

func TestDeleteIsLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t)
	b := f.create(t)

	require.NoError(t, f.machine.Delete(ctx, a.ID))
	require.ErrorIs(t, f.machine.Delete(ctx, a.ID), ErrTaskNotFound)

	_, err := f.machine.Get(ctx, a.ID)
	require.ErrorIs(t, err, ErrTaskNotFound)
	_, err = f.machine.Get(ctx, b.ID)
	require.NoError(t, err)
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t)
	f.now = f.now.Add(time.Minute)
	second := f.create(t)

	tasks, err := f.machine.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, second.ID, tasks[0].ID)
	assert.Equal(t, first.ID, tasks[1].ID)
}

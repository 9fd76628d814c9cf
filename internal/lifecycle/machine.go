// Package lifecycle advances delivery tasks through their ordered states.
//
// Every mutation is committed to the local repository first and flags the
// task unsynced. Notifications and the remote write-through run afterwards
// and can never fail or revert a committed transition.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tracktrip/internal/logfields"
	"tracktrip/internal/metrics"
	"tracktrip/internal/models"
	"tracktrip/internal/notify"
	"tracktrip/internal/taskstore"
)

// Rejections. These are benign precondition failures, see IsRejection.
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrAlreadyReached = errors.New("status already reached")
	ErrTerminal       = errors.New("task already completed")
	ErrBackwardStep   = errors.New("status precedes current status")
	ErrUnknownStatus  = errors.New("unknown status")
	ErrMissingActor   = errors.New("acting user id is required")
	ErrInvalidTask    = errors.New("invalid task")
)

var rejections = []error{
	ErrTaskNotFound, ErrAlreadyReached, ErrTerminal, ErrBackwardStep,
	ErrUnknownStatus, ErrMissingActor, ErrInvalidTask,
}

// IsRejection reports whether err is a precondition failure rather than a
// persistence failure.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// Syncer receives every committed task for remote write-through.
type Syncer interface {
	AfterMutation(ctx context.Context, task models.Task)
}

// Notifier schedules a fire-and-forget push message.
type Notifier interface {
	Dispatch(target string, msg notify.Message)
}

// Draft holds the user-supplied fields of a new task.
type Draft struct {
	Title               string               `json:"title"`
	Description         string               `json:"description"`
	Notes               string               `json:"notes"`
	Location            *models.Location     `json:"location,omitempty"`
	AssignedTo          string               `json:"assignedTo,omitempty"`
	AssignedToPushToken string               `json:"assignedToPushToken,omitempty"`
	Confirmation        *models.Confirmation `json:"confirmation,omitempty"`
}

// Options configure a Machine. Zero values select no-op collaborators, the
// wall clock and random UUIDs.
type Options struct {
	Syncer   Syncer
	Notifier Notifier
	Recorder metrics.Recorder
	Logger   *slog.Logger
	Clock    func() time.Time
	NewID    func() string
}

// Machine validates and applies lifecycle mutations.
type Machine struct {
	repo     *taskstore.Repository
	syncer   Syncer
	notifier Notifier
	recorder metrics.Recorder
	logger   *slog.Logger
	clock    func() time.Time
	newID    func() string
}

type noopSyncer struct{}

func (noopSyncer) AfterMutation(context.Context, models.Task) {}

type noopNotifier struct{}

func (noopNotifier) Dispatch(string, notify.Message) {}

// New creates a Machine over repo.
func New(repo *taskstore.Repository, opts Options) *Machine {
	m := &Machine{
		repo:     repo,
		syncer:   opts.Syncer,
		notifier: opts.Notifier,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		clock:    opts.Clock,
		newID:    opts.NewID,
	}
	if m.syncer == nil {
		m.syncer = noopSyncer{}
	}
	if m.notifier == nil {
		m.notifier = noopNotifier{}
	}
	if m.recorder == nil {
		m.recorder = metrics.NoopRecorder{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// Create persists a new task in the initial state.
func (m *Machine) Create(ctx context.Context, d Draft, actingUserID string) (models.Task, error) {
	if strings.TrimSpace(actingUserID) == "" {
		return models.Task{}, ErrMissingActor
	}
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return models.Task{}, fmt.Errorf("%w: title must not be empty", ErrInvalidTask)
	}

	now := m.clock().UTC()
	task := models.Task{
		ID:                  m.newID(),
		Title:               title,
		Description:         strings.TrimSpace(d.Description),
		Notes:               strings.TrimSpace(d.Notes),
		Location:            d.Location,
		Status:              models.StatusCreated,
		Timeline:            models.Timeline{models.StatusCreated: {At: now, By: actingUserID}},
		AssignedTo:          d.AssignedTo,
		AssignedToPushToken: d.AssignedToPushToken,
		Confirmation:        d.Confirmation,
		CreatedAt:           now,
	}
	task.Touch(now)
	task = task.Clone()

	err := m.repo.Mutate(ctx, func(tasks []models.Task) ([]models.Task, error) {
		if taskstore.IndexOf(tasks, task.ID) >= 0 {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidTask, task.ID)
		}
		return append(tasks, task.Clone()), nil
	})
	if err != nil {
		return models.Task{}, fmt.Errorf("create task: %w", err)
	}

	m.recorder.IncTransition(string(models.StatusCreated))
	m.logger.Info("task created", logfields.TaskID(task.ID), logfields.UserID(actingUserID))
	m.syncer.AfterMutation(ctx, task.Clone())
	return task, nil
}

// ConfirmStep advances the task to next at the current time.
func (m *Machine) ConfirmStep(ctx context.Context, taskID string, next models.Status, actingUserID string) (models.Task, error) {
	return m.ConfirmStepAt(ctx, taskID, next, actingUserID, m.clock())
}

// ConfirmStepAt advances the task to next, attributing the step to
// actingUserID at now. Each state is stamped at most once: confirming a state
// that was already reached returns ErrAlreadyReached and leaves the task
// untouched. Forward skips are allowed; moving behind the current status is
// not.
func (m *Machine) ConfirmStepAt(ctx context.Context, taskID string, next models.Status, actingUserID string, now time.Time) (models.Task, error) {
	if !next.Valid() {
		m.recorder.IncRejectedTransition("unknown_status")
		return models.Task{}, fmt.Errorf("%w: %q", ErrUnknownStatus, next)
	}
	if strings.TrimSpace(actingUserID) == "" {
		m.recorder.IncRejectedTransition("missing_actor")
		return models.Task{}, ErrMissingActor
	}
	now = now.UTC()

	var updated models.Task
	err := m.repo.Mutate(ctx, func(tasks []models.Task) ([]models.Task, error) {
		i := taskstore.IndexOf(tasks, taskID)
		if i < 0 {
			return nil, ErrTaskNotFound
		}
		t := &tasks[i]
		switch {
		case t.Timeline.Reached(next):
			return nil, ErrAlreadyReached
		case t.Status.Terminal():
			return nil, ErrTerminal
		case next.Ordinal() < t.Status.Ordinal():
			return nil, ErrBackwardStep
		}

		if t.Timeline == nil {
			t.Timeline = models.Timeline{}
		}
		t.Timeline[next] = models.Step{At: now, By: actingUserID}
		t.Status = next
		t.Touch(now)
		updated = t.Clone()
		return tasks, nil
	})
	if err != nil {
		if IsRejection(err) {
			m.recorder.IncRejectedTransition(rejectionReason(err))
			m.logger.Debug("transition rejected",
				logfields.TaskID(taskID), logfields.Status(string(next)), logfields.Error(err))
			return models.Task{}, err
		}
		return models.Task{}, fmt.Errorf("confirm step: %w", err)
	}

	m.recorder.IncTransition(string(next))
	m.logger.Info("task status changed",
		logfields.TaskID(updated.ID), logfields.Status(string(next)), logfields.UserID(actingUserID))

	m.notifier.Dispatch(updated.AssignedToPushToken, notify.Message{
		Title: "Status changed",
		Body:  fmt.Sprintf("%s is now %s", updated.Title, next),
	})
	m.syncer.AfterMutation(ctx, updated.Clone())
	return updated, nil
}

// Assign sets the receiving user and denormalizes their push token.
func (m *Machine) Assign(ctx context.Context, taskID string, user models.User) (models.Task, error) {
	if strings.TrimSpace(user.ID) == "" {
		return models.Task{}, fmt.Errorf("%w: assignee id must not be empty", ErrInvalidTask)
	}
	now := m.clock().UTC()

	var updated models.Task
	err := m.repo.Mutate(ctx, func(tasks []models.Task) ([]models.Task, error) {
		i := taskstore.IndexOf(tasks, taskID)
		if i < 0 {
			return nil, ErrTaskNotFound
		}
		t := &tasks[i]
		t.AssignedTo = user.ID
		t.AssignedToPushToken = user.PushToken
		t.Touch(now)
		updated = t.Clone()
		return tasks, nil
	})
	if err != nil {
		if IsRejection(err) {
			return models.Task{}, err
		}
		return models.Task{}, fmt.Errorf("assign task: %w", err)
	}

	m.logger.Info("task assigned", logfields.TaskID(taskID), logfields.UserID(user.ID))
	m.notifier.Dispatch(updated.AssignedToPushToken, notify.Message{
		Title: "New task",
		Body:  fmt.Sprintf("%s was assigned to you", updated.Title),
	})
	m.syncer.AfterMutation(ctx, updated.Clone())
	return updated, nil
}

// Delete removes a task from the local store only. The remote copy is left
// in place.
func (m *Machine) Delete(ctx context.Context, taskID string) error {
	err := m.repo.Mutate(ctx, func(tasks []models.Task) ([]models.Task, error) {
		i := taskstore.IndexOf(tasks, taskID)
		if i < 0 {
			return nil, ErrTaskNotFound
		}
		out := make([]models.Task, 0, len(tasks)-1)
		for _, t := range tasks {
			if t.ID != taskID {
				out = append(out, t)
			}
		}
		return out, nil
	})
	if err != nil {
		if IsRejection(err) {
			return err
		}
		return fmt.Errorf("delete task: %w", err)
	}
	m.logger.Info("task deleted locally", logfields.TaskID(taskID))
	return nil
}

// List returns the locally persisted tasks, newest first.
func (m *Machine) List(ctx context.Context) ([]models.Task, error) {
	tasks, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	models.SortByCreatedDesc(tasks)
	return tasks, nil
}

// Get returns a locally persisted task.
func (m *Machine) Get(ctx context.Context, taskID string) (models.Task, error) {
	t, ok, err := m.repo.Get(ctx, taskID)
	if err != nil {
		return models.Task{}, err
	}
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}
	return t, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrTaskNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyReached):
		return "already_reached"
	case errors.Is(err, ErrTerminal):
		return "terminal"
	case errors.Is(err, ErrBackwardStep):
		return "backward"
	default:
		return "invalid"
	}
}

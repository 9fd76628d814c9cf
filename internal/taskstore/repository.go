package taskstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tracktrip/internal/models"
)

// ErrSkipSave may be returned by a Mutate callback to end the cycle without
// writing and without reporting an error.
var ErrSkipSave = errors.New("skip save")

// MutateFunc edits the collection in place and returns it. Returning
// ErrSkipSave leaves the store untouched; any other error aborts the cycle
// and is returned to the caller of Mutate.
type MutateFunc func(tasks []models.Task) ([]models.Task, error)

// Repository owns the local collection and serializes access to it.
type Repository struct {
	mu     sync.Mutex
	store  LocalStore
	logger *slog.Logger
}

// NewRepository wraps store.
func NewRepository(store LocalStore, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{store: store, logger: logger}
}

// List returns a deep copy of every locally persisted task.
func (r *Repository) List(ctx context.Context) ([]models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tasks, err := r.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	return cloneAll(tasks), nil
}

// Get returns the task with the given id.
func (r *Repository) Get(ctx context.Context, id string) (models.Task, bool, error) {
	tasks, err := r.List(ctx)
	if err != nil {
		return models.Task{}, false, err
	}
	if i := IndexOf(tasks, id); i >= 0 {
		return tasks[i], true, nil
	}
	return models.Task{}, false, nil
}

// Mutate runs one read-modify-write cycle under the repository lock. No
// change is durable until the underlying SaveAll returns.
func (r *Repository) Mutate(ctx context.Context, fn MutateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	updated, err := fn(tasks)
	if errors.Is(err, ErrSkipSave) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.store.SaveAll(ctx, updated); err != nil {
		return fmt.Errorf("persist tasks: %w", err)
	}
	return nil
}

// Replace overwrites the whole collection.
func (r *Repository) Replace(ctx context.Context, tasks []models.Task) error {
	return r.Mutate(ctx, func([]models.Task) ([]models.Task, error) {
		return cloneAll(tasks), nil
	})
}

// IndexOf returns the position of the first task with id, or -1.
func IndexOf(tasks []models.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(tasks []models.Task) []models.Task {
	out := make([]models.Task, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].Clone()
	}
	return out
}

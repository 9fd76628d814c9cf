// Package taskstore persists the on-device task collection.
//
// The whole collection lives in a single serialized blob. SaveAll replaces
// it atomically and is the only commit point; Repository serializes every
// read-modify-write cycle over it.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"tracktrip/internal/logfields"
	"tracktrip/internal/models"
)

// DefaultKey is the KV key holding the serialized task collection.
const DefaultKey = "tasks"

// ErrNotFound is returned by KV implementations for an absent key.
var ErrNotFound = errors.New("key not found")

// KV is a durable byte store keyed by string.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// LocalStore loads and atomically replaces the full task collection.
type LocalStore interface {
	LoadAll(ctx context.Context) ([]models.Task, error)
	SaveAll(ctx context.Context, tasks []models.Task) error
}

// Snapshot is a LocalStore that keeps the collection as one JSON blob.
type Snapshot struct {
	kv     KV
	key    string
	logger *slog.Logger
}

// NewSnapshot wraps kv; an empty key selects DefaultKey.
func NewSnapshot(kv KV, key string, logger *slog.Logger) *Snapshot {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshot{kv: kv, key: key, logger: logger}
}

// LoadAll returns the persisted collection. A missing, unreadable or corrupt
// blob yields an empty collection.
func (s *Snapshot) LoadAll(ctx context.Context) ([]models.Task, error) {
	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return []models.Task{}, nil
	}
	if err != nil {
		s.logger.Warn("local snapshot unreadable, starting empty", logfields.Error(err))
		return []models.Task{}, nil
	}
	tasks, err := Decode(raw)
	if err != nil {
		s.logger.Warn("local snapshot corrupt, starting empty", logfields.Error(err))
		return []models.Task{}, nil
	}
	return tasks, nil
}

// SaveAll replaces the persisted collection.
func (s *Snapshot) SaveAll(ctx context.Context, tasks []models.Task) error {
	raw, err := Encode(tasks)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, s.key, raw); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Decode parses a serialized collection. Empty input is an empty collection.
func Decode(raw []byte) ([]models.Task, error) {
	if len(raw) == 0 {
		return []models.Task{}, nil
	}
	var tasks []models.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}

// Encode serializes a collection.
func Encode(tasks []models.Task) ([]byte, error) {
	if tasks == nil {
		tasks = []models.Task{}
	}
	raw, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

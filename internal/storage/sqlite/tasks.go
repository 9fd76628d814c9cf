package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tracktrip/internal/models"
)

// ErrTaskNotFound is returned when no document exists for an id.
var ErrTaskNotFound = errors.New("task not found")

// localOnlyKeys are task fields that describe client state and are never
// stored remotely.
var localOnlyKeys = []string{"isSynced"}

// ListTasks returns every stored task document ordered newest first.
func (s *Store) ListTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		var t models.Task
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			s.logger.Warn("skipping unreadable task document", "error", err.Error())
			continue
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	models.SortByCreatedDesc(tasks)
	return tasks, nil
}

// GetTask retrieves a task document by id.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	var t models.Task
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return models.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return t, nil
}

// UpsertTask merges the incoming task into the stored document keyed by id.
// Nested objects merge key by key; every other value is replaced. Nothing is
// ever removed from an existing document. A task older than the stored
// revision is refused with *models.RevisionConflict; equal revisions merge.
func (s *Store) UpsertTask(ctx context.Context, t models.Task) (models.Task, error) {
	if strings.TrimSpace(t.ID) == "" {
		return models.Task{}, fmt.Errorf("task id must not be empty")
	}

	incoming, err := toDocument(t)
	if err != nil {
		return models.Task{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Task{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	merged := incoming
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = ?`, t.ID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return models.Task{}, fmt.Errorf("read task: %w", err)
	default:
		current := map[string]any{}
		if err := json.Unmarshal([]byte(existing), &current); err != nil {
			s.logger.Warn("replacing unreadable task document", "task_id", t.ID, "error", err.Error())
		} else {
			if stored := documentRevision(current); stored > t.Revision {
				return models.Task{}, &models.RevisionConflict{TaskID: t.ID, Stored: stored, Incoming: t.Revision}
			}
			merged = mergeDocuments(current, incoming)
		}
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return models.Task{}, fmt.Errorf("encode task: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks(id, doc) VALUES(?, ?)
        ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`, t.ID, string(raw))
	if err != nil {
		return models.Task{}, fmt.Errorf("upsert task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Task{}, fmt.Errorf("commit upsert: %w", err)
	}

	var out models.Task
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return out, nil
}

func toDocument(t models.Task) (map[string]any, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	for _, k := range localOnlyKeys {
		delete(doc, k)
	}
	return doc, nil
}

func documentRevision(doc map[string]any) int64 {
	v, _ := doc["revision"].(float64)
	return int64(v)
}

func mergeDocuments(dst, src map[string]any) map[string]any {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeDocuments(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

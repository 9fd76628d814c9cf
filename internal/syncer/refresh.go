package syncer

import (
	"context"
	"fmt"

	"tracktrip/internal/logfields"
	"tracktrip/internal/models"
	"tracktrip/internal/taskstore"
)

// Refresh returns the current task view. Online, the remote collection is
// fetched, deduplicated and written over the local store, with every
// still-unsynced local task reapplied on top. A local task that changed
// while the fetch was in flight is kept over the fetched copy. Offline, or when the fetch
// fails, the local collection is served deduplicated and nothing is written.
func (e *Engine) Refresh(ctx context.Context) ([]models.Task, error) {
	if !e.Online() {
		return e.localView(ctx)
	}

	before, err := e.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]int64, len(before))
	for _, t := range before {
		seen[t.ID] = t.Revision
	}

	fetched, err := e.remote.FetchAll(ctx)
	if err != nil {
		e.logger.Warn("remote fetch failed, serving local tasks", logfields.Error(err))
		return e.localView(ctx)
	}
	for i := range fetched {
		fetched[i].IsSynced = true
	}
	remoteView := Dedupe(fetched)

	var view []models.Task
	err = e.repo.Mutate(ctx, func(local []models.Task) ([]models.Task, error) {
		view = overlayUnsynced(remoteView, local, seen)
		return view, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store refreshed tasks: %w", err)
	}
	e.updateUnsyncedGauge(ctx)

	out := make([]models.Task, len(view))
	for i := range view {
		out[i] = view[i].Clone()
	}
	return out, nil
}

func (e *Engine) localView(ctx context.Context) ([]models.Task, error) {
	tasks, err := e.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return Dedupe(tasks), nil
}

// Dedupe orders tasks by createdAt descending and keeps the first occurrence
// of each id. It does not modify its input and is idempotent.
func Dedupe(tasks []models.Task) []models.Task {
	sorted := make([]models.Task, len(tasks))
	for i := range tasks {
		sorted[i] = tasks[i].Clone()
	}
	models.SortByCreatedDesc(sorted)

	seen := make(map[string]struct{}, len(sorted))
	out := make([]models.Task, 0, len(sorted))
	for _, t := range sorted {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}

// overlayUnsynced layers local tasks over the remote view. An unsynced local
// copy always wins. A synced one wins when its revision is ahead of the
// fetched copy, or when it is missing remotely but was created or changed
// after seen (id to revision) was taken. Other synced local tasks yield to the
// remote view.
func overlayUnsynced(remoteView, local []models.Task, seen map[string]int64) []models.Task {
	merged := make([]models.Task, len(remoteView))
	for i := range remoteView {
		merged[i] = remoteView[i].Clone()
	}
	for _, t := range Dedupe(local) {
		i := taskstore.IndexOf(merged, t.ID)
		if i >= 0 {
			if !t.IsSynced || t.Revision > merged[i].Revision {
				merged[i] = t
			}
			continue
		}
		if rev, ok := seen[t.ID]; !t.IsSynced || !ok || rev != t.Revision {
			merged = append(merged, t)
		}
	}
	return Dedupe(merged)
}

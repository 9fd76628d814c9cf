package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracktrip/internal/models"
	"tracktrip/internal/server"
	"tracktrip/internal/storage/sqlite"
)

func newServedClient(t *testing.T) (*Client, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "remote.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ts := httptest.NewServer(server.New(store, nil, nil).Engine())
	t.Cleanup(ts.Close)
	return New(ts.URL+"/", nil), store
}

func TestRoundTripAgainstServer(t *testing.T) {
	ctx := context.Background()
	client, _ := newServedClient(t)
	require.NoError(t, client.Ping(ctx))

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task := models.Task{
		ID:        "t1",
		Title:     "crates",
		Status:    models.StatusCreated,
		Timeline:  models.Timeline{models.StatusCreated: {At: at, By: "u1"}},
		CreatedAt: at,
		Revision:  1,
	}
	require.NoError(t, client.Upsert(ctx, task))

	all, err := client.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "crates", all[0].Title)
	assert.True(t, all[0].CreatedAt.Equal(at))
}

func TestUpsertOlderRevisionIsConflict(t *testing.T) {
	ctx := context.Background()
	client, _ := newServedClient(t)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task := models.Task{
		ID:        "t1",
		Title:     "crates",
		Status:    models.StatusAccepted,
		Timeline:  models.Timeline{models.StatusCreated: {At: at, By: "u1"}},
		CreatedAt: at,
		Revision:  3,
	}
	require.NoError(t, client.Upsert(ctx, task))

	stale := task
	stale.Status = models.StatusCreated
	stale.Revision = 2
	err := client.Upsert(ctx, stale)
	var conflict *models.RevisionConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, models.RevisionConflict{TaskID: "t1", Stored: 3, Incoming: 2}, *conflict)

	all, err := client.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.StatusAccepted, all[0].Status)
}

func TestUsersAndNotFound(t *testing.T) {
	ctx := context.Background()
	client, store := newServedClient(t)
	_, err := store.UpsertUser(ctx, models.User{ID: "d1", Name: "Dana", Role: models.RoleDriver})
	require.NoError(t, err)

	u, err := client.GetUser(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Dana", u.Name)

	users, err := client.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = client.GetUser(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "user not found", se.Message)
}

func TestStatusErrorFromPlainBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	err := New(ts.URL, nil).Ping(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "overloaded", se.Message)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestContextCancellation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(ts.URL, nil).FetchAll(ctx)
	require.Error(t, err)
}

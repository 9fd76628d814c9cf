package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"created", StatusCreated, false},
		{" In_Progress ", StatusInProgress, false},
		{"delivering", StatusDelivered, false},
		{"completed", StatusCompleted, false},
		{"archived", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := ParseStatus(c.in)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestStatusOrdinal(t *testing.T) {
	for i, s := range Lifecycle {
		assert.Equal(t, i, s.Ordinal())
	}
	assert.Equal(t, -1, Status("nope").Ordinal())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusDelivered.Terminal())
}

func TestTimelineDecodesLegacyNulls(t *testing.T) {
	raw := `{"created":{"at":"2025-01-02T03:04:05Z","by":"u1"},"in_progress":null,"accepted":null,"delivered":null,"completed":null,"bogus":{"at":"2025-01-02T03:04:05Z","by":"x"}}`
	var tl Timeline
	require.NoError(t, json.Unmarshal([]byte(raw), &tl))
	assert.Len(t, tl, 1)
	assert.True(t, tl.Reached(StatusCreated))
	assert.False(t, tl.Reached(StatusInProgress))
	assert.Equal(t, "u1", tl[StatusCreated].By)

	out, err := json.Marshal(tl)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "null")
}

func TestTimelineHighest(t *testing.T) {
	now := time.Now()
	tl := Timeline{StatusCreated: {At: now}, StatusAccepted: {At: now}}
	h, ok := tl.Highest()
	require.True(t, ok)
	assert.Equal(t, StatusAccepted, h)

	_, ok = Timeline{}.Highest()
	assert.False(t, ok)
}

func TestTaskCloneIsDeep(t *testing.T) {
	orig := Task{
		ID:       "t1",
		Title:    "parcel",
		Status:   StatusCreated,
		Timeline: Timeline{StatusCreated: {By: "u1"}},
		Location: &Location{Latitude: 1, Longitude: 2, Address: "Main St"},
	}
	cp := orig.Clone()
	cp.Timeline[StatusInProgress] = Step{By: "u2"}
	cp.Location.Address = "Elsewhere"

	assert.False(t, orig.Timeline.Reached(StatusInProgress))
	assert.Equal(t, "Main St", orig.Location.Address)
}

func TestTaskValidate(t *testing.T) {
	ok := Task{ID: "a", Title: "x", Status: StatusCreated, Timeline: Timeline{StatusCreated: {}}}
	require.NoError(t, ok.Validate())

	mismatch := ok.Clone()
	mismatch.Timeline[StatusAccepted] = Step{}
	assert.Error(t, mismatch.Validate())

	noTitle := ok.Clone()
	noTitle.Title = "  "
	assert.Error(t, noTitle.Validate())
}

func TestTouch(t *testing.T) {
	task := Task{IsSynced: true, Revision: 3}
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	task.Touch(now)
	assert.False(t, task.IsSynced)
	assert.Equal(t, int64(4), task.Revision)
	assert.Equal(t, now, task.UpdatedAt)
}

func TestSortByCreatedDescStable(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []Task{
		{ID: "old", CreatedAt: base},
		{ID: "tie-a", CreatedAt: base.Add(time.Hour)},
		{ID: "tie-b", CreatedAt: base.Add(time.Hour)},
		{ID: "new", CreatedAt: base.Add(2 * time.Hour)},
	}
	SortByCreatedDesc(tasks)
	ids := []string{tasks[0].ID, tasks[1].ID, tasks[2].ID, tasks[3].ID}
	assert.Equal(t, []string{"new", "tie-a", "tie-b", "old"}, ids)
}

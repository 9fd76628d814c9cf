package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is a lifecycle state of a delivery task.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusAccepted   Status = "accepted"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
)

// Lifecycle lists the states in progression order.
var Lifecycle = []Status{
	StatusCreated,
	StatusInProgress,
	StatusAccepted,
	StatusDelivered,
	StatusCompleted,
}

// statusAliases maps UI naming variants onto canonical states.
var statusAliases = map[string]Status{
	"delivering": StatusDelivered,
}

// ParseStatus converts raw input into a canonical Status.
func ParseStatus(raw string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := statusAliases[v]; ok {
		return alias, nil
	}
	s := Status(v)
	if s.Ordinal() < 0 {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Ordinal returns the position of s in the lifecycle, or -1 when unknown.
func (s Status) Ordinal() int {
	for i, st := range Lifecycle {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the lifecycle states.
func (s Status) Valid() bool { return s.Ordinal() >= 0 }

// Terminal reports whether no transition may follow s.
func (s Status) Terminal() bool { return s == StatusCompleted }

func (s Status) String() string { return string(s) }

// Step records when and by whom a lifecycle state was reached.
type Step struct {
	At time.Time `json:"at"`
	By string    `json:"by"`
}

// Timeline maps reached states to their step record. A key is present only
// when the state has been reached.
type Timeline map[Status]Step

// UnmarshalJSON accepts the legacy layout where unreached states are null
// and drops keys that are not lifecycle states.
func (t *Timeline) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = nil
		return nil
	}
	var raw map[string]*Step
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Timeline, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		s, err := ParseStatus(k)
		if err != nil {
			continue
		}
		out[s] = *v
	}
	*t = out
	return nil
}

// Reached reports whether s has a timeline entry.
func (t Timeline) Reached(s Status) bool {
	_, ok := t[s]
	return ok
}

// Highest returns the highest-ordinal reached state.
func (t Timeline) Highest() (Status, bool) {
	for i := len(Lifecycle) - 1; i >= 0; i-- {
		if t.Reached(Lifecycle[i]) {
			return Lifecycle[i], true
		}
	}
	return "", false
}

// Clone returns an independent copy.
func (t Timeline) Clone() Timeline {
	if t == nil {
		return nil
	}
	out := make(Timeline, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Location is the pickup or drop-off point of a task.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Confirmation references proof-of-completion artifacts.
type Confirmation struct {
	PhotoURL     string `json:"photoUrl,omitempty"`
	SignatureURL string `json:"signatureUrl,omitempty"`
}

// Task is a delivery job tracked by the sync engine.
type Task struct {
	ID                  string        `json:"id"`
	Title               string        `json:"title"`
	Description         string        `json:"description,omitempty"`
	Notes               string        `json:"notes,omitempty"`
	Location            *Location     `json:"location,omitempty"`
	Status              Status        `json:"status"`
	Timeline            Timeline      `json:"timeline"`
	AssignedTo          string        `json:"assignedTo,omitempty"`
	AssignedToPushToken string        `json:"assignedToPushToken,omitempty"`
	Confirmation        *Confirmation `json:"confirmation,omitempty"`
	IsSynced            bool          `json:"isSynced"`
	Revision            int64         `json:"revision"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (t Task) Clone() Task {
	out := t
	out.Timeline = t.Timeline.Clone()
	if t.Location != nil {
		loc := *t.Location
		out.Location = &loc
	}
	if t.Confirmation != nil {
		c := *t.Confirmation
		out.Confirmation = &c
	}
	return out
}

// Touch marks the task as locally mutated at now.
func (t *Task) Touch(now time.Time) {
	t.IsSynced = false
	t.Revision++
	t.UpdatedAt = now
}

// Validate checks the structural invariants of a task.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task id must not be empty")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title must not be empty")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task status %q is not a lifecycle state", t.Status)
	}
	highest, ok := t.Timeline.Highest()
	if !ok {
		return fmt.Errorf("task timeline is empty")
	}
	if highest != t.Status {
		return fmt.Errorf("task status %q does not match timeline %q", t.Status, highest)
	}
	return nil
}

// SortByCreatedDesc orders tasks newest first, keeping input order for ties.
func SortByCreatedDesc(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

// Role is the part a user plays in a delivery.
type Role string

const (
	RoleCreator  Role = "creator"
	RoleDriver   Role = "driver"
	RoleReceiver Role = "receiver"
)

// User is a participant referenced by assignments and timeline steps.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      Role   `json:"role,omitempty"`
	PushToken string `json:"pushToken,omitempty"`
}

// RevisionConflict reports a write that carries an older revision than the
// stored document of the same task.
type RevisionConflict struct {
	TaskID   string
	Stored   int64
	Incoming int64
}

func (e *RevisionConflict) Error() string {
	return fmt.Sprintf("task %s: revision %d is older than stored revision %d", e.TaskID, e.Incoming, e.Stored)
}

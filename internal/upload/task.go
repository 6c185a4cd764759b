// Package upload drives the per-file upload pipeline: request a write
// grant from the backend, transfer bytes directly to storage via the
// presigned URL, then await out-of-band processing completion (reported
// exclusively over the push channel, never polled here).
package upload

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of an upload task.
type Status string

// Task statuses. Completed and Failed are terminal: no transition leaves
// them, and a terminal task is immutable.
const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task tracks one file through the upload pipeline.
type Task struct {
	ID          string
	Name        string
	ContentType string
	SizeBytes   int64
	Progress    int // percent, monotone non-decreasing while uploading
	Status      Status
	FileID      string // backend file ID, set once a grant is issued
	StorageKey  string
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Terminal reports whether the task has reached a terminal status.
func (t Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// registry holds all tasks for a session. Mutation is a read-modify-replace
// of the whole task record under the mutex, so observers never see a
// partially updated task.
type registry struct {
	mu    sync.Mutex
	tasks map[string]Task
	order []string // insertion order for stable listings
}

func newRegistry() *registry {
	return &registry{tasks: make(map[string]Task)}
}

// add inserts a new task. The ID must be unused.
func (r *registry) add(t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[t.ID] = t
	r.order = append(r.order, t.ID)
}

// get returns a copy of the task, if present.
func (r *registry) get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]

	return t, ok
}

// update applies fn to a copy of the task and replaces the stored record
// atomically. Terminal tasks are never modified; progress never decreases.
func (r *registry) update(id string, fn func(*Task)) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("upload: unknown task %s", id)
	}

	if t.Terminal() {
		return t, fmt.Errorf("upload: task %s is terminal (%s)", id, t.Status)
	}

	prevProgress := t.Progress
	fn(&t)

	if t.Progress < prevProgress {
		t.Progress = prevProgress
	}

	r.tasks[id] = t

	return t, nil
}

// list returns copies of all tasks in insertion order.
func (r *registry) list() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id])
	}

	return out
}

// remove deletes a task from the registry. Used for the post-completion
// grace-period cleanup; failed tasks are retained for inspection.
func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tasks, id)

	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

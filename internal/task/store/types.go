package store

import (
	"context"
	"errors"
	"time"

	"taskmin/internal/task"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrClosed   = errors.New("store closed")

	ErrNotRepeating = errors.New("task is not repeating")
)

// Store holds all pending tasks.
//
// Implementations must be safe for concurrent use: the scheduler loop calls
// Next/MarkCompleted/MarkRepeated while any number of callers run Create.
type Store interface {
	// Next returns the task with the earliest due time. ok is false when the
	// store is empty. It never returns a task that was already removed.
	Next(ctx context.Context) (t task.Task, ok bool, err error)

	// Create builds a task from spec, assigns it a fresh id and inserts it.
	// Id assignment and insertion are atomic with respect to other Create calls.
	Create(ctx context.Context, spec task.Spec) (task.Task, error)

	// MarkCompleted removes the task with t's id. Removing an absent task is a no-op.
	MarkCompleted(ctx context.Context, t task.Task) error

	// MarkRepeated moves a repeating task to its next occurrence (exactly one
	// period later) and repositions it. It returns the stored successor.
	MarkRepeated(ctx context.Context, t task.Task) (task.Task, error)
}

// Counter is implemented by stores that can report how many tasks they hold.
type Counter interface {
	Len(ctx context.Context) (int, error)
}

// Lister is implemented by stores that can enumerate pending tasks in due order.
type Lister interface {
	List(ctx context.Context) ([]task.Task, error)
}

// Resolver returns the action for a task name, or nil when the name is unknown.
// Durable stores use it to re-bind tasks loaded from a previous process.
type Resolver func(name string) task.Action

// Config selects and configures a store.
//
// Driver values:
//   - "" or "memory": in-process ordered set (default)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

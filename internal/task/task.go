package task

import (
	"context"
	"time"
)

// ID identifies a task within its store. IDs are never reused.
type ID int64

// Action is the work a task performs. The scheduler never inspects it.
type Action func(ctx context.Context) error

type Kind int

const (
	KindOnce Kind = iota
	KindRepeating
)

func (k Kind) String() string {
	switch k {
	case KindOnce:
		return "once"
	case KindRepeating:
		return "repeating"
	default:
		return "unknown"
	}
}

// Task is a scheduled unit of work.
//
// The zero value is not a valid task; tasks are created by Build (normally
// through a store's Create).
type Task struct {
	id     ID
	name   string
	action Action
	due    time.Time
	period time.Duration
}

// Build finalizes spec into a task with the given id.
//
// now is the creation time. It replaces a zero spec.At, and with SkipFirst the
// first due time becomes now+Every instead of the configured At.
func Build(id ID, spec Spec, now time.Time) (Task, error) {
	if err := spec.Validate(); err != nil {
		return Task{}, err
	}
	due := spec.At
	if due.IsZero() {
		due = now
	}
	if spec.SkipFirst {
		due = now.Add(spec.Every)
	}
	return Task{
		id:     id,
		name:   spec.Name,
		action: spec.Action,
		due:    due,
		period: spec.Every,
	}, nil
}

// Restore rebuilds a task from stored fields. Durable stores use it when
// loading rows written by a previous process.
func Restore(id ID, name string, due time.Time, period time.Duration, action Action) Task {
	if period < 0 {
		period = 0
	}
	return Task{id: id, name: name, action: action, due: due, period: period}
}

func (t Task) ID() ID                { return t.id }
func (t Task) Name() string          { return t.name }
func (t Task) Action() Action        { return t.action }
func (t Task) Due() time.Time        { return t.due }
func (t Task) Period() time.Duration { return t.period }
func (t Task) Repeating() bool       { return t.period > 0 }

func (t Task) Kind() Kind {
	if t.Repeating() {
		return KindRepeating
	}
	return KindOnce
}

// Equal reports whether t and o are the same task. Only ids are compared.
func (t Task) Equal(o Task) bool { return t.id == o.id }

// Run invokes the task's action.
func (t Task) Run(ctx context.Context) error {
	if t.action == nil {
		return nil
	}
	return t.action(ctx)
}

// Successor returns the next occurrence of a repeating task: the same identity,
// due exactly one period after t. It returns false for one-shot tasks.
func (t Task) Successor() (Task, bool) {
	if !t.Repeating() {
		return Task{}, false
	}
	n := t
	n.due = t.due.Add(t.period)
	return n, true
}

// Less orders tasks by due time, breaking ties by id.
func Less(a, b Task) bool {
	if !a.due.Equal(b.due) {
		return a.due.Before(b.due)
	}
	return a.id < b.id
}

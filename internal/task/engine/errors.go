package engine

import (
	"errors"
	"fmt"

	"taskmin/internal/task"
)

var (
	ErrStopped   = errors.New("task engine stopped")
	ErrStopping  = errors.New("task engine stopping")
	ErrQueueFull = errors.New("task engine queue full")
)

// PanicError reports a task action that panicked. Recover and Pool return it
// instead of letting the panic unwind into the scheduler.
type PanicError struct {
	TaskID task.ID
	Name   string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("task %d (%s) panicked: %v", e.TaskID, e.Name, e.Value)
	}
	return fmt.Sprintf("task %d panicked: %v", e.TaskID, e.Value)
}

// IsPanic reports whether err is (or wraps) a PanicError.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

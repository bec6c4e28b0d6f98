package engine

import (
	"context"
	"runtime/debug"

	"taskmin/internal/task"
	logx "taskmin/pkg/logx"
)

// Runner executes a task's action.
//
// Runners are called by the scheduler while it holds its lock: a runner (or the
// action it runs) must never call AddTask on the same scheduler.
type Runner interface {
	Run(ctx context.Context, t task.Task) error
}

// Func adapts a function to Runner.
type Func func(ctx context.Context, t task.Task) error

func (f Func) Run(ctx context.Context, t task.Task) error { return f(ctx, t) }

// Direct runs the action synchronously and returns its error.
// Panics are not recovered.
type Direct struct{}

func (Direct) Run(ctx context.Context, t task.Task) error { return t.Run(ctx) }

// Recover wraps next so a panicking action is reported as a *PanicError
// instead of unwinding into the caller.
func Recover(next Runner, log logx.Logger) Runner {
	if next == nil {
		next = Direct{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &recoverRunner{next: next, log: log}
}

type recoverRunner struct {
	next Runner
	log  logx.Logger
}

func (r *recoverRunner) Run(ctx context.Context, t task.Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			stack := string(debug.Stack())
			r.log.Error("task.panic",
				logx.Int64("task_id", int64(t.ID())),
				logx.String("task", t.Name()),
				logx.Any("panic", p),
				logx.Stack(stack),
			)
			err = &PanicError{TaskID: t.ID(), Name: t.Name(), Value: p, Stack: stack}
		}
	}()
	return r.next.Run(ctx, t)
}

var (
	_ Runner = Direct{}
	_ Runner = Func(nil)
	_ Runner = (*recoverRunner)(nil)
)

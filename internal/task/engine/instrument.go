package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"taskmin/internal/eventbus"
	"taskmin/internal/task"
	logx "taskmin/pkg/logx"
)

// slowRun is the duration above which successful runs are logged at info.
const slowRun = 750 * time.Millisecond

// Instrument wraps next with run logging, lifecycle events and history.
// bus and hist may be nil.
func Instrument(next Runner, log logx.Logger, bus eventbus.Bus, hist *History) Runner {
	if next == nil {
		next = Direct{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &instrumented{next: next, log: log, bus: bus, hist: hist}
}

type instrumented struct {
	next Runner
	log  logx.Logger
	bus  eventbus.Bus
	hist *History
}

func (r *instrumented) Run(ctx context.Context, t task.Task) error {
	runID := uuid.NewString()
	start := time.Now()
	lateBy := start.Sub(t.Due())
	if lateBy < 0 {
		lateBy = 0
	}
	ev := TaskEvent{RunID: runID, TaskID: int64(t.ID()), Name: t.Name(), Due: t.Due(), Started: start}

	r.log.Debug("task.started", logx.Int64("task_id", int64(t.ID())), logx.String("task", t.Name()), logx.Duration("late", lateBy))
	eventbus.Publish(r.bus, eventbus.TaskStarted, ev)

	err := r.next.Run(ctx, t)

	dur := time.Since(start)
	ev.Duration = dur
	item := HistoryItem{RunID: runID, TaskID: t.ID(), Name: t.Name(), Due: t.Due(), Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		r.log.Warn("task.failed", logx.Int64("task_id", int64(t.ID())), logx.String("task", t.Name()), logx.Err(err), logx.Duration("dur", dur))
		eventbus.Publish(r.bus, eventbus.TaskFailed, ev)
	} else {
		if dur >= slowRun {
			r.log.Info("task.completed", logx.Int64("task_id", int64(t.ID())), logx.String("task", t.Name()), logx.Duration("dur", dur))
		} else {
			r.log.Debug("task.completed", logx.Int64("task_id", int64(t.ID())), logx.String("task", t.Name()), logx.Duration("dur", dur))
		}
		eventbus.Publish(r.bus, eventbus.TaskFinished, ev)
	}
	r.hist.Add(item)
	return err
}

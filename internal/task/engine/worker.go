package engine

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taskmin/internal/eventbus"
	logx "taskmin/pkg/logx"
)

func (s *Pool) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt, ok := <-queue:
			if !ok {
				return
			}
			s.mu.Lock()
			lim := s.limiter
			s.mu.Unlock()
			if lim != nil {
				if err := lim.Wait(ctx); err != nil {
					return
				}
			}
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, qt)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

func (s *Pool) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := time.Duration(0)
	if !qt.enqueuedAt.IsZero() {
		queueDelay = start.Sub(qt.enqueuedAt)
		if queueDelay < 0 {
			queueDelay = 0
		}
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	t := qt.task
	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.onStaleDropped(start, t, queueDelay)
		s.hist.Add(HistoryItem{TaskID: t.ID(), Name: t.Name(), Due: t.Due(), Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		return
	}

	runID := uuid.NewString()
	ev := TaskEvent{RunID: runID, TaskID: int64(t.ID()), Name: t.Name(), Due: t.Due(), Started: start, QueueDelay: queueDelay}
	s.log.Debug("task.started", logx.Int64("task_id", int64(t.ID())), logx.String("task", t.Name()), logx.Duration("queue_delay", queueDelay))
	eventbus.Publish(s.bus, eventbus.TaskStarted, ev)

	runCtx := ctx
	var cancel func()
	if cfg.DefaultTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.DefaultTimeout)
	}
	var err error
	// exec is normally Recover-wrapped; this guard covers custom runners so a
	// panic costs one run, not a worker restart.
	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				err = &PanicError{TaskID: t.ID(), Name: t.Name(), Value: r, Stack: stack}
				s.log.Error("task.panic", logx.String("task", t.Name()), logx.Any("panic", r), logx.Stack(stack))
			}
		}()
		err = s.exec.Run(runCtx, t)
	}()
	if cancel != nil {
		cancel()
	}

	dur := time.Since(start)
	ev.Duration = dur
	item := HistoryItem{RunID: runID, TaskID: t.ID(), Name: t.Name(), Due: t.Due(), Started: start, Duration: dur, QueueDelay: queueDelay}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Warn("task.failed", logx.String("task", t.Name()), logx.Err(err), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		eventbus.Publish(s.bus, eventbus.TaskFailed, ev)
	} else {
		if dur >= slowRun {
			s.log.Info("task.completed", logx.String("task", t.Name()), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		} else {
			s.log.Debug("task.completed", logx.String("task", t.Name()), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		}
		eventbus.Publish(s.bus, eventbus.TaskFinished, ev)
	}
	s.hist.Add(item)
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"taskmin/internal/eventbus"
	"taskmin/internal/task"
	"taskmin/internal/task/engine"
	"taskmin/internal/task/store"
	logx "taskmin/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log       logx.Logger
	bus       eventbus.Bus
	store     store.Store
	runner    engine.Runner
	precision time.Duration

	// next caches the earliest task known to the loop. nil means unknown.
	next *task.Task

	// unsettled is a task that ran but whose store update failed. It is
	// retried before anything else fires.
	unsettled *task.Task

	// wake holds at most one pending signal, so a signal sent between the
	// loop's unlock and its select is never lost.
	wake chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// stopping is set by Stop without taking mu, which the loop holds while
	// an action runs. closed is set under mu once the loop has exited.
	stopping atomic.Bool
	closed   bool
	fatal    error

	fired    atomic.Uint64
	failed   atomic.Uint64
	lastFire atomic.Int64
}

// New creates a coordinator over st and r and starts its loop.
// A nil store means a fresh in-memory store; a nil runner means engine.Direct.
func New(cfg Config, st store.Store, r engine.Runner, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if st == nil {
		st = store.NewMemory()
	}
	if r == nil {
		r = engine.Direct{}
	}
	precision := cfg.PrecisionCheck
	if precision <= 0 {
		precision = DefaultPrecision
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		log:       log,
		bus:       bus,
		store:     st,
		runner:    r,
		precision: precision,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run()
	s.log.Debug("scheduler started", logx.Duration("precision", precision))
	return s
}

// NewBasic returns a coordinator with an in-memory store, direct execution
// and default precision.
func NewBasic() *Service {
	return New(Config{}, nil, nil, logx.Nop(), nil)
}

// AddTask stores a task built from spec and returns it. It never waits for
// the loop; the loop is woken if the new task is due before the cached one.
func (s *Service) AddTask(ctx context.Context, spec task.Spec) (task.Task, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.stopping.Load() {
		if s.fatal != nil {
			return task.Task{}, fmt.Errorf("%w: %w", ErrStopped, s.fatal)
		}
		return task.Task{}, ErrStopped
	}

	t, err := s.store.Create(ctx, spec)
	if err != nil {
		return task.Task{}, err
	}
	if s.next != nil && s.next.Due().After(t.Due()) {
		s.next = &t
	}
	s.signal()

	s.log.Debug("task added",
		logx.Int64("task_id", int64(t.ID())),
		logx.String("task", t.Name()),
		logx.Time("due", t.Due()),
		logx.String("kind", t.Kind().String()),
		logx.Duration("period", t.Period()),
	)
	eventbus.Publish(s.bus, eventbus.TaskCreated, engine.TaskEvent{TaskID: int64(t.ID()), Name: t.Name(), Due: t.Due()})
	return t, nil
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop ends the loop and waits until it exited or ctx is done. The context
// handed to a running action is canceled. Stop is safe to call repeatedly.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		s.cancel()
		close(s.stopCh)
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the loop has exited.
func (s *Service) Done() <-chan struct{} { return s.done }

// Err returns the failure that terminated the loop, if any.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:   !s.closed && !s.stopping.Load(),
		Precision: s.precision,
		Pending:   -1,
	}
	if s.next != nil {
		snap.HasNext = true
		snap.NextID = s.next.ID()
		snap.NextName = s.next.Name()
		snap.NextDue = s.next.Due()
	}
	if s.fatal != nil {
		snap.Err = s.fatal.Error()
	}
	st := s.store
	s.mu.Unlock()

	if c, ok := st.(store.Counter); ok {
		if n, err := c.Len(context.Background()); err == nil {
			snap.Pending = n
		}
	}
	snap.Fired = s.fired.Load()
	snap.Failed = s.failed.Load()
	if ns := s.lastFire.Load(); ns != 0 {
		snap.LastFire = time.Unix(0, ns)
	}
	return snap
}

func (s *Service) run() {
	defer close(s.done)
	defer func() {
		r := recover()
		s.mu.Lock()
		s.closed = true
		if r != nil {
			s.fatal = fmt.Errorf("scheduler loop panicked: %v", r)
		}
		s.mu.Unlock()
		if r != nil {
			s.log.Error("scheduler loop terminated", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			s.cancel()
		}
		eventbus.Publish(s.bus, eventbus.SchedulerStopped, s.Err())
		s.log.Debug("scheduler stopped")
	}()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		wait, idle := s.step()
		switch {
		case idle:
			select {
			case <-s.wake:
			case <-s.stopCh:
				return
			}
		case wait > 0:
			if !s.sleep(wait) {
				return
			}
		}
	}
}

// sleep waits for d, a wake signal or Stop. It returns false on Stop.
func (s *Service) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.wake:
		s.log.Trace("scheduler woken early")
	case <-s.stopCh:
		return false
	}
	return true
}

// step performs one loop iteration under the lock. idle means there is no
// task at all; otherwise wait is how long to sleep before the next iteration
// (0 after a task ran).
func (s *Service) step() (wait time.Duration, idle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsettled != nil {
		t := *s.unsettled
		if err := s.settle(t); err != nil {
			s.log.Warn("store update retry failed", logx.Int64("task_id", int64(t.ID())), logx.Err(err), logx.Duration("retry", storeRetry))
			return storeRetry, false
		}
		s.unsettled = nil
	}

	if s.next == nil {
		t, ok, err := s.store.Next(context.Background())
		if err != nil {
			s.log.Warn("store next failed", logx.Err(err), logx.Duration("retry", storeRetry))
			return storeRetry, false
		}
		if !ok {
			return 0, true
		}
		s.next = &t
	}

	diff := time.Until(s.next.Due())
	if diff > 0 {
		return waitDuration(diff, s.precision), false
	}
	s.execLocked(*s.next)
	return 0, false
}

// waitDuration returns how long to sleep when the next task is diff away.
// Outside the precision window the sleep ends one window early so the
// remaining time is re-measured before the final exact wait.
func waitDuration(diff, precision time.Duration) time.Duration {
	if diff <= precision {
		return diff
	}
	return diff - precision
}

func (s *Service) execLocked(t task.Task) {
	now := time.Now()
	s.fired.Add(1)
	s.lastFire.Store(now.UnixNano())
	eventbus.Publish(s.bus, eventbus.TaskFired, engine.TaskEvent{TaskID: int64(t.ID()), Name: t.Name(), Due: t.Due(), Started: now})
	s.log.Trace("task fired", logx.Int64("task_id", int64(t.ID())), logx.Duration("late", now.Sub(t.Due())))

	if err := s.runner.Run(s.ctx, t); err != nil {
		s.failed.Add(1)
		s.log.Warn("task run failed",
			logx.Int64("task_id", int64(t.ID())),
			logx.String("task", t.Name()),
			logx.Err(err),
		)
	}

	// The cache is cleared even if the store update fails; the store stays
	// the source of truth for what fires next.
	s.next = nil
	if err := s.settle(t); err != nil {
		s.log.Error("store update failed", logx.Int64("task_id", int64(t.ID())), logx.Err(err), logx.Duration("retry", storeRetry))
		s.unsettled = &t
	}
}

// settle retires or reschedules t after it ran. A task that disappeared or
// stopped repeating in the meantime counts as settled.
func (s *Service) settle(t task.Task) error {
	ctx := context.Background()
	if !t.Repeating() {
		return s.store.MarkCompleted(ctx, t)
	}
	_, err := s.store.MarkRepeated(ctx, t)
	switch {
	case err == nil, errors.Is(err, store.ErrNotFound):
		return nil
	case errors.Is(err, store.ErrNotRepeating):
		return s.store.MarkCompleted(ctx, t)
	default:
		return err
	}
}

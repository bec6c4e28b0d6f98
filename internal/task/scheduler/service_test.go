package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskmin/internal/task"
	"taskmin/internal/task/engine"
	"taskmin/internal/task/store"
	logx "taskmin/pkg/logx"
)

// recorder collects firing times per label.
type recorder struct {
	mu    sync.Mutex
	fires []fire
	ch    chan fire
}

type fire struct {
	label string
	at    time.Time
}

func newRecorder() *recorder { return &recorder{ch: make(chan fire, 64)} }

func (r *recorder) action(label string) task.Action {
	return func(context.Context) error {
		f := fire{label: label, at: time.Now()}
		r.mu.Lock()
		r.fires = append(r.fires, f)
		r.mu.Unlock()
		r.ch <- f
		return nil
	}
}

func (r *recorder) wait(t *testing.T, n int, timeout time.Duration) []fire {
	t.Helper()
	deadline := time.After(timeout)
	out := make([]fire, 0, n)
	for len(out) < n {
		select {
		case f := <-r.ch:
			out = append(out, f)
		case <-deadline:
			t.Fatalf("got %d firings, want %d", len(out), n)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fires)
}

func newTestService(t *testing.T, r engine.Runner) *Service {
	t.Helper()
	s := New(Config{}, store.NewMemory(), r, logx.Nop(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func mustAdd(t *testing.T, s *Service, action task.Action, opts ...task.Option) task.Task {
	t.Helper()
	spec, err := task.NewSpec(action, opts...)
	if err != nil {
		t.Fatalf("NewSpec error: %v", err)
	}
	tk, err := s.AddTask(context.Background(), spec)
	if err != nil {
		t.Fatalf("AddTask error: %v", err)
	}
	return tk
}

func TestWaitDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		diff      time.Duration
		precision time.Duration
		want      time.Duration
	}{
		{name: "inside window", diff: 3 * time.Second, precision: 10 * time.Second, want: 3 * time.Second},
		{name: "at window", diff: 10 * time.Second, precision: 10 * time.Second, want: 10 * time.Second},
		{name: "outside window", diff: 25 * time.Second, precision: 10 * time.Second, want: 15 * time.Second},
		{name: "sub-millisecond", diff: 300 * time.Microsecond, precision: 10 * time.Second, want: 300 * time.Microsecond},
		{name: "zero precision", diff: time.Second, precision: 0, want: time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := waitDuration(tt.diff, tt.precision); got != tt.want {
				t.Fatalf("waitDuration(%v, %v) = %v, want %v", tt.diff, tt.precision, got, tt.want)
			}
		})
	}
}

func TestFiresInDueOrder(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := newTestService(t, nil)
	now := time.Now()

	mustAdd(t, s, rec.action("c"), task.ExecuteAt(now.Add(90*time.Millisecond)))
	mustAdd(t, s, rec.action("a"), task.ExecuteAt(now.Add(30*time.Millisecond)))
	mustAdd(t, s, rec.action("b"), task.ExecuteAt(now.Add(60*time.Millisecond)))

	got := rec.wait(t, 3, 2*time.Second)
	for i, want := range []string{"a", "b", "c"} {
		if got[i].label != want {
			t.Fatalf("firing %d = %s, want %s", i, got[i].label, want)
		}
	}
}

func TestEarlierTaskWakesLoop(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := newTestService(t, nil)
	start := time.Now()

	a := mustAdd(t, s, rec.action("A"), task.ExecuteAt(start.Add(50*time.Millisecond)))
	// Give the loop time to cache A and go to sleep.
	time.Sleep(5 * time.Millisecond)
	b := mustAdd(t, s, rec.action("B"), task.ExecuteAt(start.Add(10*time.Millisecond)))

	got := rec.wait(t, 2, 2*time.Second)
	if got[0].label != "B" || got[1].label != "A" {
		t.Fatalf("order = %s,%s, want B,A", got[0].label, got[1].label)
	}
	if got[0].at.Before(b.Due()) || got[1].at.Before(a.Due()) {
		t.Fatal("a task fired before its due time")
	}
	if late := got[0].at.Sub(b.Due()); late > 30*time.Millisecond {
		t.Fatalf("B fired %v late; the loop was not woken", late)
	}
}

func TestRepeatingTaskKeepsPeriod(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := newTestService(t, nil)
	start := time.Now()

	mustAdd(t, s, rec.action("r"), task.ExecuteAt(start), task.RepeatEvery(100*time.Millisecond))

	got := rec.wait(t, 3, 2*time.Second)
	const tolerance = 25 * time.Millisecond
	for i, f := range got {
		want := start.Add(time.Duration(i) * 100 * time.Millisecond)
		if f.at.Before(want) {
			t.Fatalf("firing %d at %v, before due %v", i, f.at, want)
		}
		if late := f.at.Sub(want); late > tolerance {
			t.Fatalf("firing %d is %v late (tolerance %v)", i, late, tolerance)
		}
	}
}

func TestEmptyStoreFiresPromptlyAfterAdd(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := newTestService(t, nil)

	// The loop has found nothing and is blocked.
	time.Sleep(20 * time.Millisecond)
	added := time.Now()
	mustAdd(t, s, rec.action("now"))

	got := rec.wait(t, 1, time.Second)
	if d := got[0].at.Sub(added); d > 50*time.Millisecond {
		t.Fatalf("fired %v after AddTask, want prompt", d)
	}
}

func TestIdenticalDueTimesFireOnce(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := newTestService(t, nil)
	due := time.Now().Add(30 * time.Millisecond)

	mustAdd(t, s, rec.action("x"), task.ExecuteAt(due))
	mustAdd(t, s, rec.action("y"), task.ExecuteAt(due))

	got := rec.wait(t, 2, time.Second)
	if got[0].label == got[1].label {
		t.Fatalf("%s fired twice", got[0].label)
	}
	time.Sleep(50 * time.Millisecond)
	if n := rec.count(); n != 2 {
		t.Fatalf("fired %d times, want 2", n)
	}
}

func TestSkipFirstStartsOnePeriodAfterCreation(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := newTestService(t, nil)

	before := time.Now()
	tk := mustAdd(t, s, rec.action("skip"),
		task.ExecuteAt(before.Add(-time.Hour)),
		task.RepeatEvery(60*time.Millisecond),
		task.SkipFirstExecution(),
	)
	if tk.Due().Before(before.Add(60 * time.Millisecond)) {
		t.Fatalf("due = %v, want at least creation + period", tk.Due())
	}
	got := rec.wait(t, 1, time.Second)
	if got[0].at.Before(tk.Due()) {
		t.Fatalf("fired at %v, before due %v", got[0].at, tk.Due())
	}
}

func TestAddTaskRejectsInvalidSpec(t *testing.T) {
	t.Parallel()
	s := newTestService(t, nil)
	_, err := s.AddTask(context.Background(), task.Spec{Action: nil})
	if !errors.Is(err, task.ErrInvalidSpec) {
		t.Fatalf("AddTask error = %v, want ErrInvalidSpec", err)
	}
	if snap := s.Snapshot(); snap.Pending != 0 {
		t.Fatalf("Pending = %d, want 0", snap.Pending)
	}
}

func TestFailedActionIsStillRetired(t *testing.T) {
	t.Parallel()
	calls := make(chan struct{}, 4)
	s := newTestService(t, engine.Recover(nil, logx.Nop()))
	mustAdd(t, s, func(context.Context) error {
		calls <- struct{}{}
		return errors.New("nope")
	})

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	time.Sleep(30 * time.Millisecond)
	snap := s.Snapshot()
	if snap.Failed != 1 || snap.Pending != 0 || len(calls) != 0 {
		t.Fatalf("unexpected state after failure: %+v (extra calls %d)", snap, len(calls))
	}
}

func TestPanicTerminatesLoop(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := newTestService(t, nil)
	mustAdd(t, s, func(context.Context) error { panic("boom") })

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not terminate after a panic")
	}
	if s.Err() == nil {
		t.Fatal("Err() = nil after panic")
	}
	spec, _ := task.NewSpec(rec.action("later"))
	if _, err := s.AddTask(context.Background(), spec); !errors.Is(err, ErrStopped) {
		t.Fatalf("AddTask after panic = %v, want ErrStopped", err)
	}
	if rec.count() != 0 {
		t.Fatal("a task fired after the loop terminated")
	}
}

func TestStop(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	s := New(Config{}, nil, nil, logx.Nop(), nil)
	mustAdd(t, s, rec.action("never"), task.ExecuteAt(time.Now().Add(time.Hour)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop error: %v", err)
	}
	if s.Err() != nil {
		t.Fatalf("Err() = %v after clean stop", s.Err())
	}
	spec, _ := task.NewSpec(rec.action("x"))
	if _, err := s.AddTask(context.Background(), spec); !errors.Is(err, ErrStopped) {
		t.Fatalf("AddTask after Stop = %v, want ErrStopped", err)
	}
	if s.Snapshot().Running {
		t.Fatal("Snapshot reports running after Stop")
	}
}

func TestSnapshotReportsCachedTask(t *testing.T) {
	t.Parallel()
	s := newTestService(t, nil)
	tk := mustAdd(t, s, func(context.Context) error { return nil }, task.Named("later"), task.ExecuteAt(time.Now().Add(time.Hour)))

	deadline := time.Now().Add(time.Second)
	for {
		snap := s.Snapshot()
		if snap.HasNext {
			if snap.NextID != tk.ID() || snap.NextName != "later" || snap.Pending != 1 {
				t.Fatalf("unexpected snapshot: %+v", snap)
			}
			if snap.Precision != DefaultPrecision {
				t.Fatalf("Precision = %v, want %v", snap.Precision, DefaultPrecision)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("loop never cached the task")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewBasic(t *testing.T) {
	t.Parallel()
	s := NewBasic()
	defer func() { _ = s.Stop(context.Background()) }()
	done := make(chan struct{})
	mustAdd(t, s, func(context.Context) error { close(done); return nil })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
}

func TestStopCancelsRunningAction(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	canceled := make(chan struct{})
	s := New(Config{}, nil, nil, logx.Nop(), nil)
	mustAdd(t, s, func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			close(canceled)
			return ctx.Err()
		case <-time.After(3 * time.Second):
			return nil
		}
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("action did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	begin := time.Now()
	err := s.Stop(ctx)
	if took := time.Since(begin); took > time.Second {
		t.Fatalf("Stop took %v", took)
	}
	select {
	case <-canceled:
	default:
		t.Fatal("action context was not canceled by Stop")
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop error: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after the action returned")
	}
}

// flakyStore fails the first n MarkRepeated calls with a transient error.
type flakyStore struct {
	store.Store
	mu    sync.Mutex
	fails int
}

func (f *flakyStore) MarkRepeated(ctx context.Context, t task.Task) (task.Task, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return task.Task{}, errors.New("database is locked")
	}
	f.mu.Unlock()
	return f.Store.MarkRepeated(ctx, t)
}

func TestTransientRescheduleErrorKeepsTask(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	st := &flakyStore{Store: mem, fails: 2}
	rec := newRecorder()
	s := New(Config{}, st, nil, logx.Nop(), nil)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	mustAdd(t, s, rec.action("tick"), task.RepeatEvery(time.Hour))
	rec.wait(t, 1, time.Second)

	// One immediate retry fails, the next one after storeRetry succeeds.
	deadline := time.Now().Add(3 * storeRetry)
	for {
		list, err := mem.List(context.Background())
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("stored tasks = %d, want 1", len(list))
		}
		if time.Until(list[0].Due()) > 50*time.Minute {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task was never rescheduled")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if n := rec.count(); n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
}

func TestRepeatStopsWhenTaskNoLongerRepeats(t *testing.T) {
	t.Parallel()
	mem := store.NewMemory()
	s := New(Config{}, &notRepeatingStore{Store: mem}, nil, logx.Nop(), nil)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	rec := newRecorder()
	mustAdd(t, s, rec.action("r"), task.RepeatEvery(time.Hour))
	rec.wait(t, 1, time.Second)

	deadline := time.Now().Add(time.Second)
	for {
		if n, _ := mem.Len(context.Background()); n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("task was not retired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type notRepeatingStore struct{ store.Store }

func (notRepeatingStore) MarkRepeated(context.Context, task.Task) (task.Task, error) {
	return task.Task{}, store.ErrNotRepeating
}

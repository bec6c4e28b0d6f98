package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskmin/internal/task"
	logx "taskmin/pkg/logx"
)

func openTestSQLite(t *testing.T, path string, resolve Resolver) *SQLite {
	t.Helper()
	st, err := OpenSQLite(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop(), resolve)
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteOrderingAndCompletion(t *testing.T) {
	ctx := context.Background()
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "tasks.db"), nil)
	base := time.Now().Add(time.Hour)

	b := mustCreate(t, st, task.Spec{Name: "b", Action: noop, At: base.Add(time.Second)})
	a := mustCreate(t, st, task.Spec{Name: "a", Action: noop, At: base})
	if a.ID() == b.ID() {
		t.Fatalf("ids must be unique, got %d twice", a.ID())
	}

	got, ok, err := st.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next = ok=%v err=%v", ok, err)
	}
	if !got.Equal(a) || got.Name() != "a" || got.Action() == nil {
		t.Fatalf("Next = %d/%q, want %d/a with action", got.ID(), got.Name(), a.ID())
	}
	if !got.Due().Equal(a.Due()) {
		t.Fatalf("Due round trip = %v, want %v", got.Due(), a.Due())
	}

	for i := 0; i < 2; i++ {
		if err := st.MarkCompleted(ctx, a); err != nil {
			t.Fatalf("MarkCompleted #%d error: %v", i+1, err)
		}
	}
	if n, _ := st.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestSQLiteMarkRepeated(t *testing.T) {
	ctx := context.Background()
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "tasks.db"), nil)
	base := time.Now().Add(time.Hour)

	rep := mustCreate(t, st, task.Spec{Name: "rep", Action: noop, At: base, Every: time.Minute})
	other := mustCreate(t, st, task.Spec{Name: "other", Action: noop, At: base.Add(30 * time.Second)})

	next, err := st.MarkRepeated(ctx, rep)
	if err != nil {
		t.Fatalf("MarkRepeated error: %v", err)
	}
	if want := base.Add(time.Minute); next.Due().UnixNano() != want.UnixNano() {
		t.Fatalf("successor due = %v, want %v", next.Due(), want)
	}
	got, _, _ := st.Next(ctx)
	if !got.Equal(other) {
		t.Fatalf("Next = %d, want %d after reposition", got.ID(), other.ID())
	}

	_ = st.MarkCompleted(ctx, rep)
	if _, err := st.MarkRepeated(ctx, rep); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkRepeated(removed) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteIDsNeverReused(t *testing.T) {
	ctx := context.Background()
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "tasks.db"), nil)

	first := mustCreate(t, st, task.Spec{Action: noop})
	if err := st.MarkCompleted(ctx, first); err != nil {
		t.Fatalf("MarkCompleted error: %v", err)
	}
	second := mustCreate(t, st, task.Spec{Action: noop})
	if second.ID() <= first.ID() {
		t.Fatalf("id reused or decreased: %d after %d", second.ID(), first.ID())
	}
}

func TestSQLiteReopenResolvesActions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")
	due := time.Now().Add(time.Hour)

	st, err := OpenSQLite(Config{Path: path}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	known := mustCreate(t, st, task.Spec{Name: "known", Action: noop, At: due, Every: time.Hour})
	mustCreate(t, st, task.Spec{Name: "orphan", Action: noop, At: due.Add(-time.Minute)})
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	fired := false
	resolve := func(name string) task.Action {
		if name != "known" {
			return nil
		}
		return func(context.Context) error { fired = true; return nil }
	}
	re := openTestSQLite(t, path, resolve)

	got, ok, err := re.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next after reopen = ok=%v err=%v", ok, err)
	}
	if !got.Equal(known) || !got.Repeating() {
		t.Fatalf("Next = %d (repeating=%v), want %d", got.ID(), got.Repeating(), known.ID())
	}
	if err := got.Run(ctx); err != nil || !fired {
		t.Fatalf("resolved action not bound (err=%v fired=%v)", err, fired)
	}
	// The unresolvable row was dropped on the way.
	if n, _ := re.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestOpenDrivers(t *testing.T) {
	st, err := Open(Config{}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("Open(default) error: %v", err)
	}
	if _, ok := st.(*Memory); !ok {
		t.Fatalf("Open(default) = %T, want *Memory", st)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop(), nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop(), nil); err == nil {
		t.Fatal("expected error for sqlite without path")
	}
}

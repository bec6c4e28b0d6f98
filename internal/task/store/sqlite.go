package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"taskmin/internal/task"
	logx "taskmin/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLite persists task rows (id, name, due time, period) in a SQLite file.
//
// Actions cannot be serialized, so they are kept in memory keyed by id. Rows
// left over from a previous process are re-bound by name through the Resolver;
// rows nothing can resolve are dropped when they reach the head of the queue.
type SQLite struct {
	db      *sql.DB
	log     logx.Logger
	resolve Resolver

	// mu serializes store operations so a row and its action are always
	// published together.
	mu      sync.Mutex
	actions map[task.ID]task.Action
	closed  bool

	now func() time.Time
}

func OpenSQLite(cfg Config, log logx.Logger, resolve Resolver) (*SQLite, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &SQLite{
		db:      db,
		log:     log,
		resolve: resolve,
		actions: map[task.ID]task.Action{},
		now:     time.Now,
	}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLite) Next(ctx context.Context) (task.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return task.Task{}, false, ErrClosed
	}

	for {
		var (
			id       int64
			name     string
			dueNS    int64
			periodNS int64
		)
		err := s.db.QueryRowContext(ctx,
			`SELECT id, name, due_ns, period_ns FROM tasks ORDER BY due_ns, id LIMIT 1`,
		).Scan(&id, &name, &dueNS, &periodNS)
		if errors.Is(err, sql.ErrNoRows) {
			return task.Task{}, false, nil
		}
		if err != nil {
			return task.Task{}, false, err
		}

		tid := task.ID(id)
		action := s.actionLocked(tid, name)
		if action == nil {
			s.log.Warn("dropping stored task without action", logx.Int64("task_id", id), logx.String("name", name))
			if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
				return task.Task{}, false, err
			}
			continue
		}
		return task.Restore(tid, name, time.Unix(0, dueNS), time.Duration(periodNS), action), true, nil
	}
}

// actionLocked returns the in-memory action for id, re-binding it by name when
// the row was written by another process. Call with s.mu held.
func (s *SQLite) actionLocked(id task.ID, name string) task.Action {
	if a := s.actions[id]; a != nil {
		return a
	}
	if s.resolve == nil || strings.TrimSpace(name) == "" {
		return nil
	}
	a := s.resolve(name)
	if a != nil {
		s.actions[id] = a
		s.log.Debug("stored task restored", logx.Int64("task_id", int64(id)), logx.String("name", name))
	}
	return a
}

func (s *SQLite) Create(ctx context.Context, spec task.Spec) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return task.Task{}, ErrClosed
	}

	now := s.now()
	// Build once without an id to validate and resolve the first due time;
	// AUTOINCREMENT assigns the id on insert and never reuses it.
	draft, err := task.Build(0, spec, now)
	if err != nil {
		return task.Task{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(name, due_ns, period_ns, created_at) VALUES(?,?,?,?)`,
		draft.Name(), draft.Due().UnixNano(), int64(draft.Period()), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return task.Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return task.Task{}, err
	}
	t := task.Restore(task.ID(id), draft.Name(), draft.Due(), draft.Period(), draft.Action())
	s.actions[t.ID()] = t.Action()
	return t, nil
}

func (s *SQLite) MarkCompleted(ctx context.Context, t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, int64(t.ID())); err != nil {
		return err
	}
	delete(s.actions, t.ID())
	return nil
}

func (s *SQLite) MarkRepeated(ctx context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return task.Task{}, ErrClosed
	}

	var (
		name     string
		dueNS    int64
		periodNS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, due_ns, period_ns FROM tasks WHERE id = ?`, int64(t.ID()),
	).Scan(&name, &dueNS, &periodNS)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, ErrNotFound
	}
	if err != nil {
		return task.Task{}, err
	}

	cur := task.Restore(t.ID(), name, time.Unix(0, dueNS), time.Duration(periodNS), s.actions[t.ID()])
	next, ok := cur.Successor()
	if !ok {
		return task.Task{}, ErrNotRepeating
	}
	// The (due_ns, id) index repositions the row.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET due_ns = ? WHERE id = ?`, next.Due().UnixNano(), int64(next.ID()),
	); err != nil {
		return task.Task{}, err
	}
	return next, nil
}

func (s *SQLite) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, err
}

// List returns stored tasks in due order. Tasks whose action is not bound yet
// are returned with a nil action.
func (s *SQLite) List(ctx context.Context) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, due_ns, period_ns FROM tasks ORDER BY due_ns, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		var (
			id       int64
			name     string
			dueNS    int64
			periodNS int64
		)
		if err := rows.Scan(&id, &name, &dueNS, &periodNS); err != nil {
			return nil, err
		}
		tid := task.ID(id)
		out = append(out, task.Restore(tid, name, time.Unix(0, dueNS), time.Duration(periodNS), s.actions[tid]))
	}
	return out, rows.Err()
}

var (
	_ Store   = (*SQLite)(nil)
	_ Counter = (*SQLite)(nil)
	_ Lister  = (*SQLite)(nil)
)

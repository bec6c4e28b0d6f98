package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"

	"taskmin/internal/task"
)

const btreeDegree = 16

// Memory is the reference in-process store: a B-tree ordered by task.Less plus
// an id index so tasks can be found by identity after their due time changed.
type Memory struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[task.Task]
	byID   map[task.ID]task.Task
	lastID task.ID

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tree: btree.NewG[task.Task](btreeDegree, task.Less),
		byID: map[task.ID]task.Task{},
		now:  time.Now,
	}
}

func (m *Memory) Next(ctx context.Context) (task.Task, bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tree.Min()
	return t, ok, nil
}

func (m *Memory) Create(ctx context.Context, spec task.Spec) (task.Task, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	// Ids are only consumed by tasks that were actually inserted.
	id := m.lastID + 1
	t, err := task.Build(id, spec, m.now())
	if err != nil {
		return task.Task{}, err
	}
	m.lastID = id
	m.tree.ReplaceOrInsert(t)
	m.byID[id] = t
	return t, nil
}

func (m *Memory) MarkCompleted(ctx context.Context, t task.Task) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[t.ID()]
	if !ok {
		return nil
	}
	m.tree.Delete(cur)
	delete(m.byID, cur.ID())
	return nil
}

func (m *Memory) MarkRepeated(ctx context.Context, t task.Task) (task.Task, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[t.ID()]
	if !ok {
		return task.Task{}, ErrNotFound
	}
	next, ok := cur.Successor()
	if !ok {
		return task.Task{}, ErrNotRepeating
	}
	// The ordering key changed: remove under the old key, insert under the new one.
	m.tree.Delete(cur)
	m.tree.ReplaceOrInsert(next)
	m.byID[next.ID()] = next
	return next, nil
}

func (m *Memory) Len(ctx context.Context) (int, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len(), nil
}

func (m *Memory) List(ctx context.Context) ([]task.Task, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]task.Task, 0, m.tree.Len())
	m.tree.Ascend(func(t task.Task) bool {
		out = append(out, t)
		return true
	})
	return out, nil
}

var (
	_ Store   = (*Memory)(nil)
	_ Counter = (*Memory)(nil)
	_ Lister  = (*Memory)(nil)
)

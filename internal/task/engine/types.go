package engine

import (
	"time"

	"taskmin/internal/task"
)

// Config controls the worker pool runner.
//
// Zero values get defaults in NewPool: 2 workers, queue of 256, history of 200.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout bounds each action run. 0 disables the timeout.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	// 0 disables stale-queue dropping.
	MaxQueueDelay time.Duration

	// RatePerSec limits how many actions start per second across all workers.
	// 0 disables rate limiting.
	RatePerSec int

	HistorySize int
}

type HistoryItem struct {
	RunID      string
	TaskID     task.ID
	Name       string
	Due        time.Time
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is emitted on the event bus for task run lifecycle events.
type TaskEvent struct {
	RunID      string        `json:"run_id"`
	TaskID     int64         `json:"task_id"`
	Name       string        `json:"name"`
	Due        time.Time     `json:"due"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view of the pool for diagnostics.
type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	RatePerSec     int

	History []HistoryItem
}

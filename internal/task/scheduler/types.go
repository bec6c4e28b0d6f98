package scheduler

import (
	"errors"
	"time"

	"taskmin/internal/task"
)

const (
	// DefaultPrecision is the window within which the loop stops shortening
	// its sleeps and waits out the exact remainder.
	DefaultPrecision = 10 * time.Second

	storeRetry = time.Second
)

var ErrStopped = errors.New("scheduler stopped")

// Config controls the coordinator.
type Config struct {
	// PrecisionCheck is the correction window. Sleeps longer than the window
	// end PrecisionCheck early so the due time is re-checked before the final
	// wait. 0 means DefaultPrecision.
	PrecisionCheck time.Duration
}

// Snapshot is a point-in-time view of the coordinator for diagnostics.
type Snapshot struct {
	Running   bool          `json:"running"`
	Precision time.Duration `json:"precision"`

	HasNext  bool      `json:"has_next"`
	NextID   task.ID   `json:"next_id,omitempty"`
	NextName string    `json:"next_name,omitempty"`
	NextDue  time.Time `json:"next_due"`

	// Pending is -1 when the store cannot count its tasks.
	Pending int `json:"pending"`

	Fired    uint64    `json:"fired"`
	Failed   uint64    `json:"failed"`
	LastFire time.Time `json:"last_fire"`

	Err string `json:"err,omitempty"`
}

package config

// Config is the daemon configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Store     StoreConfig     `json:"store"`
	Runner    RunnerConfig    `json:"runner"`
	Tasks     []TaskConfig    `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// SchedulerConfig controls the coordinator.
//
// Defaults:
//   - precision_check: "10s"
type SchedulerConfig struct {
	PrecisionCheck string `json:"precision_check,omitempty"`
}

// StoreConfig selects the task store.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./taskmind.db", "busy_timeout": "5s" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

const (
	RunnerDirect  = "direct"
	RunnerRecover = "recover"
	RunnerPool    = "pool"
)

// RunnerConfig controls how due tasks are executed.
//
// Mode:
//   - "direct": inline; a panicking action stops the scheduler
//   - "recover": inline with panic isolation (default)
//   - "pool": queued onto a worker pool
//
// Defaults (pool mode, when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - rate_per_sec: 0 (unlimited)
//   - history_size: 200
type RunnerConfig struct {
	Mode           string `json:"mode,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

const (
	ActionLog  = "log"
	ActionExec = "exec"
)

// TaskConfig declares a task registered at startup (and on reload, for new names).
//
// At is an RFC3339 timestamp or a duration offset from now ("30s"); empty
// means now. Every accepts durations, HH:MM, "@every 5m" and fixed-gap cron
// expressions; empty means one-shot.
type TaskConfig struct {
	Name      string   `json:"name"`
	At        string   `json:"at,omitempty"`
	Every     string   `json:"every,omitempty"`
	SkipFirst bool     `json:"skip_first,omitempty"`
	Action    string   `json:"action"`
	Message   string   `json:"message,omitempty"`
	Command   []string `json:"command,omitempty"`
	Timeout   string   `json:"timeout,omitempty"`
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks structural rules that do not need other packages: known
// drivers and modes, parseable durations, unique task names and complete
// actions. Schedules are checked by the caller's validator hook.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := ParseDurationField("scheduler.precision_check", c.Scheduler.PrecisionCheck); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "memory", "mem":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Store.Path) == "" {
			errs = append(errs, errors.New("store.path: required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if _, err := ParseDurationField("store.busy_timeout", c.Store.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	switch c.RunnerMode() {
	case RunnerDirect, RunnerRecover, RunnerPool:
	default:
		errs = append(errs, fmt.Errorf("runner.mode: unknown mode %q", c.Runner.Mode))
	}
	if c.Runner.Workers < 0 || c.Runner.QueueSize < 0 || c.Runner.RatePerSec < 0 || c.Runner.HistorySize < 0 {
		errs = append(errs, errors.New("runner: counts must be >= 0"))
	}
	if _, err := ParseDurationField("runner.default_timeout", c.Runner.DefaultTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("runner.max_queue_delay", c.Runner.MaxQueueDelay); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if seen[name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = true

		switch strings.ToLower(strings.TrimSpace(t.Action)) {
		case ActionLog:
		case ActionExec:
			if len(t.Command) == 0 || strings.TrimSpace(t.Command[0]) == "" {
				errs = append(errs, fmt.Errorf("%s.command: required for exec", path))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.action: unknown action %q", path, t.Action))
		}
		if t.SkipFirst && strings.TrimSpace(t.Every) == "" {
			errs = append(errs, fmt.Errorf("%s.skip_first: requires every", path))
		}
		if _, err := ParseDurationField(path+".timeout", t.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunnerMode returns the normalized runner mode; empty means recover.
func (c *Config) RunnerMode() string {
	m := strings.ToLower(strings.TrimSpace(c.Runner.Mode))
	if m == "" {
		return RunnerRecover
	}
	return m
}

// ParseAt resolves a task start: empty means now, a duration is an offset
// from now, anything else must be RFC3339.
func ParseAt(path, raw string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return now, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: want RFC3339 time or duration offset, got %q", path, raw)
	}
	return t, nil
}

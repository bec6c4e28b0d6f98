package config

import (
	"reflect"
	"strings"

	logx "taskmin/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) structured
// attrs for logging, and (3) the names of tasks present in newCfg but not in
// oldCfg.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Scheduler.PrecisionCheck) != strings.TrimSpace(newCfg.Scheduler.PrecisionCheck) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.precision_check", strings.TrimSpace(newCfg.Scheduler.PrecisionCheck)))
	}

	if !reflect.DeepEqual(oldCfg.Store, newCfg.Store) {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", newCfg.Store.Driver),
			logx.String("store.path", newCfg.Store.Path),
		)
	}

	if !reflect.DeepEqual(oldCfg.Runner, newCfg.Runner) {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.String("runner.mode", newCfg.RunnerMode()),
			logx.Int("runner.workers", newCfg.Runner.Workers),
			logx.Int("runner.queue_size", newCfg.Runner.QueueSize),
		)
	}

	known := make(map[string]TaskConfig, len(oldCfg.Tasks))
	for _, t := range oldCfg.Tasks {
		known[strings.TrimSpace(t.Name)] = t
	}
	var added []string
	edited := 0
	for _, t := range newCfg.Tasks {
		name := strings.TrimSpace(t.Name)
		prev, ok := known[name]
		if !ok {
			added = append(added, name)
			continue
		}
		if !reflect.DeepEqual(prev, t) {
			edited++
		}
	}
	if len(added) > 0 || edited > 0 || len(oldCfg.Tasks) != len(newCfg.Tasks) {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.count", len(newCfg.Tasks)),
			logx.Int("tasks.added", len(added)),
			logx.Int("tasks.edited", edited),
		)
	}

	return changed, attrs, added
}

// RestartRequired reports sections whose changes only take effect after a
// restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "scheduler", "store", "runner":
			out = append(out, s)
		}
	}
	return out
}

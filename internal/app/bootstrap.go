package app

import (
	"fmt"
	"strings"
	"time"

	"taskmin/internal/config"
	"taskmin/internal/task/engine"
	"taskmin/internal/task/scheduler"
	"taskmin/internal/task/store"
	logx "taskmin/pkg/logx"
)

type Config = config.Config

func mapLogConfig(cfg *Config) logx.Config {
	f := cfg.Logging.File
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    f.Enabled,
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		},
	}
}

func mapStoreConfig(cfg *Config) (store.Config, error) {
	busy, err := config.ParseDurationOrDefault("store.busy_timeout", cfg.Store.BusyTimeout, 5*time.Second)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Store.Driver)),
		Path:        strings.TrimSpace(cfg.Store.Path),
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *Config) (scheduler.Config, error) {
	p, err := config.ParseDurationOrDefault("scheduler.precision_check", cfg.Scheduler.PrecisionCheck, scheduler.DefaultPrecision)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{PrecisionCheck: p}, nil
}

func mapPoolConfig(cfg *Config) (engine.Config, error) {
	rc := cfg.Runner
	defTimeout, err := config.ParseDurationField("runner.default_timeout", rc.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("runner.max_queue_delay", rc.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	if rc.Workers < 0 || rc.QueueSize < 0 || rc.RatePerSec < 0 || rc.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("runner: counts must be >= 0")
	}
	return engine.Config{
		Workers:        rc.Workers,
		QueueSize:      rc.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		RatePerSec:     rc.RatePerSec,
		HistorySize:    rc.HistorySize,
	}, nil
}

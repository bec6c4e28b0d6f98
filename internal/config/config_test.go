package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ./taskmind.log
scheduler:
  precision_check: 5s
store:
  driver: sqlite
  path: ./taskmind.db
  busy_timeout: 2s
runner:
  mode: pool
  workers: 4
tasks:
  - name: heartbeat
    every: 1m
    action: log
    message: alive
  - name: backup
    at: 30s
    action: exec
    command: ["echo", "hi"]
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("taskmind.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Store.Driver != "sqlite" || cfg.Runner.Workers != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.RunnerMode() != RunnerPool {
		t.Fatalf("RunnerMode = %s, want pool", cfg.RunnerMode())
	}
	if len(cfg.Tasks) != 2 || cfg.Tasks[1].Command[1] != "hi" {
		t.Fatalf("unexpected tasks: %+v", cfg.Tasks)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"logging":{"level":"info"},"telegram":{}}`)); err == nil {
		t.Fatal("expected error for unknown field")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestDecodeYAMLNamesBadEntry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "bare number timeout", body: "tasks:\n  - name: a\n    action: log\n  - name: b\n    action: log\n    timeout: 30\n", wantErr: "tasks[1].timeout"},
		{name: "bare number precision", body: "scheduler:\n  precision_check: 5\n", wantErr: "scheduler.precision_check"},
		{name: "non-string key", body: "tasks:\n  - 1: x\n", wantErr: "tasks[0]: key 1"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("taskmind.yaml", []byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Decode = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: " 1500ms ", want: 1500 * time.Millisecond},
		{raw: "0s", want: 0},
		{raw: "soon", wantErr: true},
		{raw: "-1s", wantErr: true},
		{raw: "500us", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("tasks[0].timeout", tt.raw)
		if tt.wantErr {
			var de *DurationError
			if !errors.As(err, &de) || de.Path != "tasks[0].timeout" {
				t.Fatalf("ParseDurationField(%q) = %v, want DurationError for tasks[0].timeout", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, %v; want %v", tt.raw, got, err, tt.want)
		}
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("ParseDurationOrDefault = %v, %v; want 1m", d, err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "empty ok", cfg: Config{}},
		{name: "bad driver", cfg: Config{Store: StoreConfig{Driver: "redis"}}, wantErr: "store.driver"},
		{name: "sqlite needs path", cfg: Config{Store: StoreConfig{Driver: "sqlite"}}, wantErr: "store.path"},
		{name: "bad mode", cfg: Config{Runner: RunnerConfig{Mode: "fork"}}, wantErr: "runner.mode"},
		{name: "bad duration", cfg: Config{Scheduler: SchedulerConfig{PrecisionCheck: "soon"}}, wantErr: "precision_check"},
		{name: "duplicate task", cfg: Config{Tasks: []TaskConfig{{Name: "a", Action: "log"}, {Name: "a", Action: "log"}}}, wantErr: "duplicate"},
		{name: "exec needs command", cfg: Config{Tasks: []TaskConfig{{Name: "a", Action: "exec"}}}, wantErr: "command"},
		{name: "skip needs every", cfg: Config{Tasks: []TaskConfig{{Name: "a", Action: "log", SkipFirst: true}}}, wantErr: "skip_first"},
		{name: "unknown action", cfg: Config{Tasks: []TaskConfig{{Name: "a", Action: "mail"}}}, wantErr: "action"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseAt(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got, _ := ParseAt("at", "", now); !got.Equal(now) {
		t.Fatalf("empty = %v, want now", got)
	}
	if got, _ := ParseAt("at", "90s", now); !got.Equal(now.Add(90 * time.Second)) {
		t.Fatalf("offset = %v", got)
	}
	want := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if got, err := ParseAt("at", "2026-05-01T12:00:00Z", now); err != nil || !got.Equal(want) {
		t.Fatalf("rfc3339 = %v, %v", got, err)
	}
	if _, err := ParseAt("at", "tomorrow", now); err == nil {
		t.Fatal("expected error for invalid at")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Tasks:   []TaskConfig{{Name: "a", Action: "log"}},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Store:   StoreConfig{Driver: "sqlite", Path: "x.db"},
		Tasks:   []TaskConfig{{Name: "a", Action: "log"}, {Name: "b", Action: "log"}},
	}
	sections, attrs, added := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"logging", "store", "tasks"}
	if strings.Join(sections, ",") != strings.Join(want, ",") {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}
	if len(added) != 1 || added[0] != "b" {
		t.Fatalf("added = %v, want [b]", added)
	}
	if rr := RestartRequired(sections); len(rr) != 1 || rr[0] != "store" {
		t.Fatalf("RestartRequired = %v, want [store]", rr)
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskmind.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected loaded config: %+v", cfg)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	m.SetValidator(func(_ context.Context, c *Config) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-sub:
		if got.Logging.Level != "debug" {
			t.Fatalf("published level = %q, want debug", got.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change not published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("reloaded config not committed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

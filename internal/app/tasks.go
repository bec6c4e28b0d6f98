package app

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"taskmin/internal/config"
	"taskmin/internal/task"
	"taskmin/internal/task/scheduler"
	logx "taskmin/pkg/logx"
)

// maxOutputLog bounds how much command output is logged per run.
const maxOutputLog = 2048

// makeAction builds the action declared by a config task.
func makeAction(tc config.TaskConfig, log logx.Logger) (task.Action, error) {
	timeout, err := config.ParseDurationField("tasks."+tc.Name+".timeout", tc.Timeout)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(tc.Name)
	log = log.With(logx.String("task", name))

	var act task.Action
	switch strings.ToLower(strings.TrimSpace(tc.Action)) {
	case config.ActionLog:
		msg := tc.Message
		if strings.TrimSpace(msg) == "" {
			msg = "task fired"
		}
		act = func(context.Context) error {
			log.Info(msg)
			return nil
		}
	case config.ActionExec:
		if len(tc.Command) == 0 {
			return nil, fmt.Errorf("tasks.%s: command required", name)
		}
		argv := append([]string(nil), tc.Command...)
		act = func(ctx context.Context) error {
			return runCommand(ctx, log, argv)
		}
	default:
		return nil, fmt.Errorf("tasks.%s: unknown action %q", name, tc.Action)
	}

	if timeout <= 0 {
		return act, nil
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return act(ctx)
	}, nil
}

func runCommand(ctx context.Context, log logx.Logger, argv []string) error {
	start := time.Now()
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()

	output := strings.TrimSpace(out.String())
	if len(output) > maxOutputLog {
		output = output[:maxOutputLog] + "..."
	}
	if err != nil {
		return fmt.Errorf("exec %s: %w (output: %s)", argv[0], err, output)
	}
	log.Debug("command finished", logx.String("cmd", argv[0]), logx.Duration("took", time.Since(start)), logx.String("output", output))
	return nil
}

// buildSpec turns a config task into a scheduler spec. A cron period without
// an explicit at starts at the first aligned firing.
func buildSpec(tc config.TaskConfig, action task.Action, now time.Time) (task.Spec, error) {
	name := strings.TrimSpace(tc.Name)
	path := "tasks." + name
	at, err := config.ParseAt(path+".at", tc.At, now)
	if err != nil {
		return task.Spec{}, err
	}

	opts := []task.Option{task.Named(name)}
	if every := strings.TrimSpace(tc.Every); every != "" {
		p, err := scheduler.ParsePeriod(every, now)
		if err != nil {
			return task.Spec{}, fmt.Errorf("%s.every: %w", path, err)
		}
		opts = append(opts, task.RepeatEvery(p.Every))
		if strings.TrimSpace(tc.At) == "" && !p.First.IsZero() {
			at = p.First
		}
		if tc.SkipFirst {
			opts = append(opts, task.SkipFirstExecution())
		}
	}
	opts = append(opts, task.ExecuteAt(at))

	spec, err := task.NewSpec(action, opts...)
	if err != nil {
		return task.Spec{}, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// validateTasks checks every task's schedule and action without registering anything.
func validateTasks(cfg *Config) error {
	now := time.Now()
	for _, tc := range cfg.Tasks {
		act, err := makeAction(tc, logx.Nop())
		if err != nil {
			return err
		}
		if _, err := buildSpec(tc, act, now); err != nil {
			return err
		}
	}
	return nil
}

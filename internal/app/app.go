package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"taskmin/internal/config"
	"taskmin/internal/eventbus"
	"taskmin/internal/runtime/supervisor"
	"taskmin/internal/task"
	"taskmin/internal/task/engine"
	"taskmin/internal/task/scheduler"
	"taskmin/internal/task/store"
	logx "taskmin/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	taskLog logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus

	store store.Store
	pool  *engine.Pool
	hist  *engine.History
	sched *scheduler.Service

	// actions maps task names to their actions. The store's resolver reads
	// it to re-bind persisted tasks.
	mu         sync.RWMutex
	actions    map[string]task.Action
	registered map[string]bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateTasks(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log.With(logx.String("comp", "app")),
		taskLog:    log.With(logx.String("comp", "task")),
		logs:       logSvc,
		bus:        eventbus.New(),
		actions:    map[string]task.Action{},
		registered: map[string]bool{},
	}
	for _, tc := range cfg.Tasks {
		act, err := makeAction(tc, a.taskLog)
		if err != nil {
			return nil, err
		}
		a.actions[strings.TrimSpace(tc.Name)] = act
	}

	sc, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "store")), a.resolve)
	if err != nil {
		return nil, err
	}
	a.store = st

	runner, err := a.buildRunner(cfg, log)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, st, runner, log.With(logx.String("comp", "scheduler")), a.bus)

	a.log.Info("app initialized",
		logx.String("store", sc.Driver),
		logx.String("runner", cfg.RunnerMode()),
		logx.Duration("precision", schedCfg.PrecisionCheck),
	)
	return a, nil
}

// buildRunner assembles the execution chain for the configured mode.
func (a *App) buildRunner(cfg *Config, log logx.Logger) (engine.Runner, error) {
	rlog := log.With(logx.String("comp", "runner"))
	switch cfg.RunnerMode() {
	case config.RunnerDirect:
		a.hist = engine.NewHistory(cfg.Runner.HistorySize)
		return engine.Instrument(engine.Direct{}, rlog, a.bus, a.hist), nil
	case config.RunnerRecover:
		a.hist = engine.NewHistory(cfg.Runner.HistorySize)
		return engine.Instrument(engine.Recover(engine.Direct{}, rlog), rlog, a.bus, a.hist), nil
	case config.RunnerPool:
		pc, err := mapPoolConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.pool = engine.NewPool(pc, nil, log.With(logx.String("comp", "taskpool")), a.bus)
		return a.pool, nil
	default:
		return nil, fmt.Errorf("runner.mode: unknown mode %q", cfg.Runner.Mode)
	}
}

func (a *App) resolve(name string) task.Action {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.actions[name]
}

// Scheduler exposes the coordinator, mainly for status output and tests.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// History returns recent task runs, newest last.
func (a *App) History() []engine.HistoryItem {
	if a.pool != nil {
		return a.pool.Snapshot().History
	}
	return a.hist.Items()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if _, err := mapPoolConfig(cfg); err != nil {
			return err
		}
		return validateTasks(cfg)
	})

	if a.pool != nil {
		a.pool.Start(a.sup.Context())
	}

	if err := a.registerTasks(ctx, a.cfgm.Get().Tasks); err != nil {
		return err
	}

	// A scheduler loop that dies takes the app down with it.
	a.sup.Go("scheduler.watch", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case <-a.sched.Done():
			if err := a.sched.Err(); err != nil {
				return err
			}
			return nil
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug level: repeating tasks make this noisy.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("tasks", len(a.registeredNames())))
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs, added := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(rr, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	var fresh []config.TaskConfig
	for _, tc := range newCfg.Tasks {
		for _, name := range added {
			if strings.TrimSpace(tc.Name) == name {
				fresh = append(fresh, tc)
			}
		}
	}
	if err := a.registerTasks(ctx, fresh); err != nil {
		a.log.Warn("registering new tasks failed", logx.Err(err))
	}

	a.log.Info("config reloaded", fields...)
}

// registerTasks adds config tasks whose names are not yet known to the
// store. Tasks restored by a durable store keep their persisted schedule.
func (a *App) registerTasks(ctx context.Context, tasks []config.TaskConfig) error {
	if len(tasks) == 0 {
		return nil
	}
	existing := map[string]bool{}
	if l, ok := a.store.(store.Lister); ok {
		list, err := l.List(ctx)
		if err != nil {
			return fmt.Errorf("list stored tasks: %w", err)
		}
		for _, t := range list {
			existing[t.Name()] = true
		}
	}

	now := time.Now()
	for _, tc := range tasks {
		name := strings.TrimSpace(tc.Name)
		a.mu.Lock()
		if a.registered[name] {
			a.mu.Unlock()
			continue
		}
		act := a.actions[name]
		if act == nil {
			var err error
			if act, err = makeAction(tc, a.taskLog); err != nil {
				a.mu.Unlock()
				return err
			}
			a.actions[name] = act
		}
		a.registered[name] = true
		a.mu.Unlock()

		if existing[name] {
			a.log.Info("task restored from store", logx.String("task", name))
			continue
		}
		spec, err := buildSpec(tc, act, now)
		if err != nil {
			return err
		}
		t, err := a.sched.AddTask(ctx, spec)
		if err != nil {
			return fmt.Errorf("add task %s: %w", name, err)
		}
		a.log.Info("task registered",
			logx.String("task", name),
			logx.Int64("id", int64(t.ID())),
			logx.Time("due", t.Due()),
			logx.Duration("every", t.Period()),
		)
	}
	return nil
}

func (a *App) registeredNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.registered))
	for n := range a.registered {
		out = append(out, n)
	}
	return out
}

func (a *App) closeStore() {
	if c, ok := a.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("store close failed", logx.Err(err))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the app context first so background loops start unwinding.
	if a.sup != nil {
		a.sup.Cancel()
	}

	a.step(ctx, "scheduler", 2*time.Second, a.sched.Stop)
	a.step(ctx, "taskpool", 2*time.Second, func(c context.Context) error {
		if a.pool != nil {
			a.pool.Stop(c)
		}
		return nil
	})
	a.step(ctx, "store", time.Second, func(context.Context) error {
		a.closeStore()
		return nil
	})
	if a.sup != nil {
		a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	}

	snap := a.sched.Snapshot()
	fields := []logx.Field{
		logx.Uint64("fired", snap.Fired),
		logx.Uint64("failed", snap.Failed),
		logx.Uint64("events_dropped", eventbus.Dropped(a.bus)),
	}
	if a.sup != nil {
		c := a.sup.Counters()
		fields = append(fields, logx.Uint64("goroutine_restarts", c.Restarts), logx.Uint64("goroutine_panics", c.Panics))
	}
	a.log.Info("stopped", fields...)
	return a.logs.Close()
}

// step runs one shutdown step bounded by max (and the caller's deadline), so
// one component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

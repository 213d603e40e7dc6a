package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"taskcycle/internal/catalog"
	"taskcycle/internal/config"
	rtsup "taskcycle/internal/runtime/supervisor"
	"taskcycle/internal/storage"
	"taskcycle/internal/task/engine"
	"taskcycle/internal/task/sweep"
	"taskcycle/internal/task/workflow"
	logx "taskcycle/pkg/logx"
)

// Schedule names registered with the scheduler.
const (
	JobSweep = "sweep"
	JobPrune = "events.prune"
)

const busyRetryDelay = 2 * time.Second

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	components
}

// New loads and validates the config at cfgPath and wires every component.
// Nothing runs until Start; one-shot commands may use the accessors
// directly and Close afterwards.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(config.Validator)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	c, err := bootstrap(cfg)
	if err != nil {
		return nil, err
	}
	c.log = c.log.With(logx.String("comp", "app"))
	cfgm.SetLogger(c.log)

	a := &App{cfgm: cfgm, components: c}
	if err := a.registerJobs(cfg); err != nil {
		c.close()
		return nil, err
	}
	return a, nil
}

func (a *App) Logger() logx.Logger             { return a.log }
func (a *App) Workflow() *workflow.Service     { return a.flows }
func (a *App) Defaults() catalog.Defaults      { return a.defaults }
func (a *App) EngineSnapshot() engine.Snapshot { return a.engine.Snapshot() }

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

func (a *App) registerJobs(cfg *config.Config) error {
	spec, timeout, err := sweepSchedule(cfg)
	if err != nil {
		return err
	}
	if err := a.sched.AddScheduleOpt(JobSweep, spec, timeout, engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}, a.runSweep); err != nil {
		return fmt.Errorf("scheduler.sweep_spec: %w", err)
	}
	if err := a.sched.AddSchedule(JobPrune, pruneSchedule(cfg), time.Minute, a.notif.Prune); err != nil {
		return fmt.Errorf("scheduler.prune_spec: %w", err)
	}
	return nil
}

// runSweep is the engine job. A sweep that lost a lock race is retried in
// place after busyRetryDelay; any other failure waits for the next trigger.
func (a *App) runSweep(ctx context.Context) error {
	res, err := a.sweeper.Run(ctx)
	if errors.Is(err, storage.ErrBusy) {
		return engine.RetryAfter(err, busyRetryDelay)
	}
	if err != nil {
		return engine.NoRetry(err)
	}
	if res.Changed() > 0 || res.Stale > 0 {
		a.log.Info("sweep finished",
			logx.Int("activated", res.Activated),
			logx.Int("expired", res.Expired),
			logx.Int("finalized", res.Finalized),
			logx.Int("stale", res.Stale),
			logx.Duration("took", res.Took),
		)
	}
	return nil
}

// SweepOnce runs one sweep outside the scheduler. The notifier runs for the
// duration so activation reminders are written before it returns.
func (a *App) SweepOnce(ctx context.Context) (sweep.Result, error) {
	started := a.notif.Enabled()
	if started {
		a.notif.Start(ctx)
	}
	res, err := a.sweeper.Run(ctx)
	if started {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	}
	return res, err
}

// Import decodes a catalog document and writes it to storage.
func (a *App) Import(ctx context.Context, r io.Reader) (catalog.Catalog, error) {
	c, err := catalog.Decode(r, a.defaults)
	if err != nil {
		return catalog.Catalog{}, err
	}
	return c, c.Apply(ctx, a.store)
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// Consumers first so no event published by an early sweep is lost.
	a.notif.Start(runCtx)
	a.engine.Start(runCtx)
	a.sched.Start(runCtx)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// applyConfig hot-applies everything except storage, which needs a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	var problems []error
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLoggingConfig(next))
		case "task_engine", "scheduler":
			engCfg, err := mapTaskEngineConfig(next)
			if err != nil {
				problems = append(problems, err)
				break
			}
			a.engine.Apply(ctx, engCfg)
			a.sched.Apply(ctx, mapSchedulerConfig(next))
			if err := a.registerJobs(next); err != nil {
				problems = append(problems, err)
			}
		case "notifier":
			ncfg, err := mapNotifierConfig(next)
			if err != nil {
				problems = append(problems, err)
				break
			}
			a.notif.Apply(ctx, ncfg)
		case "defaults":
			d, err := mapDefaults(next)
			if err != nil {
				problems = append(problems, err)
				break
			}
			a.defaults = d
		case "storage", "metrics":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	if err := errors.Join(problems...); err != nil {
		a.log.Warn("config partially applied", logx.Err(err))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Run one shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()

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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Triggers first, then the work they feed, then consumers of its events.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.close()
	return nil
}

// Close releases storage, metrics and log sinks without starting anything.
func (a *App) Close() error {
	a.close()
	return nil
}

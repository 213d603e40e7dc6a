package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskcycle/internal/task/scheduler"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := Duration(path, raw)
		add(err)
	}
	tz := func(path, raw string) {
		if s := strings.TrimSpace(raw); s != "" {
			if _, err := time.LoadLocation(s); err != nil {
				add(fmt.Errorf("%s: unknown timezone %q", path, raw))
			}
		}
	}
	sched := func(path, raw string) {
		if s := strings.TrimSpace(raw); s != "" {
			if err := scheduler.ValidateSchedule(s); err != nil {
				add(fmt.Errorf("%s: %w", path, err))
			}
		}
	}

	tz("scheduler.timezone", cfg.Scheduler.Timezone)
	sched("scheduler.sweep_spec", cfg.Scheduler.SweepSpec)
	sched("scheduler.prune_spec", cfg.Scheduler.PruneSpec)
	dur("scheduler.sweep_timeout", cfg.Scheduler.SweepTimeout)

	if te := cfg.TaskEngine; te != nil {
		dur("task_engine.default_timeout", te.DefaultTimeout)
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
			add(errors.New("task_engine: counts must be >= 0"))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path: required for sqlite"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 {
			add(errors.New("notifier: counts must be >= 0"))
		}
		for i, raw := range n.ReminderOffsets {
			dur(fmt.Sprintf("notifier.reminder_offsets[%d]", i), raw)
		}
		dur("notifier.event_retention", n.EventRetention)
	}

	dur("metrics.interval", cfg.Metrics.Interval)

	tz("defaults.timezone", cfg.Defaults.Timezone)
	if s := strings.TrimSpace(cfg.Defaults.NotifyAt); s != "" {
		if _, err := ParseTimeOfDay(s); err != nil {
			add(fmt.Errorf("defaults.notify_at: %w", err))
		}
	}
	if cfg.Defaults.PublishRetries < 0 {
		add(errors.New("defaults.publish_retries: must be >= 0"))
	}

	return errors.Join(errs...)
}

// Validator adapts Validate to Manager.SetValidator.
func Validator(_ context.Context, cfg *Config) error { return Validate(cfg) }

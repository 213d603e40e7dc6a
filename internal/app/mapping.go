package app

import (
	"fmt"
	"strings"
	"time"

	"taskcycle/internal/catalog"
	"taskcycle/internal/config"
	"taskcycle/internal/metrics"
	"taskcycle/internal/notifier"
	"taskcycle/internal/storage"
	"taskcycle/internal/task/engine"
	"taskcycle/internal/task/scheduler"
	logx "taskcycle/pkg/logx"
)

const (
	defaultSweepSpec    = "5 * * * *"
	defaultSweepTimeout = 10 * time.Minute
	defaultPruneSpec    = "@daily"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "", "none":
		return storage.Config{}, fmt.Errorf("storage.driver is required; this service keeps all state in storage")
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapTaskEngineConfig follows scheduler.enabled unless task_engine sets
// enabled explicitly.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: cfg.Scheduler.Enabled}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	if cfg.Scheduler.Enabled && !out.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	var err error
	if out.DefaultTimeout, err = config.Duration("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.Duration("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	out.Workers = te.Workers
	out.QueueSize = te.QueueSize
	out.HistorySize = te.HistorySize
	out.RetryMax = te.RetryMax
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

// sweepSchedule returns the effective sweep trigger and per-run timeout.
func sweepSchedule(cfg *config.Config) (string, time.Duration, error) {
	spec := strings.TrimSpace(cfg.Scheduler.SweepSpec)
	if spec == "" {
		spec = defaultSweepSpec
	}
	timeout, err := config.DurationOr("scheduler.sweep_timeout", cfg.Scheduler.SweepTimeout, defaultSweepTimeout)
	return spec, timeout, err
}

func pruneSchedule(cfg *config.Config) string {
	if spec := strings.TrimSpace(cfg.Scheduler.PruneSpec); spec != "" {
		return spec
	}
	return defaultPruneSpec
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := config.NotifierOrDefault(cfg.Notifier)
	retention, err := config.Duration("notifier.event_retention", nc.EventRetention)
	if err != nil {
		return notifier.Config{}, err
	}
	out := notifier.Config{
		Enabled:        nc.Enabled,
		Workers:        nc.Workers,
		QueueSize:      nc.QueueSize,
		RatePerSec:     nc.RatePerSec,
		EventRetention: retention,
	}
	for i, raw := range nc.ReminderOffsets {
		d, err := config.Duration(fmt.Sprintf("notifier.reminder_offsets[%d]", i), raw)
		if err != nil {
			return notifier.Config{}, err
		}
		out.ReminderOffsets = append(out.ReminderOffsets, d)
	}
	return out, nil
}

func mapMetricsConfig(cfg *config.Config) (metrics.Config, error) {
	interval, err := config.Duration("metrics.interval", cfg.Metrics.Interval)
	if err != nil {
		return metrics.Config{}, err
	}
	return metrics.Config{Enabled: cfg.Metrics.Enabled, Prefix: cfg.Metrics.Prefix, Interval: interval}, nil
}

// mapDefaults resolves the study fallbacks used when importing a catalog.
func mapDefaults(cfg *config.Config) (catalog.Defaults, error) {
	out := catalog.Defaults{Location: time.UTC, NotifyAt: 9 * time.Hour}
	if tz := strings.TrimSpace(cfg.Defaults.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return catalog.Defaults{}, fmt.Errorf("defaults.timezone: %w", err)
		}
		out.Location = loc
	}
	if at := strings.TrimSpace(cfg.Defaults.NotifyAt); at != "" {
		d, err := config.ParseTimeOfDay(at)
		if err != nil {
			return catalog.Defaults{}, fmt.Errorf("defaults.notify_at: %w", err)
		}
		out.NotifyAt = d
	}
	return out, nil
}

func publishRetries(cfg *config.Config) int {
	if cfg.Defaults.PublishRetries > 0 {
		return cfg.Defaults.PublishRetries
	}
	return 3
}

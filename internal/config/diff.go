package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskcycle/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// structured attrs for logging. Paths are reported as set/unset only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.sweep_spec", strings.TrimSpace(newCfg.Scheduler.SweepSpec)),
			logx.String("scheduler.prune_spec", strings.TrimSpace(newCfg.Scheduler.PruneSpec)),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		enabled := newCfg.Scheduler.Enabled
		if nTE.Enabled != nil {
			enabled = *nTE.Enabled
		}
		attrs = append(attrs,
			logx.Bool("task_engine.present", newCfg.TaskEngine != nil),
			logx.Bool("task_engine.enabled", enabled),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	// Storage is only applied at startup; surfacing the change tells the
	// operator a restart is needed.
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	oldN := NotifierOrDefault(oldCfg.Notifier)
	newN := NotifierOrDefault(newCfg.Notifier)
	if !reflect.DeepEqual(oldN, newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Strings("notifier.reminder_offsets", newN.ReminderOffsets),
			logx.String("notifier.event_retention", newN.EventRetention),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.interval", strings.TrimSpace(newCfg.Metrics.Interval)),
		)
	}

	if oldCfg.Defaults != newCfg.Defaults {
		changed = append(changed, "defaults")
		attrs = append(attrs,
			logx.String("defaults.timezone", newCfg.Defaults.Timezone),
			logx.String("defaults.notify_at", newCfg.Defaults.NotifyAt),
			logx.Int("defaults.publish_retries", newCfg.Defaults.PublishRetries),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// NotifierOrDefault treats an omitted notifier section as the runtime defaults.
func NotifierOrDefault(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{
			Enabled:         true,
			Workers:         2,
			QueueSize:       256,
			RatePerSec:      20,
			ReminderOffsets: []string{"0s", "24h"},
			EventRetention:  "720h",
		}
	}
	return *n
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the cron triggers (hourly sweep, event pruning).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of triggered jobs.
	// If omitted, the engine follows scheduler.enabled with built-in defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Storage  StorageConfig   `json:"storage"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Metrics  MetricsConfig   `json:"metrics"`
	Defaults DefaultsConfig  `json:"defaults"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduler (trigger) service.
//
// Defaults:
//   - sweep_spec: "5 * * * *" (five minutes past every hour)
//   - sweep_timeout: "10m"
//   - prune_spec: "@daily"
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone. Empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`

	// SweepSpec is a cron expression or interval (see scheduler.ParseSchedule).
	SweepSpec string `json:"sweep_spec,omitempty"`
	// SweepTimeout is a Go duration string. "0s" means no timeout.
	SweepTimeout string `json:"sweep_timeout,omitempty"`
	PruneSpec    string `json:"prune_spec,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default to scheduler.enabled)
// from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskcycle.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// NotifierConfig controls reminder scheduling for activated instances.
//
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled    bool `json:"enabled"`
	Workers    int  `json:"workers"`
	QueueSize  int  `json:"queue_size"`
	RatePerSec int  `json:"rate_per_sec"`

	// ReminderOffsets are Go duration strings measured from the issue time.
	ReminderOffsets []string `json:"reminder_offsets,omitempty"`
	// EventRetention bounds the lifecycle event history (default "720h").
	EventRetention string `json:"event_retention,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Prefix   string `json:"prefix,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// DefaultsConfig applies to studies that do not carry their own settings.
type DefaultsConfig struct {
	Timezone string `json:"timezone,omitempty"`
	// NotifyAt is the local time of day ("HH:MM") for non-hourly instances.
	NotifyAt       string `json:"notify_at,omitempty"`
	PublishRetries int    `json:"publish_retries,omitempty"`
}

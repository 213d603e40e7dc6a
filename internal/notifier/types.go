package notifier

import (
	"context"
	"time"

	"taskcycle/internal/model"
	"taskcycle/internal/storage"
)

// Config controls the reminder pipeline.
type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int

	// ReminderOffsets are measured from the instance issue time.
	ReminderOffsets []time.Duration
	// EventRetention bounds the event history kept by Prune.
	EventRetention time.Duration
}

// Store is the subset of storage the notifier writes to.
type Store interface {
	AddReminder(ctx context.Context, r model.Reminder) error
	EnqueueDelivery(ctx context.Context, d storage.Delivery) error
	AppendEvent(ctx context.Context, e model.EventRecord) error
	PruneEvents(ctx context.Context, before time.Time) (int, error)
}

// Stats counts handled events since start.
type Stats struct {
	Handled   int64
	Reminders int64
	Failed    int64
}

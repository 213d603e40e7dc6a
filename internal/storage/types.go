package storage

import (
	"context"
	"errors"
	"time"

	"taskcycle/internal/model"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")

	// ErrBusy wraps a transaction that failed on lock contention. Retrying
	// shortly afterwards is expected to succeed.
	ErrBusy = errors.New("storage busy")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (pure Go, modernc.org/sqlite)
//
// If Driver is empty or "none", storage is disabled and Open returns ErrDisabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence API used by the workflows, the sweep and the notifier.
type Store interface {
	Catalog

	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. Lock contention is reported as
	// ErrBusy.
	WithTx(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// Catalog is the non-transactional CRUD surface.
type Catalog interface {
	PutStudy(ctx context.Context, s model.Study) error
	Study(ctx context.Context, id string) (model.Study, error)

	PutDefinition(ctx context.Context, d model.TaskDefinition) error
	Definition(ctx context.Context, id string) (model.TaskDefinition, error)
	Definitions(ctx context.Context, studyID string) ([]model.TaskDefinition, error)

	PutSubject(ctx context.Context, s model.Subject) error
	Subject(ctx context.Context, id string) (model.Subject, error)

	PutInstance(ctx context.Context, in model.TaskInstance) error
	Instance(ctx context.Context, id string) (model.TaskInstance, error)
	Instances(ctx context.Context, f InstanceFilter) ([]model.TaskInstance, error)

	PutAnswer(ctx context.Context, a model.AnswerValue) error
	Answers(ctx context.Context, instanceID string, slot model.Slot) ([]model.AnswerValue, error)
	// LatestAnswers returns the most recently recorded values a subject gave
	// for ref, across all of the subject's instances.
	LatestAnswers(ctx context.Context, subjectID string, ref model.QuestionRef) ([]string, bool, error)

	AddReminder(ctx context.Context, r model.Reminder) error
	Reminders(ctx context.Context, instanceID string) ([]model.Reminder, error)
	EnqueueDelivery(ctx context.Context, d Delivery) error
	Deliveries(ctx context.Context, instanceID string) ([]Delivery, error)

	AppendEvent(ctx context.Context, e model.EventRecord) error
	Events(ctx context.Context, instanceID string) ([]model.EventRecord, error)
	PruneEvents(ctx context.Context, before time.Time) (int, error)
}

// InstanceFilter narrows Instances; empty fields match everything.
type InstanceFilter struct {
	SubjectID    string
	DefinitionID string
	Status       model.Status
}

// Delivery is a queued outbound message for an instance.
type Delivery struct {
	ID         string
	InstanceID string
	SubjectID  string
	Topic      string
	Payload    string
	EnqueuedAt time.Time
}

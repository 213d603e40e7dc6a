//go:generate mockgen -package $GOPACKAGE -source $GOFILE -destination tx_mock.go

package storage

import (
	"context"
	"time"

	"taskcycle/internal/model"
)

// Tx is the unit of work a sweep or a generation request runs in.
type Tx interface {
	// LoadEligibleInstances returns dormant, due, in-progress and
	// released-once instances issued at or before now, joined with their
	// definition's policy and study location.
	LoadEligibleInstances(ctx context.Context, now time.Time) ([]model.EligibleInstance, error)

	// SaveInstanceStatuses applies each update only when the row is still in
	// the update's From status and returns the ids actually changed.
	SaveInstanceStatuses(ctx context.Context, updates []model.StatusUpdate) ([]string, error)

	// CopyAnswersForward copies every first-pass answer of the given
	// instances into the finalized slot. Existing finalized rows are kept.
	CopyAnswersForward(ctx context.Context, instanceIDs []string) (int, error)

	// DeletePendingSchedulesAndQueueEntries removes reminders and queued
	// deliveries of the given instances. Missing rows are not an error.
	DeletePendingSchedulesAndQueueEntries(ctx context.Context, instanceIDs []string) (int, error)

	// InsertInstances inserts new instances, skipping any whose
	// (definition, subject, cycle index) already exists.
	InsertInstances(ctx context.Context, instances []model.TaskInstance) (int, error)

	// SetSubjectAnchor sets the anchor of a subject that has none yet and
	// reports whether it did.
	SetSubjectAnchor(ctx context.Context, subjectID string, at time.Time) (bool, error)
}

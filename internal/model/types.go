package model

import (
	"fmt"
	"time"
)

// Study carries the per-study settings the date arithmetic depends on.
type Study struct {
	ID string

	// Location is the study's configured time zone. Nil means UTC.
	Location *time.Location

	// NotifyAt is the default notification time-of-day, as an offset from
	// local midnight.
	NotifyAt time.Duration
}

// Loc returns the study location, defaulting to UTC.
func (s Study) Loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// TaskDefinition is a reusable recurring-task template.
type TaskDefinition struct {
	ID        string
	StudyID   string
	CreatedAt time.Time

	Cycle Cycle

	// Day windows.
	ActivateAfterDays   int // days after the anchor before the first instance is due
	DeactivateAfterDays int // days after activation during which recurring instances are generated
	ExpireAfterDays     int // days after issue before an unanswered instance expires
	FinalizeAfterDays   int // days after the first release before the instance is finalized

	Audience Audience

	// FixedDate is only used when Cycle.Unit is CycleFixedDate.
	FixedDate time.Time

	// Weekday postpones computed week/month dates to the given weekday.
	Weekday *time.Weekday

	SortOrder int

	// Condition is set when instances of this definition are created only
	// after a branching rule on an earlier answer is satisfied.
	Condition *ConditionRule
}

// AnchorDependent reports whether the definition's dates are derived from the
// subject anchor (i.e. neither fixed-date nor team-targeted).
func (d TaskDefinition) AnchorDependent() bool {
	return d.Cycle.Unit != CycleFixedDate && d.Audience != AudienceTeam
}

// Validate fails fast on definitions that cannot produce dates.
func (d TaskDefinition) Validate() error {
	if !d.Cycle.Unit.Valid() {
		return fmt.Errorf("%w: %s: unknown cycle unit %d", ErrInvalidDefinition, d.ID, int(d.Cycle.Unit))
	}
	if d.Cycle.Unit == CycleHour {
		if d.Cycle.FirstHour < 0 || d.Cycle.FirstHour > 23 {
			return fmt.Errorf("%w: %s: first hour %d outside 0..23", ErrInvalidDefinition, d.ID, d.Cycle.FirstHour)
		}
		if d.Cycle.PerDay < 0 {
			return fmt.Errorf("%w: %s: negative cycles per day", ErrInvalidDefinition, d.ID)
		}
	}
	if d.Cycle.Unit == CycleFixedDate && d.FixedDate.IsZero() {
		return fmt.Errorf("%w: %s: fixed-date cycle without a date", ErrInvalidDefinition, d.ID)
	}
	if d.ActivateAfterDays < 0 || d.DeactivateAfterDays < 0 || d.ExpireAfterDays < 0 || d.FinalizeAfterDays < 0 {
		return fmt.Errorf("%w: %s: negative day window", ErrInvalidDefinition, d.ID)
	}
	if d.Weekday != nil && (*d.Weekday < time.Sunday || *d.Weekday > time.Saturday) {
		return fmt.Errorf("%w: %s: weekday %d outside Sunday..Saturday", ErrInvalidDefinition, d.ID, int(*d.Weekday))
	}
	if d.Condition != nil {
		if err := d.Condition.Validate(); err != nil {
			return fmt.Errorf("%s: %w", d.ID, err)
		}
	}
	return nil
}

// Subject is the recipient of task instances.
type Subject struct {
	ID      string
	StudyID string
	TeamID  string

	// AnchorAt is the first qualifying activity; nil until it happens.
	AnchorAt *time.Time
}

// TaskInstance is one dated occurrence of a definition for one subject.
type TaskInstance struct {
	ID           string
	DefinitionID string
	SubjectID    string
	StudyID      string

	CycleIndex int
	IssuedAt   time.Time

	FirstReleasedAt  *time.Time
	SecondReleasedAt *time.Time

	Status    Status
	SortOrder int
}

// EligibleInstance is an instance joined with the definition settings the
// sweep needs to decide its next status.
type EligibleInstance struct {
	TaskInstance

	Unit              CycleUnit
	Audience          Audience
	ExpireAfterDays   int
	FinalizeAfterDays int

	Location *time.Location
}

// Loc returns the instance's study location, defaulting to UTC.
func (e EligibleInstance) Loc() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

// StatusUpdate is one row of a batched status write.
type StatusUpdate struct {
	InstanceID       string
	From             Status
	To               Status
	SecondReleasedAt *time.Time
}

// LifecycleEvent announces an instance status change to downstream consumers.
type LifecycleEvent struct {
	InstanceID   string    `json:"instance_id"`
	DefinitionID string    `json:"definition_id"`
	SubjectID    string    `json:"subject_id"`
	StudyID      string    `json:"study_id"`
	Status       Status    `json:"status"`
	IssuedAt     time.Time `json:"issued_at"`
	At           time.Time `json:"at"`
}

// Reminder is a pending outbound reminder for an instance.
type Reminder struct {
	ID         string
	InstanceID string
	SubjectID  string
	RemindAt   time.Time
}

// EventRecord is a persisted lifecycle event (history).
type EventRecord struct {
	ID         string
	Topic      string
	InstanceID string
	SubjectID  string
	StudyID    string
	Status     Status
	At         time.Time
}

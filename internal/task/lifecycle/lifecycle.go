// Package lifecycle holds the task-instance state machine and the pure
// decisions a sweep applies to each eligible instance.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"taskcycle/internal/model"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Action is what a sweep does to one instance.
type Action int

const (
	ActionNone Action = iota
	ActionActivate
	ActionExpire
	ActionFinalize
)

func (a Action) String() string {
	switch a {
	case ActionActivate:
		return "activate"
	case ActionExpire:
		return "expire"
	case ActionFinalize:
		return "finalize"
	default:
		return "none"
	}
}

// Decision is the outcome of evaluating one instance.
type Decision struct {
	Action           Action
	InstanceID       string
	From             model.Status
	To               model.Status
	SecondReleasedAt *time.Time
}

// Update converts the decision into a batched status write.
func (d Decision) Update() model.StatusUpdate {
	return model.StatusUpdate{
		InstanceID:       d.InstanceID,
		From:             d.From,
		To:               d.To,
		SecondReleasedAt: d.SecondReleasedAt,
	}
}

var allowedTransitions = map[model.Status]map[model.Status]struct{}{
	model.StatusDormant: {
		model.StatusDue:       {},
		model.StatusExpired:   {},
		model.StatusWithdrawn: {},
	},
	model.StatusDue: {
		model.StatusInProgress:   {},
		model.StatusReleasedOnce: {}, // answered and released in one step
		model.StatusExpired:      {},
		model.StatusWithdrawn:    {},
	},
	model.StatusInProgress: {
		model.StatusReleasedOnce: {},
		model.StatusExpired:      {},
		model.StatusWithdrawn:    {},
	},
	model.StatusReleasedOnce: {
		model.StatusReleasedTwice: {},
		model.StatusWithdrawn:     {},
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to model.Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Transition validates an externally driven status change (answer
// submission, release, withdrawal). cur is the stored status.
func Transition(cur, from, to model.Status) error {
	if cur != from {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidTransition, from, cur)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ShouldExpire: dormant, due or in-progress subject instances expire once
// now is past issue + ExpireAfterDays. A zero window expires them as soon as
// issue has passed. Ad-hoc and team instances never expire.
func ShouldExpire(inst model.EligibleInstance, now time.Time) bool {
	switch inst.Status {
	case model.StatusDormant, model.StatusDue, model.StatusInProgress:
	default:
		return false
	}
	if inst.Unit == model.CycleAdHoc || inst.Audience != model.AudienceSubject {
		return false
	}
	deadline := inst.IssuedAt.In(inst.Loc()).AddDate(0, 0, inst.ExpireAfterDays)
	return now.After(deadline)
}

// ShouldActivate: a dormant instance becomes due once its issue time is reached.
func ShouldActivate(inst model.EligibleInstance, now time.Time) bool {
	return inst.Status == model.StatusDormant && !inst.IssuedAt.After(now)
}

// ShouldFinalize: a released-once instance is finalized after its
// finalization window has fully elapsed.
func ShouldFinalize(inst model.EligibleInstance, now time.Time) bool {
	if inst.Status != model.StatusReleasedOnce || inst.FirstReleasedAt == nil {
		return false
	}
	deadline := inst.FirstReleasedAt.In(inst.Loc()).AddDate(0, 0, inst.FinalizeAfterDays)
	return deadline.Before(now)
}

// Decide applies the precedence expire > activate > finalize. The second
// return value is false when the instance is left untouched.
func Decide(inst model.EligibleInstance, now time.Time) (Decision, bool) {
	d := Decision{InstanceID: inst.ID, From: inst.Status}
	switch {
	case ShouldExpire(inst, now):
		d.Action, d.To = ActionExpire, model.StatusExpired
	case ShouldActivate(inst, now):
		d.Action, d.To = ActionActivate, model.StatusDue
	case ShouldFinalize(inst, now):
		released := *inst.FirstReleasedAt
		d.Action, d.To = ActionFinalize, model.StatusReleasedTwice
		d.SecondReleasedAt = &released
	default:
		return Decision{InstanceID: inst.ID, From: inst.Status, To: inst.Status}, false
	}
	return d, true
}

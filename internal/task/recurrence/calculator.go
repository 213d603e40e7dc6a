package recurrence

import (
	"errors"
	"fmt"
	"time"

	"taskcycle/internal/model"
	logx "taskcycle/pkg/logx"
)

// ErrNoRecurrence is returned by Next for cycles that never recur.
var ErrNoRecurrence = errors.New("cycle does not recur")

// maxDates bounds a single computation; a definition producing more dates
// than this for one subject is treated as misconfigured.
const maxDates = 100_000

// Due is a computed due date with its 1-based cycle index.
type Due struct {
	Index int
	At    time.Time
}

// Input collects everything a due-date computation depends on.
type Input struct {
	Definition model.TaskDefinition
	Subject    model.Subject
	Study      model.Study

	// InternalCondition marks definitions whose visibility depends on an
	// answer rather than on a date; they always yield a single date.
	InternalCondition bool

	// OnlyAnchorDependent restricts the computation to definitions whose
	// dates derive from the subject anchor.
	OnlyAnchorDependent bool
}

// Calculator computes due dates. The clock is only consulted for ad-hoc cycles.
type Calculator struct {
	now func() time.Time
	log logx.Logger
}

func New(log logx.Logger, now func() time.Time) *Calculator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Calculator{now: now, log: log}
}

// Compute returns the ordered due dates for a definition/subject pair.
func (c *Calculator) Compute(in Input) ([]time.Time, error) {
	def := in.Definition
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if in.OnlyAnchorDependent && !def.AnchorDependent() {
		return nil, nil
	}
	if def.Audience == model.AudienceSubject && def.Cycle.Unit != model.CycleFixedDate && in.Subject.AnchorAt == nil {
		return nil, nil
	}

	loc := in.Study.Loc()
	start := c.startDate(in, loc)

	if c.single(def, in.InternalCondition) {
		at := start
		if def.Cycle.Unit != model.CycleFixedDate {
			at = start.AddDate(0, 0, def.ActivateAfterDays)
		}
		return []time.Time{anchorWeekday(def, at)}, nil
	}

	first := start.AddDate(0, 0, def.ActivateAfterDays)
	last := endOfDay(start.AddDate(0, 0, def.ActivateAfterDays+def.DeactivateAfterDays))

	var (
		out []time.Time
		err error
	)
	switch def.Cycle.Unit {
	case model.CycleHour:
		out, err = hourly(first, last, def.Cycle)
	case model.CycleDay:
		out, err = everyDays(first, last, def.Cycle.Amount, nil)
	case model.CycleWeek:
		out, err = everyDays(first, last, 7*def.Cycle.Amount, def.Weekday)
	case model.CycleMonth:
		out, err = monthly(first, last, def.Cycle.Amount, def.Weekday)
	default:
		return nil, fmt.Errorf("%w: %s: unit %s does not recur", model.ErrInvalidDefinition, def.ID, def.Cycle.Unit)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrInvalidDefinition, def.ID, err)
	}
	return out, nil
}

// Plan is Compute with 1-based cycle indexes attached.
func (c *Calculator) Plan(in Input) ([]Due, error) {
	dates, err := c.Compute(in)
	if err != nil {
		return nil, err
	}
	out := make([]Due, len(dates))
	for i, at := range dates {
		out[i] = Due{Index: i + 1, At: at}
	}
	return out, nil
}

// Next computes the single next due date after prior. Day, week and month
// dates are recomputed from the fixed start and the cycle index, so the result
// equals Plan's entry for the same index. Hourly dates step from prior's own
// issue time. ok is false when the next date falls past the definition's
// deactivation window.
//
// Asking for the next date of a cycle that never recurs is a contract
// violation: it is logged and the prior date is returned unchanged together
// with ErrNoRecurrence.
func (c *Calculator) Next(in Input, prior model.TaskInstance) (due Due, ok bool, err error) {
	def := in.Definition
	if err := def.Validate(); err != nil {
		return Due{}, false, err
	}
	if !def.Cycle.Unit.Recurring() || def.Cycle.Amount <= 0 || in.InternalCondition {
		c.log.Error("next date requested for a non-recurring cycle",
			logx.String("definition", def.ID),
			logx.String("unit", def.Cycle.Unit.String()),
			logx.Int("amount", def.Cycle.Amount),
			logx.String("instance", prior.ID),
			logx.Stack(),
		)
		return Due{Index: prior.CycleIndex, At: prior.IssuedAt}, false, ErrNoRecurrence
	}

	loc := in.Study.Loc()
	issued := prior.IssuedAt.In(loc)
	anchored := in.Subject.AnchorAt != nil || !def.AnchorDependent()

	var first time.Time
	if anchored {
		first = c.startDate(in, loc).AddDate(0, 0, def.ActivateAfterDays)
	}

	// step is the date before any weekday roll; the window check uses it,
	// as Compute does.
	var step time.Time
	switch def.Cycle.Unit {
	case model.CycleHour:
		step = nextHour(issued, def.Cycle)
	case model.CycleDay:
		if anchored {
			step = first.AddDate(0, 0, prior.CycleIndex*def.Cycle.Amount)
		} else {
			step = issued.AddDate(0, 0, def.Cycle.Amount)
		}
	case model.CycleWeek:
		if anchored {
			step = first.AddDate(0, 0, 7*prior.CycleIndex*def.Cycle.Amount)
		} else {
			step = issued.AddDate(0, 0, 7*def.Cycle.Amount)
		}
	case model.CycleMonth:
		if anchored {
			step = addMonths(first, prior.CycleIndex*def.Cycle.Amount)
		} else {
			step = addMonths(issued, def.Cycle.Amount)
		}
	}
	due = Due{Index: prior.CycleIndex + 1, At: anchorWeekday(def, step)}

	if !anchored {
		return due, true, nil
	}
	last := endOfDay(first.AddDate(0, 0, def.DeactivateAfterDays))
	return due, !step.After(last), nil
}

func (c *Calculator) single(def model.TaskDefinition, internalCondition bool) bool {
	switch def.Cycle.Unit {
	case model.CycleOnce, model.CycleAdHoc, model.CycleFixedDate:
		return true
	case model.CycleHour, model.CycleDay, model.CycleWeek, model.CycleMonth:
		return def.Cycle.Amount <= 0 || internalCondition
	default:
		return true
	}
}

// startDate picks the base timestamp, truncates it to local midnight and
// places it at the cycle's time of day.
func (c *Calculator) startDate(in Input, loc *time.Location) time.Time {
	def := in.Definition

	var base time.Time
	switch {
	case def.Cycle.Unit == model.CycleFixedDate:
		base = def.FixedDate
	case def.Cycle.Unit == model.CycleAdHoc:
		base = c.now()
	case def.Audience == model.AudienceTeam:
		base = def.CreatedAt
	default:
		base = *in.Subject.AnchorAt
		if def.CreatedAt.After(base) {
			base = def.CreatedAt
		}
	}

	day := midnight(base.In(loc))
	switch def.Cycle.Unit {
	case model.CycleAdHoc:
		return day
	case model.CycleHour:
		return atHour(day, def.Cycle.FirstHour)
	default:
		return atTimeOfDay(day, in.Study.NotifyAt)
	}
}

func anchorWeekday(def model.TaskDefinition, t time.Time) time.Time {
	if def.Weekday == nil {
		return t
	}
	if def.Cycle.Unit != model.CycleWeek && def.Cycle.Unit != model.CycleMonth {
		return t
	}
	return rollToWeekday(t, *def.Weekday)
}

func everyDays(first, last time.Time, step int, wd *time.Weekday) ([]time.Time, error) {
	var out []time.Time
	for i := 0; ; i++ {
		at := first.AddDate(0, 0, i*step)
		if at.After(last) {
			return out, nil
		}
		if len(out) >= maxDates {
			return nil, fmt.Errorf("more than %d dates", maxDates)
		}
		if wd != nil {
			at = rollToWeekday(at, *wd)
		}
		out = append(out, at)
	}
}

// monthly steps from the fixed first date on each iteration so the cadence
// never drifts through short months.
func monthly(first, last time.Time, step int, wd *time.Weekday) ([]time.Time, error) {
	var out []time.Time
	for i := 0; ; i++ {
		at := addMonths(first, i*step)
		if at.After(last) {
			return out, nil
		}
		if len(out) >= maxDates {
			return nil, fmt.Errorf("more than %d dates", maxDates)
		}
		if wd != nil {
			at = rollToWeekday(at, *wd)
		}
		out = append(out, at)
	}
}

// hourly emits cycle.Amount-hour ticks starting at cycle.FirstHour each day,
// at most cycle.PerDay per calendar day. Crossing midnight or exhausting the
// daily count restarts at FirstHour on the next day.
func hourly(first, last time.Time, cycle model.Cycle) ([]time.Time, error) {
	var out []time.Time
	day := midnight(first)
	hour := cycle.FirstHour
	count := 0
	for {
		at := atHour(day, hour)
		if at.After(last) {
			return out, nil
		}
		if len(out) >= maxDates {
			return nil, fmt.Errorf("more than %d dates", maxDates)
		}
		// A local hour skipped by a DST gap normalizes forward and may land on
		// the next tick; emit it once.
		if len(out) == 0 || at.After(out[len(out)-1]) {
			out = append(out, at)
		}
		count++

		hour += cycle.Amount
		if hour > 23 || (cycle.PerDay > 0 && count >= cycle.PerDay) {
			day = midnight(day.AddDate(0, 0, 1))
			hour = cycle.FirstHour
			count = 0
		}
	}
}

func nextHour(issued time.Time, cycle model.Cycle) time.Time {
	hour := issued.Hour()
	count := 1
	if hour >= cycle.FirstHour {
		count = (hour-cycle.FirstHour)/cycle.Amount + 1
	}
	h := hour + cycle.Amount
	if h > 23 || (cycle.PerDay > 0 && count >= cycle.PerDay) {
		return atHour(midnight(issued).AddDate(0, 0, 1), cycle.FirstHour)
	}
	next := atHour(issued, h)
	if !sameDay(next, issued) {
		return atHour(midnight(issued).AddDate(0, 0, 1), cycle.FirstHour)
	}
	return next
}

package model

import (
	"fmt"
	"strings"
)

// CycleUnit is the recurrence granularity of a task definition.
type CycleUnit int

const (
	CycleOnce CycleUnit = iota + 1
	CycleHour
	CycleDay
	CycleWeek
	CycleMonth
	CycleFixedDate
	CycleAdHoc
)

var cycleUnitTags = map[CycleUnit]string{
	CycleOnce:      "once",
	CycleHour:      "hour",
	CycleDay:       "day",
	CycleWeek:      "week",
	CycleMonth:     "month",
	CycleFixedDate: "fixed-date",
	CycleAdHoc:     "ad-hoc",
}

func (u CycleUnit) String() string {
	if s, ok := cycleUnitTags[u]; ok {
		return s
	}
	return fmt.Sprintf("CycleUnit(%d)", int(u))
}

// Valid reports whether u is one of the known units.
func (u CycleUnit) Valid() bool {
	_, ok := cycleUnitTags[u]
	return ok
}

// Recurring reports whether the unit can produce more than one instance.
func (u CycleUnit) Recurring() bool {
	switch u {
	case CycleHour, CycleDay, CycleWeek, CycleMonth:
		return true
	default:
		return false
	}
}

// ParseCycleUnit parses the stored tag form ("hour", "fixed-date", ...).
func ParseCycleUnit(raw string) (CycleUnit, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for u, tag := range cycleUnitTags {
		if s == tag {
			return u, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown cycle unit %q", ErrInvalidDefinition, raw)
}

// Audience selects what a definition's dates are anchored on.
type Audience int

const (
	AudienceSubject Audience = iota
	AudienceTeam
)

func (a Audience) String() string {
	if a == AudienceTeam {
		return "team"
	}
	return "subject"
}

func ParseAudience(raw string) (Audience, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "subject":
		return AudienceSubject, nil
	case "team":
		return AudienceTeam, nil
	default:
		return 0, fmt.Errorf("%w: unknown audience %q", ErrInvalidDefinition, raw)
	}
}

// Cycle is the recurrence policy of a definition.
//
// Amount is the interval multiplier. PerDay caps the number of hour ticks per
// calendar day (0 means no cap besides the day boundary). FirstHour is the
// local hour of the first tick of each day for hour cycles.
type Cycle struct {
	Unit      CycleUnit
	Amount    int
	PerDay    int
	FirstHour int
}

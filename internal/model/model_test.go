package model

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParseTags(t *testing.T) {
	t.Parallel()
	for u, tag := range cycleUnitTags {
		got, err := ParseCycleUnit(" " + tag + " ")
		if err != nil || got != u {
			t.Fatalf("ParseCycleUnit(%q) = %v, %v", tag, got, err)
		}
	}
	if _, err := ParseCycleUnit("fortnight"); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
	for i := 1; i < len(statusTags); i++ {
		if s, err := ParseStatus(statusTags[i]); err != nil || s != Status(i) {
			t.Fatalf("ParseStatus(%q) = %v, %v", statusTags[i], s, err)
		}
	}
	if c, err := ParseCombinator(""); err != nil || c != CombinatorOR {
		t.Fatalf("empty combinator should be OR: %v, %v", c, err)
	}
	if _, err := ParseOperand("=<"); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	if a, err := ParseAudience("TEAM"); err != nil || a != AudienceTeam {
		t.Fatalf("ParseAudience: %v, %v", a, err)
	}
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(LifecycleEvent{InstanceID: "i", Status: StatusReleasedOnce})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var ev LifecycleEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Status != StatusReleasedOnce {
		t.Fatalf("status = %s", ev.Status)
	}
	if !StatusExpired.Terminal() || StatusDue.Terminal() {
		t.Fatalf("terminal set wrong")
	}
}

func TestSplitValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a;b;", []string{"a", "b"}},
		{"a;;b", []string{"a", "", "b"}},
		{";;", []string{}},
	}
	for _, tt := range tests {
		if got := SplitValues(tt.raw, ValueSeparator); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("SplitValues(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
	if got := SplitValues(JoinValues([]string{"1", "2"}), ValueSeparator); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Fatalf("join/split: %q", got)
	}
}

func TestDefinitionValidate(t *testing.T) {
	t.Parallel()
	bad := time.Weekday(7)
	base := TaskDefinition{ID: "d", Cycle: Cycle{Unit: CycleDay, Amount: 1}}
	tests := []struct {
		name string
		mut  func(d *TaskDefinition)
		ok   bool
	}{
		{name: "valid", mut: func(*TaskDefinition) {}, ok: true},
		{name: "unknown unit", mut: func(d *TaskDefinition) { d.Cycle.Unit = 0 }},
		{name: "first hour", mut: func(d *TaskDefinition) { d.Cycle = Cycle{Unit: CycleHour, Amount: 2, FirstHour: 24} }},
		{name: "fixed date missing", mut: func(d *TaskDefinition) { d.Cycle.Unit = CycleFixedDate }},
		{name: "negative window", mut: func(d *TaskDefinition) { d.DeactivateAfterDays = -1 }},
		{name: "weekday", mut: func(d *TaskDefinition) { d.Weekday = &bad }},
		{name: "empty rule value", mut: func(d *TaskDefinition) {
			d.Condition = &ConditionRule{Operand: OpEqual, Values: []string{" "}}
		}},
		{name: "negative expiry window", mut: func(d *TaskDefinition) { d.ExpireAfterDays = -1 }},
		{name: "zero expiry window", mut: func(d *TaskDefinition) { d.ExpireAfterDays = 0 }, ok: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := base
			tt.mut(&d)
			err := d.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidDefinition) && !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestAnchorDependent(t *testing.T) {
	if !(TaskDefinition{Cycle: Cycle{Unit: CycleWeek}}).AnchorDependent() {
		t.Fatalf("weekly subject definition depends on the anchor")
	}
	if (TaskDefinition{Cycle: Cycle{Unit: CycleFixedDate}}).AnchorDependent() {
		t.Fatalf("fixed-date does not depend on the anchor")
	}
	if (TaskDefinition{Cycle: Cycle{Unit: CycleDay}, Audience: AudienceTeam}).AnchorDependent() {
		t.Fatalf("team definitions do not depend on the anchor")
	}
}

package recurrence

import (
	"bytes"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"taskcycle/internal/model"
	logx "taskcycle/pkg/logx"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func ptr[T any](v T) *T { return &v }

func fixedClock(at time.Time) func() time.Time { return func() time.Time { return at } }

func utcStudy() model.Study {
	return model.Study{ID: "s1", Location: time.UTC, NotifyAt: 9 * time.Hour}
}

func TestComputeOnce(t *testing.T) {
	loc := berlin(t)
	calc := New(logx.Nop(), nil)

	anchor := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	got, err := calc.Compute(Input{
		Definition: model.TaskDefinition{
			ID:                "d1",
			CreatedAt:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Cycle:             model.Cycle{Unit: model.CycleOnce},
			ActivateAfterDays: 2,
		},
		Subject: model.Subject{ID: "p1", AnchorAt: &anchor},
		Study:   model.Study{Location: loc, NotifyAt: 9 * time.Hour},
	})
	require.NoError(t, err)
	require.Equal(t, []time.Time{time.Date(2024, 3, 12, 9, 0, 0, 0, loc)}, got)
}

func TestComputeUsesLaterOfAnchorAndCreation(t *testing.T) {
	calc := New(logx.Nop(), nil)
	anchor := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	got, err := calc.Compute(Input{
		Definition: model.TaskDefinition{
			CreatedAt: time.Date(2024, 2, 15, 23, 0, 0, 0, time.UTC),
			Cycle:     model.Cycle{Unit: model.CycleOnce},
		},
		Subject: model.Subject{AnchorAt: &anchor},
		Study:   utcStudy(),
	})
	require.NoError(t, err)
	require.Equal(t, []time.Time{time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC)}, got)
}

func TestComputeWithoutAnchor(t *testing.T) {
	calc := New(logx.Nop(), nil)
	def := model.TaskDefinition{
		CreatedAt: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
		Cycle:     model.Cycle{Unit: model.CycleDay, Amount: 1},
	}

	got, err := calc.Compute(Input{Definition: def, Study: utcStudy()})
	require.NoError(t, err)
	require.Empty(t, got)

	def.Audience = model.AudienceTeam
	def.Cycle = model.Cycle{Unit: model.CycleOnce}
	got, err = calc.Compute(Input{Definition: def, Study: utcStudy()})
	require.NoError(t, err)
	require.Equal(t, []time.Time{time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)}, got)

	got, err = calc.Compute(Input{Definition: def, Study: utcStudy(), OnlyAnchorDependent: true})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestComputeFixedDate(t *testing.T) {
	calc := New(logx.Nop(), nil)
	def := model.TaskDefinition{
		Cycle:             model.Cycle{Unit: model.CycleFixedDate},
		FixedDate:         time.Date(2024, 6, 1, 17, 30, 0, 0, time.UTC),
		ActivateAfterDays: 5,
	}

	got, err := calc.Compute(Input{Definition: def, Study: utcStudy()})
	require.NoError(t, err)
	require.Equal(t, []time.Time{time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}, got)

	got, err = calc.Compute(Input{Definition: def, Study: utcStudy(), OnlyAnchorDependent: true})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestComputeAdHocAnchorsToToday(t *testing.T) {
	now := time.Date(2024, 5, 5, 15, 0, 0, 0, time.UTC)
	calc := New(logx.Nop(), fixedClock(now))
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := calc.Compute(Input{
		Definition: model.TaskDefinition{
			Cycle:             model.Cycle{Unit: model.CycleAdHoc},
			ActivateAfterDays: 1,
		},
		Subject: model.Subject{AnchorAt: &anchor},
		Study:   utcStudy(),
	})
	require.NoError(t, err)
	require.Equal(t, []time.Time{time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)}, got)
}

func TestComputeDaily(t *testing.T) {
	calc := New(logx.Nop(), nil)
	anchor := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	in := Input{
		Definition: model.TaskDefinition{
			Cycle:               model.Cycle{Unit: model.CycleDay, Amount: 1},
			DeactivateAfterDays: 3,
		},
		Subject: model.Subject{AnchorAt: &anchor},
		Study:   model.Study{Location: time.UTC, NotifyAt: 8 * time.Hour},
	}

	got, err := calc.Compute(in)
	require.NoError(t, err)
	require.Equal(t, []time.Time{
		time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 4, 8, 0, 0, 0, time.UTC),
	}, got)

	again, err := calc.Compute(in)
	require.NoError(t, err)
	require.Equal(t, got, again)

	in.InternalCondition = true
	got, err = calc.Compute(in)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestComputeWeeklyWeekdayAnchor(t *testing.T) {
	calc := New(logx.Nop(), nil)
	anchor := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC) // Wednesday
	got, err := calc.Compute(Input{
		Definition: model.TaskDefinition{
			Cycle:               model.Cycle{Unit: model.CycleWeek, Amount: 1},
			DeactivateAfterDays: 14,
			Weekday:             ptr(time.Monday),
		},
		Subject: model.Subject{AnchorAt: &anchor},
		Study:   utcStudy(),
	})
	require.NoError(t, err)
	require.Equal(t, []time.Time{
		time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC),
	}, got)
}

func TestComputeMonthlyDoesNotDrift(t *testing.T) {
	calc := New(logx.Nop(), nil)
	anchor := time.Date(2024, 1, 31, 6, 0, 0, 0, time.UTC)
	got, err := calc.Compute(Input{
		Definition: model.TaskDefinition{
			Cycle:               model.Cycle{Unit: model.CycleMonth, Amount: 1},
			DeactivateAfterDays: 90,
		},
		Subject: model.Subject{AnchorAt: &anchor},
		Study:   utcStudy(),
	})
	require.NoError(t, err)
	require.Equal(t, []time.Time{
		time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC),
	}, got)
}

func TestComputeHourlyAcrossDST(t *testing.T) {
	loc := berlin(t)
	calc := New(logx.Nop(), nil)
	anchor := time.Date(2024, 3, 30, 5, 0, 0, 0, loc)

	got, err := calc.Compute(Input{
		Definition: model.TaskDefinition{
			Cycle:               model.Cycle{Unit: model.CycleHour, Amount: 4, PerDay: 3, FirstHour: 8},
			DeactivateAfterDays: 2,
		},
		Subject: model.Subject{AnchorAt: &anchor},
		Study:   model.Study{Location: loc, NotifyAt: 9 * time.Hour},
	})
	require.NoError(t, err)
	require.Len(t, got, 9)

	for i, at := range got {
		require.Equal(t, []int{8, 12, 16}[i%3], at.In(loc).Hour(), "tick %d at %s", i, at)
		if i > 0 {
			require.True(t, at.After(got[i-1]), "tick %d not after previous", i)
		}
	}
	// The night of the transition is one hour shorter.
	require.Equal(t, 15*time.Hour, got[3].Sub(got[2]))
	require.Equal(t, 16*time.Hour, got[6].Sub(got[5]))
}

func TestComputeHourlyResetsAtMidnight(t *testing.T) {
	calc := New(logx.Nop(), nil)
	anchor := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	got, err := calc.Compute(Input{
		Definition: model.TaskDefinition{
			Cycle:               model.Cycle{Unit: model.CycleHour, Amount: 5, FirstHour: 6},
			DeactivateAfterDays: 1,
		},
		Subject: model.Subject{AnchorAt: &anchor},
		Study:   utcStudy(),
	})
	require.NoError(t, err)

	var hours []int
	for _, at := range got {
		hours = append(hours, at.Hour())
	}
	require.Equal(t, []int{6, 11, 16, 21, 6, 11, 16, 21}, hours)
}

func TestComputeRejectsMalformedDefinition(t *testing.T) {
	calc := New(logx.Nop(), nil)
	anchor := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	cases := []model.TaskDefinition{
		{Cycle: model.Cycle{Unit: model.CycleHour, Amount: 1, FirstHour: 25}},
		{Cycle: model.Cycle{Unit: model.CycleUnit(99)}},
		{Cycle: model.Cycle{Unit: model.CycleFixedDate}},
		{Cycle: model.Cycle{Unit: model.CycleDay, Amount: 1}, DeactivateAfterDays: -1},
	}
	for _, def := range cases {
		_, err := calc.Compute(Input{Definition: def, Subject: model.Subject{AnchorAt: &anchor}, Study: utcStudy()})
		require.ErrorIs(t, err, model.ErrInvalidDefinition, "unit %s", def.Cycle.Unit)
	}
}

func TestPlanIndexes(t *testing.T) {
	calc := New(logx.Nop(), nil)
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	plan, err := calc.Plan(Input{
		Definition: model.TaskDefinition{
			Cycle:               model.Cycle{Unit: model.CycleDay, Amount: 2},
			DeactivateAfterDays: 4,
		},
		Subject: model.Subject{AnchorAt: &anchor},
		Study:   utcStudy(),
	})
	require.NoError(t, err)
	require.Len(t, plan, 3)
	for i, d := range plan {
		require.Equal(t, i+1, d.Index)
	}
}

func TestNext(t *testing.T) {
	calc := New(logx.Nop(), nil)
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		Definition: model.TaskDefinition{
			Cycle:               model.Cycle{Unit: model.CycleDay, Amount: 2},
			DeactivateAfterDays: 10,
		},
		Subject: model.Subject{AnchorAt: &anchor},
		Study:   utcStudy(),
	}

	due, ok, err := calc.Next(in, model.TaskInstance{CycleIndex: 1, IssuedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Due{Index: 2, At: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}, due)

	_, ok, err = calc.Next(in, model.TaskInstance{CycleIndex: 6, IssuedAt: time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNextHourRollsToNextDay(t *testing.T) {
	calc := New(logx.Nop(), nil)
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		Definition: model.TaskDefinition{
			Cycle:               model.Cycle{Unit: model.CycleHour, Amount: 4, PerDay: 3, FirstHour: 8},
			DeactivateAfterDays: 5,
		},
		Subject: model.Subject{AnchorAt: &anchor},
		Study:   utcStudy(),
	}

	due, ok, err := calc.Next(in, model.TaskInstance{CycleIndex: 2, IssuedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC), due.At)

	due, _, err = calc.Next(in, model.TaskInstance{CycleIndex: 3, IssuedAt: time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Equal(t, Due{Index: 4, At: time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)}, due)
}

func TestNextOnNonRecurringCycleKeepsDate(t *testing.T) {
	var buf bytes.Buffer
	calc := New(logx.NewWriter(&buf, "debug"), nil)
	prior := model.TaskInstance{ID: "i1", CycleIndex: 1, IssuedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}

	for _, unit := range []model.CycleUnit{model.CycleOnce, model.CycleFixedDate, model.CycleAdHoc} {
		def := model.TaskDefinition{Cycle: model.Cycle{Unit: unit}, FixedDate: prior.IssuedAt}
		due, ok, err := calc.Next(Input{Definition: def, Study: utcStudy()}, prior)
		require.ErrorIs(t, err, ErrNoRecurrence)
		require.False(t, ok)
		require.Equal(t, Due{Index: 1, At: prior.IssuedAt}, due)
	}
	require.Contains(t, buf.String(), `"level":"error"`)
	require.Contains(t, buf.String(), `"stack"`)
}

func TestRollToWeekdayNeverMovesBackward(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for d := 0; d < 14; d++ {
		day := start.AddDate(0, 0, d)
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			got := rollToWeekday(day, wd)
			require.Equal(t, wd, got.Weekday())
			require.False(t, got.Before(day))
			require.Less(t, got.Sub(day), 7*24*time.Hour)
		}
	}
}

func TestNextMatchesPlan(t *testing.T) {
	loc := berlin(t)
	tests := []struct {
		name   string
		anchor time.Time
		def    model.TaskDefinition
		study  model.Study
	}{
		{
			name:   "day",
			anchor: time.Date(2024, 3, 25, 7, 0, 0, 0, time.UTC),
			def: model.TaskDefinition{
				Cycle:               model.Cycle{Unit: model.CycleDay, Amount: 3},
				ActivateAfterDays:   1,
				DeactivateAfterDays: 20,
			},
			study: model.Study{Location: loc, NotifyAt: 9 * time.Hour},
		},
		{
			name:   "month clamped to short months",
			anchor: time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC),
			def: model.TaskDefinition{
				Cycle:               model.Cycle{Unit: model.CycleMonth, Amount: 1},
				DeactivateAfterDays: 200,
			},
			study: utcStudy(),
		},
		{
			name:   "month on friday",
			anchor: time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC),
			def: model.TaskDefinition{
				Cycle:               model.Cycle{Unit: model.CycleMonth, Amount: 1},
				Weekday:             ptr(time.Friday),
				DeactivateAfterDays: 200,
			},
			study: utcStudy(),
		},
		{
			name:   "two weeks on monday",
			anchor: time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC),
			def: model.TaskDefinition{
				Cycle:               model.Cycle{Unit: model.CycleWeek, Amount: 2},
				Weekday:             ptr(time.Monday),
				DeactivateAfterDays: 90,
			},
			study: model.Study{Location: loc, NotifyAt: 8*time.Hour + 30*time.Minute},
		},
		{
			name:   "hour capped per day across dst",
			anchor: time.Date(2024, 3, 29, 6, 0, 0, 0, time.UTC),
			def: model.TaskDefinition{
				Cycle:               model.Cycle{Unit: model.CycleHour, Amount: 4, PerDay: 3, FirstHour: 8},
				DeactivateAfterDays: 4,
			},
			study: model.Study{Location: loc},
		},
		{
			name:   "every hour through the spring gap",
			anchor: time.Date(2024, 3, 30, 6, 0, 0, 0, time.UTC),
			def: model.TaskDefinition{
				Cycle:               model.Cycle{Unit: model.CycleHour, Amount: 1},
				DeactivateAfterDays: 2,
			},
			study: model.Study{Location: loc},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := New(logx.Nop(), nil)
			in := Input{Definition: tt.def, Subject: model.Subject{AnchorAt: &tt.anchor}, Study: tt.study}
			plan, err := calc.Plan(in)
			require.NoError(t, err)
			require.Greater(t, len(plan), 2)

			for i, cur := range plan {
				due, ok, err := calc.Next(in, model.TaskInstance{CycleIndex: cur.Index, IssuedAt: cur.At})
				require.NoError(t, err)
				if i == len(plan)-1 {
					require.False(t, ok, "next after the last planned date %s", cur.At)
					continue
				}
				require.True(t, ok, "index %d", cur.Index)
				require.Equal(t, plan[i+1].Index, due.Index)
				require.True(t, plan[i+1].At.Equal(due.At), "index %d: plan %s, next %s", due.Index, plan[i+1].At, due.At)
			}
		})
	}
}

func TestNextMonthDoesNotCompoundClamping(t *testing.T) {
	calc := New(logx.Nop(), nil)
	anchor := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	in := Input{
		Definition: model.TaskDefinition{
			Cycle:               model.Cycle{Unit: model.CycleMonth, Amount: 1},
			DeactivateAfterDays: 200,
		},
		Subject: model.Subject{AnchorAt: &anchor},
		Study:   utcStudy(),
	}

	due, ok, err := calc.Next(in, model.TaskInstance{CycleIndex: 2, IssuedAt: time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Due{Index: 3, At: time.Date(2024, 3, 31, 9, 0, 0, 0, time.UTC)}, due)
}

func TestComputeIsDeterministic(t *testing.T) {
	loc := berlin(t)
	anchor := time.Date(2024, 3, 29, 6, 0, 0, 0, time.UTC)
	clock := fixedClock(time.Date(2024, 3, 31, 1, 30, 0, 0, time.UTC))

	inputs := map[string]Input{
		"ad-hoc": {
			Definition: model.TaskDefinition{Cycle: model.Cycle{Unit: model.CycleAdHoc}},
			Subject:    model.Subject{AnchorAt: &anchor},
			Study:      model.Study{Location: loc, NotifyAt: 9 * time.Hour},
		},
		"hourly across dst": {
			Definition: model.TaskDefinition{
				Cycle:               model.Cycle{Unit: model.CycleHour, Amount: 2, PerDay: 6, FirstHour: 0},
				DeactivateAfterDays: 3,
			},
			Subject: model.Subject{AnchorAt: &anchor},
			Study:   model.Study{Location: loc},
		},
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			first, err := New(logx.Nop(), clock).Compute(in)
			require.NoError(t, err)
			require.NotEmpty(t, first)
			for i := 0; i < 3; i++ {
				again, err := New(logx.Nop(), clock).Compute(in)
				require.NoError(t, err)
				require.Equal(t, first, again)
			}
		})
	}
}

package recurrence

import "time"

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

// atTimeOfDay places off (offset from midnight) on day's local wall clock.
func atTimeOfDay(day time.Time, off time.Duration) time.Time {
	y, m, d := day.Date()
	h := int(off / time.Hour)
	mi := int((off % time.Hour) / time.Minute)
	s := int((off % time.Minute) / time.Second)
	return time.Date(y, m, d, h, mi, s, 0, day.Location())
}

func atHour(day time.Time, hour int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, 0, 0, 0, day.Location())
}

// addMonths adds n months keeping the wall clock, clamping the day to the
// last day of the target month (Jan 31 + 1 month = Feb 28/29).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	firstOfTarget := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	ty, tm, _ := firstOfTarget.Date()
	if last := daysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// rollToWeekday moves t forward to the next wd; t is unchanged when it
// already falls on wd. It never moves backward.
func rollToWeekday(t time.Time, wd time.Weekday) time.Time {
	delta := (int(wd) - int(t.Weekday()) + 7) % 7
	if delta == 0 {
		return t
	}
	return t.AddDate(0, 0, delta)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

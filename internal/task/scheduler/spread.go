package scheduler

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule overrides the first trigger and then follows base.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// spreadInterval delays the first run of an interval by a random offset of
// at most min(every, 30s), seeded by the schedule name.
func spreadInterval(every time.Duration, now time.Time, name string) cron.Schedule {
	base := cron.Every(every)
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewSource(now.UnixNano() ^ int64(h.Sum64())))
	return &spreadSchedule{base: base, first: now.Add(every + time.Duration(rng.Int63n(int64(window))))}
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"taskcycle/internal/task/engine"
	logx "taskcycle/pkg/logx"
)

type recordingEngine struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
}

func (e *recordingEngine) Enqueue(t engine.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, t)
	return e.err
}

func noop(context.Context) error { return nil }

func TestScheduleInTimezone(t *testing.T) {
	s := New(Config{Enabled: true, Timezone: "Europe/Berlin"}, &recordingEngine{}, logx.Nop())
	if err := s.AddSchedule("sweep", "5 * * * *", time.Minute, noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if snap.Timezone != "Europe/Berlin" || len(snap.Schedules) != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
	next := snap.Schedules[0].Next
	if next.IsZero() || next.Minute() != 5 || next.Second() != 0 {
		t.Fatalf("next run: %s", next)
	}
	if next.Location().String() != "Europe/Berlin" {
		t.Fatalf("next run not in scheduler zone: %s", next.Location())
	}
}

func TestAddReplacesByName(t *testing.T) {
	s := New(Config{Enabled: true}, &recordingEngine{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.AddSchedule("prune", "0 3 * * *", 0, noop)
	_ = s.AddDaily("prune", "04:30", 0, noop)
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "30 4 * * *" {
		t.Fatalf("schedules: %+v", snap.Schedules)
	}
	if !s.Remove("prune") || s.Remove("prune") {
		t.Fatalf("remove should succeed exactly once")
	}
}

func TestAddRejectsBadCron(t *testing.T) {
	s := New(Config{}, nil, logx.Nop())
	if err := s.AddSchedule("bad", "61 * * * *", 0, noop); err == nil {
		t.Fatalf("expected cron parse error")
	}
	if err := s.AddSchedule("", "5 * * * *", 0, noop); err == nil {
		t.Fatalf("expected name error")
	}
}

func TestTriggerEnqueuesNow(t *testing.T) {
	eng := &recordingEngine{}
	s := New(Config{}, eng, logx.Nop())
	_ = s.AddSchedule("sweep", "5 * * * *", 30*time.Second, noop)

	if err := s.Trigger("sweep"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(eng.tasks) != 1 || eng.tasks[0].Name != "sweep" || eng.tasks[0].Timeout != 30*time.Second {
		t.Fatalf("tasks: %+v", eng.tasks)
	}
	if err := s.Trigger("missing"); err == nil {
		t.Fatalf("expected not found")
	}

	eng.err = engine.ErrOverlapSkip
	if err := s.Trigger("sweep"); !errors.Is(err, engine.ErrOverlapSkip) {
		t.Fatalf("got %v", err)
	}
}

func TestSpreadIntervalFirstRun(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	sched := spreadInterval(time.Minute, now, "notifier.prune")
	first := sched.Next(now)
	if first.Before(now.Add(time.Minute)) || !first.Before(now.Add(time.Minute+maxStartupSpread)) {
		t.Fatalf("first run outside spread window: %s", first)
	}
	if second := sched.Next(first); second.Sub(first) != time.Minute {
		t.Fatalf("interval not kept after first run: %s", second.Sub(first))
	}
}

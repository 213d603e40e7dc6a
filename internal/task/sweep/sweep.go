// Package sweep advances task instances through their lifecycle in periodic
// batches.
//
// A run loads every eligible instance, decides each one's next status, and
// writes all decisions plus their side effects (answer copy-forward on
// finalization, reminder and queue cleanup on expiration) in one
// transaction. Lifecycle events are published only after that transaction
// commits; a publish failure is logged and never undoes the commit.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/uber-go/tally/v4"

	"taskcycle/internal/eventbus"
	"taskcycle/internal/model"
	"taskcycle/internal/storage"
	"taskcycle/internal/task/lifecycle"
	logx "taskcycle/pkg/logx"
)

// ErrInProgress is returned when Run is called while another run is active.
var ErrInProgress = errors.New("sweep already in progress")

// Metric names, relative to the scope handed to New.
const (
	MetricActivated = "sweep.activated"
	MetricExpired   = "sweep.expired"
	MetricFinalized = "sweep.finalized"
	MetricFailed    = "sweep.failed"
	MetricLatency   = "sweep.latency"
)

// Result summarizes one run.
type Result struct {
	Scanned   int
	Activated int
	Expired   int
	Finalized int
	// Stale counts decisions whose row changed status before the write.
	Stale int

	AnswersCopied    int
	SchedulesDeleted int

	At   time.Time
	Took time.Duration
}

// Changed is the number of instances whose status was written.
func (r Result) Changed() int { return r.Activated + r.Expired + r.Finalized }

type Sweeper struct {
	uow   UnitOfWork
	pub   Publisher
	log   logx.Logger
	now   func() time.Time
	scope tally.Scope

	running atomic.Bool
}

type Option func(*Sweeper)

// WithClock overrides the sweep's notion of "now".
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func WithScope(scope tally.Scope) Option {
	return func(s *Sweeper) {
		if scope != nil {
			s.scope = scope
		}
	}
}

func New(uow UnitOfWork, pub Publisher, log logx.Logger, opts ...Option) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sweeper{
		uow:   uow,
		pub:   pub,
		log:   log.With(logx.String("comp", "sweep")),
		now:   time.Now,
		scope: tally.NoopScope,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type announcement struct {
	topic string
	ev    model.LifecycleEvent
}

// Run performs one sweep. Any storage failure rolls back the whole batch and
// is returned; the caller retries on its next tick.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Result{}, ErrInProgress
	}
	defer s.running.Store(false)

	now := s.now()
	started := time.Now()

	var (
		res     Result
		pending []announcement
	)
	err := s.uow.WithTx(ctx, func(tx storage.Tx) error {
		res, pending = Result{At: now}, nil

		eligible, err := tx.LoadEligibleInstances(ctx, now)
		if err != nil {
			return err
		}
		res.Scanned = len(eligible)

		var (
			decisions []lifecycle.Decision
			updates   []model.StatusUpdate
		)
		byID := make(map[string]model.EligibleInstance, len(eligible))
		for _, inst := range eligible {
			d, ok := lifecycle.Decide(inst, now)
			if !ok {
				continue
			}
			decisions = append(decisions, d)
			updates = append(updates, d.Update())
			byID[inst.ID] = inst
		}
		if len(updates) == 0 {
			return nil
		}

		applied, err := tx.SaveInstanceStatuses(ctx, updates)
		if err != nil {
			return err
		}
		done := make(map[string]struct{}, len(applied))
		for _, id := range applied {
			done[id] = struct{}{}
		}

		var finalized, expired []string
		for _, d := range decisions {
			if _, ok := done[d.InstanceID]; !ok {
				res.Stale++
				continue
			}
			inst := byID[d.InstanceID]
			switch d.Action {
			case lifecycle.ActionActivate:
				res.Activated++
				pending = append(pending, announcement{eventbus.TopicInstanceActivated, lifecycleEvent(inst, d.To, now)})
			case lifecycle.ActionExpire:
				res.Expired++
				expired = append(expired, d.InstanceID)
				pending = append(pending, announcement{eventbus.TopicInstanceExpired, lifecycleEvent(inst, d.To, now)})
			case lifecycle.ActionFinalize:
				res.Finalized++
				finalized = append(finalized, d.InstanceID)
			}
		}

		if len(finalized) > 0 {
			n, err := tx.CopyAnswersForward(ctx, finalized)
			if err != nil {
				return fmt.Errorf("finalize %d instances: %w", len(finalized), err)
			}
			res.AnswersCopied = n
		}
		if len(expired) > 0 {
			n, err := tx.DeletePendingSchedulesAndQueueEntries(ctx, expired)
			if err != nil {
				return fmt.Errorf("clean up %d expired instances: %w", len(expired), err)
			}
			res.SchedulesDeleted = n
		}
		return nil
	})
	res.Took = time.Since(started)
	s.scope.Timer(MetricLatency).Record(res.Took)

	if err != nil {
		s.scope.Counter(MetricFailed).Inc(1)
		s.log.Warn("sweep rolled back", logx.Err(err), logx.Duration("took", res.Took))
		return Result{At: now, Took: res.Took}, fmt.Errorf("sweep: %w", err)
	}

	s.scope.Counter(MetricActivated).Inc(int64(res.Activated))
	s.scope.Counter(MetricExpired).Inc(int64(res.Expired))
	s.scope.Counter(MetricFinalized).Inc(int64(res.Finalized))

	for _, a := range pending {
		if s.pub == nil {
			break
		}
		if err := s.pub.Publish(ctx, a.topic, a.ev); err != nil {
			s.log.Warn("publish lifecycle event failed",
				logx.String("topic", a.topic),
				logx.String("instance", a.ev.InstanceID),
				logx.Err(err),
			)
		}
	}

	if res.Changed() > 0 || res.Stale > 0 {
		s.log.Info("sweep done",
			logx.Int("scanned", res.Scanned),
			logx.Int("activated", res.Activated),
			logx.Int("expired", res.Expired),
			logx.Int("finalized", res.Finalized),
			logx.Int("stale", res.Stale),
			logx.Duration("took", res.Took),
		)
	} else {
		s.log.Debug("sweep done", logx.Int("scanned", res.Scanned), logx.Duration("took", res.Took))
	}
	return res, nil
}

// Running reports whether a run is in progress.
func (s *Sweeper) Running() bool { return s.running.Load() }

func lifecycleEvent(inst model.EligibleInstance, status model.Status, at time.Time) model.LifecycleEvent {
	return model.LifecycleEvent{
		InstanceID:   inst.ID,
		DefinitionID: inst.DefinitionID,
		SubjectID:    inst.SubjectID,
		StudyID:      inst.StudyID,
		Status:       status,
		IssuedAt:     inst.IssuedAt,
		At:           at,
	}
}

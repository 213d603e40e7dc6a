package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"taskcycle/internal/eventbus"
	"taskcycle/internal/model"
	rtsup "taskcycle/internal/runtime/supervisor"
	"taskcycle/internal/storage"
	logx "taskcycle/pkg/logx"
)

const writeTimeout = 5 * time.Second

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDs(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log   logx.Logger
	store Store
	bus   eventbus.Bus
	now   func() time.Time
	newID func() string

	sup   *rtsup.Supervisor
	unsub func()

	handled   atomic.Int64
	reminders atomic.Int64
	failed    atomic.Int64
}

func New(cfg Config, store Store, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log.With(logx.String("comp", "notifier")),
		store: store,
		bus:   bus,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps offsets, retention and rate. Worker count and queue size take
// effect on the next Start; toggling Enabled starts or stops the service.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	running := s.sup != nil
	s.applyLocked(cfg)
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case !running && cfg.Enabled:
		s.Start(ctx)
	}
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.EventRetention <= 0 {
		cfg.EventRetention = 30 * 24 * time.Hour
	}
	s.cfg = cfg
	// Burst equals the per-second rate so one sweep's worth of events flows
	// without waiting.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start subscribes to the bus and launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled || s.bus == nil || s.store == nil {
		return
	}

	ch, unsub := s.bus.Subscribe(s.cfg.QueueSize)
	s.unsub = unsub
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Reminder failures must not take the service down.
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			if s.workerLoop(c, ch) {
				return context.Canceled
			}
			return c.Err()
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop unsubscribes and lets the workers drain what is already buffered,
// bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, unsub := s.sup, s.unsub
	s.sup, s.unsub = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	unsub()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("notifier stop timed out; abandoning buffered events", logx.Err(err))
	}
	sup.Cancel()
	s.log.Info("notifier stopped")
}

func (s *Service) Stats() Stats {
	return Stats{Handled: s.handled.Load(), Reminders: s.reminders.Load(), Failed: s.failed.Load()}
}

// workerLoop reports true when the subscription was closed.
func (s *Service) workerLoop(ctx context.Context, ch <-chan eventbus.Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return true
			}
			if err := s.Handle(ctx, ev); err != nil {
				s.failed.Add(1)
				s.log.Warn("event handling failed", logx.String("topic", ev.Topic), logx.Err(err))
			}
		}
	}
}

// Handle persists one bus event. Events that are not lifecycle events are
// ignored.
func (s *Service) Handle(ctx context.Context, ev eventbus.Event) error {
	le, ok := ev.Data.(model.LifecycleEvent)
	if !ok {
		return nil
	}

	s.mu.Lock()
	lim := s.limiter
	offsets := append([]time.Duration(nil), s.cfg.ReminderOffsets...)
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	at := le.At
	if at.IsZero() {
		at = s.now()
	}
	if err := s.store.AppendEvent(wctx, model.EventRecord{
		ID:         s.newID(),
		Topic:      ev.Topic,
		InstanceID: le.InstanceID,
		SubjectID:  le.SubjectID,
		StudyID:    le.StudyID,
		Status:     le.Status,
		At:         at,
	}); err != nil {
		return fmt.Errorf("append event %s: %w", le.InstanceID, err)
	}
	s.handled.Add(1)

	if ev.Topic != eventbus.TopicInstanceActivated {
		return nil
	}

	issued := le.IssuedAt
	if issued.IsZero() {
		issued = at
	}
	var errs []error
	for _, off := range offsets {
		err := s.store.AddReminder(wctx, model.Reminder{
			ID:         s.newID(),
			InstanceID: le.InstanceID,
			SubjectID:  le.SubjectID,
			RemindAt:   issued.Add(off),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("reminder +%s: %w", off, err))
			continue
		}
		s.reminders.Add(1)
	}

	payload, err := json.Marshal(le)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if err := s.store.EnqueueDelivery(wctx, storage.Delivery{
		ID:         s.newID(),
		InstanceID: le.InstanceID,
		SubjectID:  le.SubjectID,
		Topic:      ev.Topic,
		Payload:    string(payload),
		EnqueuedAt: s.now(),
	}); err != nil {
		errs = append(errs, fmt.Errorf("enqueue delivery %s: %w", le.InstanceID, err))
	}
	if len(errs) == 0 {
		s.log.Debug("reminders scheduled",
			logx.String("instance", le.InstanceID),
			logx.Int("count", len(offsets)),
		)
	}
	return errors.Join(errs...)
}

// Prune drops event history older than the configured retention.
func (s *Service) Prune(ctx context.Context) error {
	s.mu.Lock()
	keep := s.cfg.EventRetention
	s.mu.Unlock()

	before := s.now().Add(-keep)
	n, err := s.store.PruneEvents(ctx, before)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("event history pruned", logx.Int("removed", n), logx.Time("before", before))
	}
	return nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	logx "taskcycle/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, stopCh, qt, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	defer qt.releaseState()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay}
	tagged := s.scope.Tagged(map[string]string{"task": qt.task.Name})

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && queueDelay > maxDelay {
		s.droppedStale.Add(1)
		s.scope.Tagged(map[string]string{"task": qt.task.Name, "reason": "stale"}).Counter("dropped").Inc(1)
		s.log.Warn("task dropped: stale queue", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
		item.Error = "stale_queue_delay"
		s.record(item)
		return
	}

	s.log.Debug("task started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))

	var err error
	maxAttempts := 1 + max(qt.opt.RetryMax, 0)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		item.Attempts = attempt
		err = s.attempt(ctx, qt)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoffDelay(qt.opt, attempt, err, rng)
		s.log.Debug("task retry scheduled",
			logx.String("task", qt.task.Name),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		if werr := sleep(ctx, stopCh, delay); werr != nil {
			err = werr
			break
		}
	}

	item.Duration = time.Since(start)
	tagged.Timer("latency").Record(item.Duration)
	if err != nil {
		item.Error = err.Error()
		tagged.Counter("failed").Inc(1)
		s.log.Warn("task failed",
			logx.String("task", qt.task.Name),
			logx.Err(err),
			logx.Duration("dur", item.Duration),
			logx.Int("attempts", item.Attempts),
		)
	} else {
		tagged.Counter("completed").Inc(1)
		s.log.Debug("task completed",
			logx.String("task", qt.task.Name),
			logx.Duration("dur", item.Duration),
			logx.Int("attempts", item.Attempts),
		)
	}
	s.record(item)
}

// attempt runs the task once under its timeout, turning a panic into an error.
func (s *Service) attempt(ctx context.Context, qt queuedTask) (err error) {
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack())
		}
	}()
	return qt.task.Run(ctx)
}

func sleep(ctx context.Context, stopCh <-chan struct{}, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return ErrStopping
	case <-t.C:
		return nil
	}
}

// backoffDelay doubles from RetryBase per attempt, honors a RetryAfter hint,
// applies jitter and caps at RetryMaxDelay.
func backoffDelay(opt TaskOptions, attempt int, err error, rng *rand.Rand) time.Duration {
	var d time.Duration
	var ra RetryAfterError
	if errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = opt.RetryBase
		for i := 1; i < attempt && d < opt.RetryMaxDelay; i++ {
			d *= 2
		}
	}
	d = min(d, opt.RetryMaxDelay)
	if opt.RetryJitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * opt.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
	}
	return min(max(d, 0), opt.RetryMaxDelay)
}

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"taskcycle/internal/model"
	logx "taskcycle/pkg/logx"
)

// ErrDropped is returned when every subscriber dropped an event.
var ErrDropped = errors.New("event dropped by all subscribers")

// Publisher adapts a Bus to the lifecycle-event collaborator contract. It
// retries an event that no subscriber accepted, pacing attempts with a
// token-bucket limiter.
type Publisher struct {
	bus     Bus
	log     logx.Logger
	retries int
	limiter *rate.Limiter
}

type PublisherOption func(*Publisher)

// WithRetries sets the number of retries after the first attempt.
func WithRetries(n int) PublisherOption {
	return func(p *Publisher) {
		if n >= 0 {
			p.retries = n
		}
	}
}

// WithRetryInterval sets the minimum spacing between retry attempts.
func WithRetryInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func NewPublisher(bus Bus, log logx.Logger, opts ...PublisherOption) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Publisher{
		bus:     bus,
		log:     log.With(logx.String("comp", "publisher")),
		retries: 3,
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Publish delivers ev on topic. Having no subscribers is not an error.
func (p *Publisher) Publish(ctx context.Context, topic string, ev model.LifecycleEvent) error {
	if p == nil || p.bus == nil {
		return nil
	}
	e := Event{Topic: topic, Time: ev.At, Data: ev}

	for attempt := 0; ; attempt++ {
		d := p.bus.Publish(e)
		if d.Delivered > 0 || d.Dropped == 0 {
			return nil
		}
		if attempt >= p.retries {
			return fmt.Errorf("%w: topic=%s instance=%s attempts=%d", ErrDropped, topic, ev.InstanceID, attempt+1)
		}
		p.log.Debug("publish retry",
			logx.String("topic", topic),
			logx.String("instance", ev.InstanceID),
			logx.Int("attempt", attempt+1),
		)
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
}

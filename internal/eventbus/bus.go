package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle topics.
const (
	TopicInstanceActivated = "instance-activated"
	TopicInstanceExpired   = "instance-expired"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Topic string
	Time  time.Time
	Data  any
}

// Delivery reports what a single Publish reached.
type Delivery struct {
	Delivered int
	Dropped   int
}

type Bus interface {
	Publish(e Event) Delivery
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) Delivery {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	var d Delivery
	for _, ch := range chs {
		// A concurrent unsubscribe may close ch; recover from the send panic.
		ok := func() (sent bool) {
			defer func() {
				if recover() != nil {
					sent = false
				}
			}()
			select {
			case ch <- e:
				return true
			default:
				return false
			}
		}()
		if ok {
			d.Delivered++
		} else {
			d.Dropped++
		}
	}
	return d
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

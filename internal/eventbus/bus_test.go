package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskcycle/internal/model"
	logx "taskcycle/pkg/logx"
)

func TestBusFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	d := b.Publish(Event{Topic: TopicInstanceActivated, Data: 1})
	if d.Delivered != 2 || d.Dropped != 0 {
		t.Fatalf("unexpected delivery %+v", d)
	}
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Topic != TopicInstanceActivated || e.Time.IsZero() {
			t.Fatalf("unexpected event %+v", e)
		}
	}
}

func TestBusDropsOnFullSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Topic: "x"})
	d := b.Publish(Event{Topic: "x"})
	if d.Delivered != 0 || d.Dropped != 1 {
		t.Fatalf("expected a drop, got %+v", d)
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if d := b.Publish(Event{Topic: "x"}); d.Delivered != 0 || d.Dropped != 0 {
		t.Fatalf("unsubscribed channel still counted: %+v", d)
	}
}

func TestPublisherNoSubscribers(t *testing.T) {
	p := NewPublisher(New(), logx.Nop())
	if err := p.Publish(context.Background(), TopicInstanceExpired, model.LifecycleEvent{InstanceID: "i1"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestPublisherRetriesThenFails(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Topic: "fill"})

	p := NewPublisher(b, logx.Nop(), WithRetries(2), WithRetryInterval(time.Millisecond))
	err := p.Publish(context.Background(), TopicInstanceActivated, model.LifecycleEvent{InstanceID: "i1"})
	if !errors.Is(err, ErrDropped) {
		t.Fatalf("expected ErrDropped, got %v", err)
	}
}

func TestPublisherRetrySucceedsOnceDrained(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Topic: "fill"})

	go func() {
		time.Sleep(5 * time.Millisecond)
		<-ch
	}()

	p := NewPublisher(b, logx.Nop(), WithRetries(50), WithRetryInterval(2*time.Millisecond))
	ev := model.LifecycleEvent{InstanceID: "i1", Status: model.StatusDue}
	if err := p.Publish(context.Background(), TopicInstanceActivated, ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	got := <-ch
	if got.Topic != TopicInstanceActivated || got.Data.(model.LifecycleEvent).InstanceID != "i1" {
		t.Fatalf("unexpected event %+v", got)
	}
}

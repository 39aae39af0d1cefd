package events

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu  sync.Mutex
	got []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.got = append(r.got, ev)
	r.mu.Unlock()
}

func (r *recorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.got))
	copy(out, r.got)
	return out
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(nil)
	var rec recorder
	bus.Subscribe("rec", rec.handle)

	for i := uint64(1); i <= 100; i++ {
		bus.Publish(New(KindActor, i, time.Time{}, "tick"))
	}
	bus.Close()

	got := rec.events()
	if len(got) != 100 {
		t.Fatalf("received %d events, want 100", len(got))
	}
	for i, ev := range got {
		if ev.Tick != uint64(i+1) {
			t.Fatalf("event %d has tick %d, want %d", i, ev.Tick, i+1)
		}
	}
	if bus.Published() != 100 {
		t.Errorf("Published() = %d, want 100", bus.Published())
	}
}

func TestBusPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus(nil)
	release := make(chan struct{})
	bus.Subscribe("slow", func(Event) { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(New(KindColony, uint64(i), time.Time{}, "x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)
	bus.Close()
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := NewBus(nil)
	var rec recorder
	bus.Subscribe("panicky", func(ev Event) {
		if ev.Tick == 1 {
			panic("boom")
		}
		rec.handle(ev)
	})

	bus.Publish(New(KindActor, 1, time.Time{}, "a"), New(KindActor, 2, time.Time{}, "b"))
	bus.Close()

	got := rec.events()
	if len(got) != 1 || got[0].Tick != 2 {
		t.Fatalf("got %+v, want only the tick-2 event", got)
	}
}

func TestBusUnsubscribeAndClose(t *testing.T) {
	bus := NewBus(nil)
	var rec recorder
	unsubscribe := bus.Subscribe("rec", rec.handle)
	if bus.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", bus.Subscribers())
	}

	unsubscribe()
	unsubscribe()
	bus.Publish(New(KindStarted, 0, time.Time{}, "ignored"))
	if bus.Subscribers() != 0 {
		t.Fatalf("Subscribers() = %d, want 0", bus.Subscribers())
	}

	bus.Close()
	bus.Close()
	bus.Publish(New(KindStopped, 0, time.Time{}, "after close"))
	if len(rec.events()) != 0 {
		t.Errorf("unsubscribed handler received %d events", len(rec.events()))
	}

	// Subscribing to a closed bus returns a harmless no-op.
	bus.Subscribe("late", rec.handle)()
}

func TestKindIsLifecycle(t *testing.T) {
	for _, k := range []Kind{KindStarted, KindStopped, KindPaused, KindResumed, KindCompleted, KindFailed} {
		if !k.IsLifecycle() {
			t.Errorf("%s should be a lifecycle kind", k)
		}
	}
	for _, k := range []Kind{KindActor, KindColony, KindSaveRequested} {
		if k.IsLifecycle() {
			t.Errorf("%s should not be a lifecycle kind", k)
		}
	}
}

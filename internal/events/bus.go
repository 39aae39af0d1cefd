package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler receives published events in publication order.
type Handler func(Event)

// Bus fans events out to subscribers. Publish never waits for a handler:
// each subscriber owns an unbounded FIFO drained by its own goroutine, so
// a slow or failing subscriber cannot stall the publisher.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*subscriber
	closed bool

	published atomic.Uint64
}

// NewBus creates an event bus. A nil logger uses slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler and returns a function that removes it.
// Events already queued for the handler are still delivered after removal.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	s := newSubscriber(name, h, b.logger)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.close()
		return func() {}
	}
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(s)
			s.close()
		})
	}
}

// Publish enqueues events for every subscriber, preserving order.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(evs ...Event) {
	if len(evs) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.enqueue(evs)
	}
	b.published.Add(uint64(len(evs)))
}

// Published returns the total number of events accepted by Publish.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops accepting events and waits for every subscriber to drain
// what it has already been given.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	for _, s := range subs {
		<-s.done
	}
}

func (b *Bus) remove(target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

type subscriber struct {
	name    string
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool

	done chan struct{}
}

func newSubscriber(name string, h Handler, logger *slog.Logger) *subscriber {
	s := &subscriber{
		name:    name,
		handler: h,
		logger:  logger,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) enqueue(evs []Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, evs...)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			s.deliver(ev)
		}
	}
}

func (s *subscriber) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event subscriber panicked",
				"subscriber", s.name,
				"kind", string(ev.Kind),
				"error", fmt.Sprint(r),
			)
		}
	}()
	s.handler(ev)
}

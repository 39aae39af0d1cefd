package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/talgya/hive-sim/internal/events"
	"github.com/talgya/hive-sim/internal/observability"
	"github.com/talgya/hive-sim/internal/scheduler"
	"github.com/talgya/hive-sim/internal/weather"
)

// Environment is the shared world the engine updates once per tick, before
// any bee runs.
type Environment interface {
	UpdateConditions(ctx context.Context, now time.Time) error
	Conditions() weather.Conditions
}

var (
	ErrNilState        = errors.New("engine: nil state")
	ErrNilEnvironment  = errors.New("engine: nil environment")
	ErrNilScheduler    = errors.New("engine: nil scheduler")
	ErrInvalidInterval = errors.New("engine: tick interval must be positive")
	ErrClosed          = errors.New("engine: closed")
	ErrEngineActive    = errors.New("engine: running or paused")
)

const tracerName = "github.com/talgya/hive-sim/internal/engine"

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics attaches a Prometheus collector.
func WithMetrics(m *observability.EngineCollector) Option { return func(e *Engine) { e.metrics = m } }

// WithTracer sets the tracer used for per-tick spans.
func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithBus publishes on an existing bus. The engine does not close it.
func WithBus(b *events.Bus) Option { return func(e *Engine) { e.bus = b } }

// WithClock sets the simulation clock.
func WithClock(c *Clock) Option { return func(e *Engine) { e.clock = c } }

// WithNow sets the wall clock used for auto-save cadence.
func WithNow(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithAutoSaveInterval sets how much wall time passes between SaveRequested
// events. Zero disables them.
func WithAutoSaveInterval(d time.Duration) Option { return func(e *Engine) { e.autoSave = d } }

// Engine drives the simulation forward. One background loop runs ticks
// strictly one after another; Start, Pause, Resume and Stop may be called
// from any goroutine.
type Engine struct {
	state *State
	env   Environment
	sched *scheduler.ActivityScheduler
	clock *Clock
	bus   *events.Bus

	ownsBus  bool
	logger   *slog.Logger
	metrics  *observability.EngineCollector
	tracer   trace.Tracer
	now      func() time.Time
	autoSave time.Duration

	mu     sync.Mutex // Guards the loop handle below
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	closed bool

	pubMu sync.Mutex // Serializes publication so the ring and the bus agree on order

	buf []events.Event // Loop goroutine only
}

// New creates an engine over state. The environment is recorded in state.
func New(state *State, env Environment, sched *scheduler.ActivityScheduler, opts ...Option) (*Engine, error) {
	switch {
	case state == nil:
		return nil, ErrNilState
	case env == nil:
		return nil, ErrNilEnvironment
	case sched == nil:
		return nil, ErrNilScheduler
	}

	e := &Engine{state: state, env: env, sched: sched}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = NewClock(DefaultEpoch, DefaultSimStep)
	}
	if e.bus == nil {
		e.bus = events.NewBus(e.logger)
		e.ownsBus = true
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.now == nil {
		e.now = time.Now
	}

	state.mu.Lock()
	state.env = env
	status := state.status
	state.mu.Unlock()
	e.metrics.SetStatus(int(status))

	return e, nil
}

// State returns the shared simulation state.
func (e *Engine) State() *State { return e.state }

// Clock returns the simulation clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Bus returns the event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Status returns the lifecycle status.
func (e *Engine) Status() Status { return e.state.Status() }

// Subscribe registers an event handler on the engine's bus.
func (e *Engine) Subscribe(name string, h events.Handler) (unsubscribe func()) {
	return e.bus.Subscribe(name, h)
}

// AddColony adds a colony. It is safe to call while the loop runs; the
// colony joins at the next tick.
func (e *Engine) AddColony(c Entity) error {
	if err := e.state.Add(c); err != nil {
		return err
	}
	e.logger.Info("colony added", "colony", c.Name(), "id", c.ID(), "bees", c.LivingCount())
	return nil
}

// RemoveColony removes a colony by ID and reports whether it was present.
func (e *Engine) RemoveColony(id string) bool {
	ok := e.state.Remove(id)
	if ok {
		e.logger.Info("colony removed", "id", id)
	}
	return ok
}

// ResetClock rewinds the clock and the state's tick counter to 0. It
// refuses while a loop is active.
func (e *Engine) ResetClock() error {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()
	if e.state.status.Active() {
		return ErrEngineActive
	}
	e.clock.Reset()
	e.state.ticks = 0
	return nil
}

// Snapshot copies the state together with the clock position. Both are
// read under the lock the tick loop holds, so Ticks and ClockTick always
// describe the same tick.
func (e *Engine) Snapshot() Snapshot {
	e.state.mu.RLock()
	defer e.state.mu.RUnlock()
	snap := e.state.snapshotLocked()
	snap.ClockTick = e.clock.CurrentTick()
	snap.SimTime = e.clock.CurrentTime()
	return snap
}

// Start launches the tick loop. The first tick runs immediately, then once
// per interval. Starting an active or finished engine logs a warning and
// does nothing. Cancelling ctx stops the loop like Stop.
func (e *Engine) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	e.state.mu.Lock()
	status := e.state.status
	if status != StatusStopped {
		e.state.mu.Unlock()
		e.logger.Warn("ignoring start", "status", status)
		return nil
	}
	e.state.status = StatusRunning
	e.state.mu.Unlock()

	// A loop that just stopped may still be finishing its exit path.
	if e.done != nil {
		<-e.done
		e.cancel()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.err = nil

	e.metrics.SetStatus(int(StatusRunning))
	e.publishLifecycle(events.KindStarted, fmt.Sprintf("simulation started, tick every %s", interval))
	e.logger.Info("simulation engine started", "tick", e.clock.CurrentTick(), "interval", interval)

	go e.loop(loopCtx, interval, e.done)
	return nil
}

// Pause suspends ticking. It reports whether the engine was running.
func (e *Engine) Pause() bool {
	return e.transition(StatusRunning, StatusPaused, events.KindPaused, "pause")
}

// Resume continues a paused engine. It reports whether the engine was paused.
func (e *Engine) Resume() bool {
	return e.transition(StatusPaused, StatusRunning, events.KindResumed, "resume")
}

func (e *Engine) transition(from, to Status, kind events.Kind, op string) bool {
	e.state.mu.Lock()
	status := e.state.status
	if status != from {
		e.state.mu.Unlock()
		e.logger.Warn("ignoring "+op, "status", status)
		return false
	}
	e.state.status = to
	e.state.mu.Unlock()

	e.metrics.SetStatus(int(to))
	e.publishLifecycle(kind, "simulation "+to.String())
	e.logger.Info("simulation "+to.String(), "tick", e.clock.CurrentTick())
	return true
}

// Stop cancels the loop and waits for any in-flight tick to finish. It
// reports whether the engine was active and is now stopped.
func (e *Engine) Stop() bool {
	if status := e.state.Status(); !status.Active() {
		e.logger.Warn("ignoring stop", "status", status)
		return false
	}

	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return e.state.Status() == StatusStopped
}

// Wait blocks until the current loop exits and returns its error: nil for
// a stop or completion, the systemic failure otherwise.
func (e *Engine) Wait() error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Run starts the engine and blocks until it stops, completes or fails.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if err := e.Start(ctx, interval); err != nil {
		return err
	}
	return e.Wait()
}

// Close stops the loop and releases the engine. Further Starts return
// ErrClosed. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if e.ownsBus {
		e.bus.Close()
	}
	return nil
}

// loop runs ticks until cancelled, completed or failed.
func (e *Engine) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	// In-flight ticks drain to completion; only the wait observes ctx.
	tickCtx := context.WithoutCancel(ctx)
	lastSave := e.now()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			e.stopped()
			return
		}
		started := time.Now()

		completed, err := e.step(tickCtx)
		if err != nil {
			e.fail(err)
			return
		}
		if completed {
			e.logger.Info("simulation completed: no viable colonies", "tick", e.clock.CurrentTick())
			return
		}

		if e.autoSave > 0 && e.state.Status() == StatusRunning {
			if now := e.now(); now.Sub(lastSave) >= e.autoSave {
				lastSave = now
				e.state.mu.Lock()
				e.state.lastSave = now
				e.state.mu.Unlock()
				e.publishLifecycle(events.KindSaveRequested, "save requested")
			}
		}

		wait := interval - time.Since(started)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			e.stopped()
			return
		case <-timer.C:
		}
	}
}

// step runs one tick. While paused it does nothing. It reports whether the
// simulation completed.
func (e *Engine) step(ctx context.Context) (completed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.tick")
	defer span.End()

	res, err := e.advance(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	if res.skipped {
		span.SetAttributes(attribute.Bool("paused", true))
		return false, nil
	}

	// Publication happens outside the lock; subscribers may read state.
	e.publish(e.buf...)
	if res.completed {
		e.metrics.SetStatus(int(StatusCompleted))
		e.publishLifecycle(events.KindCompleted, "no viable colonies remain")
	}

	d := time.Since(start)
	e.metrics.ObserveTick(d)
	e.metrics.SetPopulation(res.colonies, res.viable, res.living)
	span.SetAttributes(
		attribute.Int64("tick", int64(res.tick)),
		attribute.Int("actors", res.actors),
		attribute.Int("failed", res.failed),
		attribute.Int("events", len(e.buf)),
	)
	e.logger.Debug("tick complete",
		"tick", res.tick,
		"actors", res.actors,
		"failed", res.failed,
		"living", res.living,
		"viable", res.viable,
		"duration", d,
	)
	return res.completed, nil
}

type tickResult struct {
	skipped   bool
	completed bool
	tick      uint64
	actors    int
	failed    int
	colonies  int
	viable    int
	living    int
}

// advance holds the state lock from the clock advance through settlement,
// so status changes and colony add/remove never interleave with a tick.
func (e *Engine) advance(ctx context.Context) (tickResult, error) {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()

	var res tickResult
	if e.state.status != StatusRunning {
		res.skipped = true
		return res, nil
	}

	res.tick = e.clock.AdvanceTick()
	e.state.ticks++
	now := e.clock.CurrentTime()

	if err := e.env.UpdateConditions(ctx, now); err != nil {
		return res, fmt.Errorf("tick %d: update conditions: %w", res.tick, err)
	}
	env := e.env.Conditions()

	e.buf = e.buf[:0]

	colonies := e.state.colonies
	var actors []scheduler.Actor
	for _, c := range colonies {
		actors = append(actors, c.Actors()...)
	}
	batch, err := e.sched.RunBatch(ctx, scheduler.Batch{Tick: res.tick, Env: env, Actors: actors})
	res.actors = batch.Updated
	res.failed = batch.Failed()
	if err != nil {
		return res, fmt.Errorf("tick %d: %w", res.tick, err)
	}

	var paths []scheduler.PathRequest
	for _, c := range colonies {
		paths = append(paths, c.PathRequests()...)
	}
	if len(paths) > 0 {
		moved, err := e.sched.RunPathing(ctx, paths)
		res.failed += len(moved.Failures)
		if err != nil {
			return res, fmt.Errorf("tick %d: %w", res.tick, err)
		}
	}

	for _, c := range colonies {
		e.buf = append(e.buf, c.Settle(res.tick, env)...)
	}

	res.colonies = len(colonies)
	res.viable = e.state.viableLocked()
	res.living = e.state.livingLocked()
	if res.viable == 0 {
		e.state.status = StatusCompleted
		res.completed = true
	}
	return res, nil
}

// stopped handles cancellation: a clean stop, never an error.
func (e *Engine) stopped() {
	e.state.mu.Lock()
	if e.state.status.Active() {
		e.state.status = StatusStopped
	}
	status := e.state.status
	e.state.mu.Unlock()

	if status != StatusStopped {
		return
	}
	e.metrics.SetStatus(int(StatusStopped))
	e.publishLifecycle(events.KindStopped, "simulation stopped")
	e.logger.Info("simulation engine stopped", "tick", e.clock.CurrentTick())
}

// fail records a systemic error and moves the engine to Error.
func (e *Engine) fail(err error) {
	e.state.mu.Lock()
	e.state.status = StatusError
	e.state.mu.Unlock()

	e.mu.Lock()
	e.err = err
	e.mu.Unlock()

	e.metrics.SetStatus(int(StatusError))
	e.publishLifecycle(events.KindFailed, err.Error())
	e.logger.Error("simulation failed", "tick", e.clock.CurrentTick(), "error", err)
}

func (e *Engine) publishLifecycle(kind events.Kind, msg string) {
	e.publish(events.New(kind, e.clock.CurrentTick(), e.clock.CurrentTime(), msg))
}

func (e *Engine) publish(evs ...events.Event) {
	if len(evs) == 0 {
		return
	}
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.state.remember(evs)
	e.bus.Publish(evs...)

	counts := make(map[events.Kind]int, 2)
	for _, ev := range evs {
		counts[ev.Kind]++
	}
	for k, n := range counts {
		e.metrics.AddEvents(string(k), n)
	}
}

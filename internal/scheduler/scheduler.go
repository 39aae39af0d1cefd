// Package scheduler runs one tick's worth of actor updates on a bounded
// worker pool.
//
// Every unit of work holds one slot of a weighted semaphore while it runs,
// so no more than MaxConcurrency updates are ever in flight for a
// scheduler, across all batches it is running. A failing actor (error or
// panic) is logged and counted; it never aborts its siblings. RunBatch and
// RunPathing return only after every launched unit has finished.
package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/talgya/hive-sim/internal/observability"
	"github.com/talgya/hive-sim/internal/weather"
)

// Activity is what an actor receives for its one update per tick.
type Activity struct {
	Tick uint64
	Env  weather.Conditions
	// Rand is private to this update; it is seeded from the scheduler seed,
	// the tick and the actor ID.
	Rand *rand.Rand
}

// Actor is the capability the scheduler drives. PerformActivity may mutate
// only the actor's own state.
type Actor interface {
	ID() string
	Kind() string
	IsAlive() bool
	EnergyLevel() float64
	PerformActivity(ctx context.Context, act Activity) error
}

// Batch is one tick's set of actor updates.
type Batch struct {
	Tick   uint64
	Env    weather.Conditions
	Actors []Actor
}

// Failure describes one actor update that returned an error or panicked.
type Failure struct {
	ActorID string
	Kind    string
	Err     error
}

// BatchReport summarizes a completed batch.
type BatchReport struct {
	Submitted int
	Updated   int
	Skipped   int // Dead actors, not dispatched
	Failures  []Failure
	ByKind    map[string]int
	Duration  time.Duration
}

// Failed returns the number of failed units.
func (r BatchReport) Failed() int { return len(r.Failures) }

// Options configures an ActivityScheduler.
type Options struct {
	// MaxConcurrency bounds in-flight units. Zero means runtime.GOMAXPROCS(0).
	MaxConcurrency int
	// Seed feeds the per-unit random sources.
	Seed    uint64
	Logger  *slog.Logger
	Metrics *observability.SchedulerCollector
}

const (
	opBatch   = "batch"
	opPathing = "pathing"
)

// ActivityScheduler is a bounded-concurrency batch processor.
type ActivityScheduler struct {
	sem     *semaphore.Weighted
	max     int
	seed    uint64
	logger  *slog.Logger
	metrics *observability.SchedulerCollector
}

// New creates a scheduler.
func New(opts Options) *ActivityScheduler {
	slots := opts.MaxConcurrency
	if slots <= 0 {
		slots = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Metrics.SetMaxConcurrency(slots)

	return &ActivityScheduler{
		sem:     semaphore.NewWeighted(int64(slots)),
		max:     slots,
		seed:    opts.Seed,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// MaxConcurrency returns the configured slot count.
func (s *ActivityScheduler) MaxConcurrency() int {
	return s.max
}

// RunBatch invokes PerformActivity exactly once for every living actor in
// b. The returned error is non-nil only for systemic failures (a slot could
// not be acquired because ctx ended); units launched before that are still
// joined and reported.
func (s *ActivityScheduler) RunBatch(ctx context.Context, b Batch) (BatchReport, error) {
	start := time.Now()
	grouped, byKind := groupByKind(b.Actors)

	live := make([]Actor, 0, len(grouped))
	report := BatchReport{Submitted: len(b.Actors), ByKind: byKind}
	for _, a := range grouped {
		if !a.IsAlive() {
			report.Skipped++
			s.metrics.ObserveUpdate(a.Kind(), observability.OutcomeSkipped)
			continue
		}
		live = append(live, a)
	}

	results := make([]error, len(live))
	launched, err := s.dispatch(ctx, len(live), func(i int) {
		a := live[i]
		act := Activity{Tick: b.Tick, Env: b.Env, Rand: s.randFor(b.Tick, a.ID())}
		results[i] = s.isolate(a, opBatch, func() error {
			return a.PerformActivity(ctx, act)
		})
	})

	for i := 0; i < launched; i++ {
		if results[i] != nil {
			report.Failures = append(report.Failures, Failure{
				ActorID: live[i].ID(),
				Kind:    live[i].Kind(),
				Err:     results[i],
			})
			continue
		}
		report.Updated++
	}
	report.Duration = time.Since(start)
	s.metrics.ObserveBatch(opBatch, report.Duration)

	if len(report.Failures) > 0 {
		s.logger.Warn("batch completed with actor failures",
			"tick", b.Tick,
			"failed", len(report.Failures),
			"updated", report.Updated,
		)
	}
	if err != nil {
		return report, fmt.Errorf("run batch: %w", err)
	}
	return report, nil
}

// dispatch launches unit(i) for i in [0, n), one semaphore slot each, and
// waits for all launched units. It returns how many were launched.
func (s *ActivityScheduler) dispatch(ctx context.Context, n int, unit func(i int)) (int, error) {
	var wg sync.WaitGroup
	launched := 0
	var err error

	for i := 0; i < n; i++ {
		if aerr := s.sem.Acquire(ctx, 1); aerr != nil {
			err = fmt.Errorf("acquire slot: %w", aerr)
			break
		}
		s.metrics.SlotAcquired()
		launched++
		wg.Add(1)
		go func(i int) {
			defer func() {
				s.metrics.SlotReleased()
				s.sem.Release(1)
				wg.Done()
			}()
			unit(i)
		}(i)
	}

	wg.Wait()
	return launched, err
}

// isolate runs fn for actor a, converting a panic into an error. Failures
// are logged here; update outcomes are counted for batch units only.
func (s *ActivityScheduler) isolate(a Actor, op string, fn func() error) (err error) {
	observe := func(outcome string) {
		if op == opBatch {
			s.metrics.ObserveUpdate(a.Kind(), outcome)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			observe(observability.OutcomePanic)
			s.logger.Error("actor unit panicked", "op", op, "actor", a.ID(), "kind", a.Kind(), "error", err)
		}
	}()

	if err := fn(); err != nil {
		observe(observability.OutcomeError)
		s.logger.Warn("actor unit failed", "op", op, "actor", a.ID(), "kind", a.Kind(), "error", err)
		return err
	}
	observe(observability.OutcomeOK)
	return nil
}

func (s *ActivityScheduler) randFor(tick uint64, id string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(id))
	return rand.New(rand.NewPCG(s.seed^tick, h.Sum64()))
}

// groupByKind orders actors so each kind is contiguous, kinds in order of
// first appearance, and counts them. Order within a kind is preserved.
func groupByKind(actors []Actor) ([]Actor, map[string]int) {
	counts := make(map[string]int)
	var kinds []string
	for _, a := range actors {
		k := a.Kind()
		if counts[k] == 0 {
			kinds = append(kinds, k)
		}
		counts[k]++
	}
	if len(kinds) <= 1 {
		return actors, counts
	}

	byKind := make(map[string][]Actor, len(kinds))
	for _, a := range actors {
		byKind[a.Kind()] = append(byKind[a.Kind()], a)
	}
	out := make([]Actor, 0, len(actors))
	for _, k := range kinds {
		out = append(out, byKind[k]...)
	}
	return out, counts
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/talgya/hive-sim/internal/observability"
	"github.com/talgya/hive-sim/internal/world"
)

type fakeActor struct {
	id    string
	kind  string
	dead  bool
	fn    func(ctx context.Context, act Activity) error
	calls atomic.Int32

	pos    world.Vec2
	speed  float64
	energy float64
}

func (f *fakeActor) ID() string           { return f.id }
func (f *fakeActor) Kind() string         { return f.kind }
func (f *fakeActor) IsAlive() bool        { return !f.dead }
func (f *fakeActor) EnergyLevel() float64 { return f.energy }
func (f *fakeActor) Position() world.Vec2 { return f.pos }
func (f *fakeActor) SetPosition(p world.Vec2) {
	f.pos = p
}
func (f *fakeActor) BaseSpeed() float64 { return f.speed }

func (f *fakeActor) PerformActivity(ctx context.Context, act Activity) error {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, act)
	}
	return nil
}

func makeActors(n int, kind string, fn func(ctx context.Context, act Activity) error) []*fakeActor {
	out := make([]*fakeActor, n)
	for i := range out {
		out[i] = &fakeActor{id: fmt.Sprintf("%s-%d", kind, i), kind: kind, fn: fn, energy: 1}
	}
	return out
}

func asActors(fs []*fakeActor) []Actor {
	out := make([]Actor, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

func TestRunBatchNeverExceedsMaxConcurrency(t *testing.T) {
	const limit = 4
	var inFlight, peak atomic.Int32

	work := func(ctx context.Context, act Activity) error {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}

	s := New(Options{MaxConcurrency: limit})
	actors := makeActors(64, "worker", work)
	report, err := s.RunBatch(context.Background(), Batch{Tick: 1, Actors: asActors(actors)})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if report.Updated != 64 {
		t.Fatalf("Updated = %d, want 64", report.Updated)
	}
	if got := peak.Load(); got > limit {
		t.Fatalf("peak in-flight = %d, want <= %d", got, limit)
	}
	if got := peak.Load(); got < 2 {
		t.Errorf("peak in-flight = %d, expected some parallelism", got)
	}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	tests := []struct {
		name string
		fail func(ctx context.Context, act Activity) error
	}{
		{"error", func(context.Context, Activity) error { return errors.New("stung") }},
		{"panic", func(context.Context, Activity) error { panic("wing fell off") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			metrics, err := observability.NewSchedulerCollector(reg)
			if err != nil {
				t.Fatalf("NewSchedulerCollector: %v", err)
			}
			s := New(Options{MaxConcurrency: 8, Metrics: metrics})

			actors := makeActors(99, "worker", nil)
			bad := &fakeActor{id: "bad", kind: "worker", fn: tt.fail}
			all := append(asActors(actors[:50]), bad)
			all = append(all, asActors(actors[50:])...)

			report, err := s.RunBatch(context.Background(), Batch{Tick: 3, Actors: all})
			if err != nil {
				t.Fatalf("RunBatch returned error for a per-actor failure: %v", err)
			}
			if report.Submitted != 100 || report.Updated != 99 || report.Failed() != 1 {
				t.Fatalf("report = %+v, want 100 submitted, 99 updated, 1 failed", report)
			}
			if report.Failures[0].ActorID != "bad" {
				t.Errorf("failure actor = %q, want bad", report.Failures[0].ActorID)
			}
			for _, a := range actors {
				if a.calls.Load() != 1 {
					t.Fatalf("actor %s updated %d times, want 1", a.id, a.calls.Load())
				}
			}
			if got := testutil.ToFloat64(metrics.InFlight); got != 0 {
				t.Errorf("in-flight gauge = %v after batch, want 0 (slot leaked)", got)
			}
		})
	}
}

func TestRunBatchIsJoinBarrier(t *testing.T) {
	var finished atomic.Int32
	actors := makeActors(20, "worker", func(context.Context, Activity) error {
		time.Sleep(5 * time.Millisecond)
		finished.Add(1)
		return nil
	})

	s := New(Options{MaxConcurrency: 3})
	if _, err := s.RunBatch(context.Background(), Batch{Actors: asActors(actors)}); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if got := finished.Load(); got != 20 {
		t.Fatalf("RunBatch returned with %d of 20 units finished", got)
	}
}

func TestRunBatchSkipsDeadAndGroupsByKind(t *testing.T) {
	workers := makeActors(3, "worker", nil)
	drones := makeActors(2, "drone", nil)
	drones[1].dead = true
	queen := &fakeActor{id: "q", kind: "queen"}

	s := New(Options{MaxConcurrency: 2})
	all := []Actor{workers[0], drones[0], queen, workers[1], drones[1], workers[2]}
	report, err := s.RunBatch(context.Background(), Batch{Actors: all})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if report.Skipped != 1 || report.Updated != 5 {
		t.Fatalf("report = %+v, want 1 skipped, 5 updated", report)
	}
	if drones[1].calls.Load() != 0 {
		t.Error("dead actor was updated")
	}
	want := map[string]int{"worker": 3, "drone": 2, "queen": 1}
	for k, n := range want {
		if report.ByKind[k] != n {
			t.Errorf("ByKind[%s] = %d, want %d", k, report.ByKind[k], n)
		}
	}

	grouped, _ := groupByKind(all)
	kinds := make([]string, len(grouped))
	for i, a := range grouped {
		kinds[i] = a.Kind()
	}
	wantOrder := []string{"worker", "worker", "worker", "drone", "drone", "queen"}
	for i := range wantOrder {
		if kinds[i] != wantOrder[i] {
			t.Fatalf("grouped kinds = %v, want %v", kinds, wantOrder)
		}
	}
}

func TestRunBatchSystemicErrorStillJoins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var once sync.Once
	var finished atomic.Int32

	actors := makeActors(10, "worker", func(context.Context, Activity) error {
		once.Do(func() { close(started) })
		time.Sleep(20 * time.Millisecond)
		finished.Add(1)
		return nil
	})

	s := New(Options{MaxConcurrency: 1})
	go func() {
		<-started
		cancel()
	}()

	report, err := s.RunBatch(ctx, Batch{Actors: asActors(actors)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunBatch err = %v, want context.Canceled", err)
	}
	if int(finished.Load()) != report.Updated {
		t.Fatalf("finished %d units but report says %d updated", finished.Load(), report.Updated)
	}
	if report.Updated == 0 || report.Updated == 10 {
		t.Errorf("Updated = %d, expected a partial batch", report.Updated)
	}
}

func TestRunBatchRandIsDeterministic(t *testing.T) {
	draw := func() map[string]uint64 {
		var mu sync.Mutex
		got := make(map[string]uint64)
		actors := makeActors(10, "worker", nil)
		for _, a := range actors {
			a.fn = func(a *fakeActor) func(context.Context, Activity) error {
				return func(_ context.Context, act Activity) error {
					mu.Lock()
					got[a.id] = act.Rand.Uint64()
					mu.Unlock()
					return nil
				}
			}(a)
		}
		s := New(Options{MaxConcurrency: 4, Seed: 99})
		if _, err := s.RunBatch(context.Background(), Batch{Tick: 7, Actors: asActors(actors)}); err != nil {
			t.Fatalf("RunBatch: %v", err)
		}
		return got
	}

	a, b := draw(), draw()
	for id, v := range a {
		if b[id] != v {
			t.Fatalf("actor %s drew %d then %d; per-unit randomness is not reproducible", id, v, b[id])
		}
	}
	if a["worker-0"] == a["worker-1"] {
		t.Error("distinct actors drew identical values")
	}
}

func TestMovementBudget(t *testing.T) {
	tests := []struct {
		energy float64
		want   float64
	}{
		{1, 10},
		{0.5, 5},
		{0, 10 * MinEnergyFactor},
		{-3, 10 * MinEnergyFactor},
		{2, 10},
		{math.NaN(), 10 * MinEnergyFactor},
	}
	for _, tt := range tests {
		m := &fakeActor{speed: 10, energy: tt.energy}
		if got := MovementBudget(m); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("MovementBudget(energy=%v) = %v, want %v", tt.energy, got, tt.want)
		}
	}
}

func TestRunPathing(t *testing.T) {
	near := &fakeActor{id: "near", kind: "worker", speed: 10, energy: 1}
	far := &fakeActor{id: "far", kind: "worker", speed: 10, energy: 0.5}
	tired := &fakeActor{id: "tired", kind: "drone", speed: 10, energy: 0}
	dead := &fakeActor{id: "dead", kind: "worker", speed: 10, energy: 1, dead: true}

	s := New(Options{MaxConcurrency: 2})
	report, err := s.RunPathing(context.Background(), []PathRequest{
		{Mover: near, Destination: world.Vec2{X: 6, Y: 8}},
		{Mover: far, Destination: world.Vec2{X: 30, Y: 40}},
		{Mover: tired, Destination: world.Vec2{X: 100}},
		{Mover: dead, Destination: world.Vec2{X: 1}},
	})
	if err != nil {
		t.Fatalf("RunPathing: %v", err)
	}

	if near.pos != (world.Vec2{X: 6, Y: 8}) {
		t.Errorf("near mover at %v, want destination", near.pos)
	}
	if math.Abs(far.pos.X-3) > 1e-9 || math.Abs(far.pos.Y-4) > 1e-9 {
		t.Errorf("far mover at %v, want (3, 4)", far.pos)
	}
	if math.Abs(tired.pos.X-10*MinEnergyFactor) > 1e-9 {
		t.Errorf("tired mover at %v, want floor movement", tired.pos)
	}
	if dead.pos != (world.Vec2{}) {
		t.Errorf("dead mover moved to %v", dead.pos)
	}
	if report.Arrived != 1 || report.Moved != 2 || report.Skipped != 1 {
		t.Errorf("report = %+v, want 1 arrived, 2 moved, 1 skipped", report)
	}
}

func TestNewDefaultsConcurrency(t *testing.T) {
	if s := New(Options{}); s.MaxConcurrency() < 1 {
		t.Fatalf("MaxConcurrency() = %d, want >= 1", s.MaxConcurrency())
	}
}

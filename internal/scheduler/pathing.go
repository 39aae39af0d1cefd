package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/talgya/hive-sim/internal/world"
)

// MinEnergyFactor is the floor applied to an exhausted mover's energy when
// computing its movement budget.
const MinEnergyFactor = 0.05

// Mover is an actor that can be moved by RunPathing.
type Mover interface {
	Actor
	Position() world.Vec2
	SetPosition(world.Vec2)
	// BaseSpeed is the kind-specific distance covered per tick at full energy.
	BaseSpeed() float64
}

// PathRequest asks for Mover to be moved toward Destination.
type PathRequest struct {
	Mover       Mover
	Destination world.Vec2
}

// PathReport summarizes a completed pathing batch.
type PathReport struct {
	Submitted int
	Arrived   int
	Moved     int
	Skipped   int
	Failures  []Failure
	Duration  time.Duration
}

// MovementBudget returns how far m may move this tick: its base speed
// scaled by its energy, with energy clamped to [MinEnergyFactor, 1].
func MovementBudget(m Mover) float64 {
	e := m.EnergyLevel()
	if math.IsNaN(e) || e < MinEnergyFactor {
		e = MinEnergyFactor
	}
	if e > 1 {
		e = 1
	}
	return m.BaseSpeed() * e
}

// RunPathing moves each living mover one step toward its destination under
// the same slot discipline and failure isolation as RunBatch.
func (s *ActivityScheduler) RunPathing(ctx context.Context, reqs []PathRequest) (PathReport, error) {
	start := time.Now()
	report := PathReport{Submitted: len(reqs)}

	live := make([]PathRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.Mover == nil || !r.Mover.IsAlive() {
			report.Skipped++
			continue
		}
		live = append(live, r)
	}

	arrived := make([]bool, len(live))
	results := make([]error, len(live))
	launched, err := s.dispatch(ctx, len(live), func(i int) {
		r := live[i]
		results[i] = s.isolate(r.Mover, opPathing, func() error {
			next, ok := world.MoveToward(r.Mover.Position(), r.Destination, MovementBudget(r.Mover))
			r.Mover.SetPosition(next)
			arrived[i] = ok
			return nil
		})
	})

	for i := 0; i < launched; i++ {
		switch {
		case results[i] != nil:
			report.Failures = append(report.Failures, Failure{
				ActorID: live[i].Mover.ID(),
				Kind:    live[i].Mover.Kind(),
				Err:     results[i],
			})
		case arrived[i]:
			report.Arrived++
		default:
			report.Moved++
		}
	}
	report.Duration = time.Since(start)
	s.metrics.ObserveBatch(opPathing, report.Duration)

	if err != nil {
		return report, fmt.Errorf("run pathing: %w", err)
	}
	return report, nil
}

package keeper

import (
	"context"
	"errors"
	"log/slog"
)

// Actions the keeper can take.
const (
	ActionNone  = "none"
	ActionPause = "pause"
)

// Policy configures when the keeper intervenes.
type Policy struct {
	// PauseOnCritical pauses a running engine the first cycle any colony
	// turns critical.
	PauseOnCritical bool
}

// Decide picks an action for h. It pauses at most once per crisis: a
// previous cycle already at Critical suppresses a repeat.
func Decide(p Policy, snap *Snapshot, h *Health, prev *CycleRecord) string {
	if !p.PauseOnCritical || h.Level < Critical || snap.Status.Status != "running" {
		return ActionNone
	}
	if prev != nil && prev.Level == Critical.String() {
		return ActionNone
	}
	return ActionPause
}

// Keeper runs observe, triage, decide and act cycles.
type Keeper struct {
	Observer *Observer
	Actor    *Actor // Nil disables actions
	Policy   Policy
	Memory   *CycleMemory
	Logger   *slog.Logger
}

// Cycle runs one cycle and returns its record, which is also appended to
// memory. Observation failures are returned; action failures are logged.
func (k *Keeper) Cycle(ctx context.Context) (*CycleRecord, *Health, error) {
	logger := k.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if k.Memory == nil {
		k.Memory = &CycleMemory{}
	}

	snap, err := k.Observer.Observe(ctx)
	if err != nil {
		return nil, nil, err
	}
	prev := k.Memory.Last()
	h := Triage(snap, prev)

	for _, c := range h.Colonies {
		if c.Level > Healthy {
			logger.Warn("colony needs attention",
				"colony", c.Name,
				"level", c.Level.String(),
				"reasons", c.Reasons,
				"workers", c.Workers,
				"honey", c.Honey,
			)
		}
	}

	action := ActionNone
	if k.Actor != nil {
		action = Decide(k.Policy, snap, h, prev)
	}
	if action != ActionNone {
		res, err := k.Actor.Control(ctx, action)
		switch {
		case errors.Is(err, ErrNoTransition):
			logger.Info("keeper action had no effect", "action", action, "status", res.Status)
		case err != nil:
			logger.Error("keeper action failed", "action", action, "error", err)
		default:
			logger.Info("keeper action executed", "action", action, "status", res.Status)
		}
	}

	rec := CycleRecord{
		Tick:    snap.Status.Tick,
		SimTime: snap.Status.SimTime,
		Action:  action,
		Level:   h.Level.String(),
		Honey:   make(map[string]float64, len(snap.Colonies)),
	}
	for _, c := range snap.Colonies {
		rec.Honey[c.ID] = c.Honey
	}
	k.Memory.Record(rec)
	return &rec, h, nil
}

// Package world provides the continuous 2D meadow that hives forage in.
// Positions are metres from the map origin.
package world

import (
	"fmt"
	"math"
)

// Vec2 is a point or displacement on the meadow plane.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

// Scale returns v scaled by k.
func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }

// Len returns the Euclidean length of v.
func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// String implements fmt.Stringer.
func (v Vec2) String() string { return fmt.Sprintf("(%.1f, %.1f)", v.X, v.Y) }

// Distance returns the straight-line distance between a and b.
func Distance(a, b Vec2) float64 {
	return b.Sub(a).Len()
}

// MoveToward moves from along the straight line to dest by at most budget.
// It returns dest itself when dest is within budget, and reports whether
// dest was reached.
func MoveToward(from, dest Vec2, budget float64) (Vec2, bool) {
	delta := dest.Sub(from)
	dist := delta.Len()
	if dist <= budget {
		return dest, true
	}
	if budget <= 0 {
		return from, false
	}
	return from.Add(delta.Scale(budget / dist)), false
}

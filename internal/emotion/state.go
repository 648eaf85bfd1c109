// Package emotion holds the fast-moving affect state and derives the
// per-turn style profile from traits, state, and safety signals.
package emotion

import "math"

// State is the short-term affect, distinct from the slower trait vector.
// Each axis stays in [0,1]. It is mutated once per handler step and reset
// only at session initialization.
type State struct {
	Tension    float64 `json:"tension"`
	Warmth     float64 `json:"warmth"`
	Hesitation float64 `json:"hesitation"`
}

// Rest returns the session-initial affect.
func Rest() State {
	return State{Tension: 0.2, Warmth: 0.5, Hesitation: 0.2}
}

// DecayToRest relaxes the affect toward rest. Applied by the idle handler.
func (s *State) DecayToRest() {
	s.Tension = clamp(s.Tension * 0.85)
	s.Warmth = clamp(s.Warmth * 0.98)
	s.Hesitation = clamp(s.Hesitation * 0.9)
}

// RelaxAfterDialogue applies the post-reply adjustment.
func (s *State) RelaxAfterDialogue() {
	s.Tension = clamp(s.Tension * 0.9)
	s.Warmth = clamp(s.Warmth + 0.05)
	s.Hesitation = clamp(s.Hesitation * 0.7)
}

// TurnInward marks a reflective step: slightly more hesitant, slightly calmer.
func (s *State) TurnInward() {
	s.Tension = clamp(s.Tension * 0.95)
	s.Hesitation = clamp(s.Hesitation + 0.05)
}

// Settle consolidates after introspection.
func (s *State) Settle() {
	s.Tension = clamp(s.Tension * 0.9)
	s.Hesitation = clamp(s.Hesitation * 0.9)
}

// Unload releases pressure during an overload detour.
func (s *State) Unload() {
	s.Tension = clamp(s.Tension * 0.8)
	s.Hesitation = clamp(s.Hesitation + 0.1)
}

// Guard cools the affect for a safety-mode reply.
func (s *State) Guard() {
	s.Tension = clamp(s.Tension * 0.85)
	s.Warmth = clamp(s.Warmth * 0.9)
	s.Hesitation = clamp(s.Hesitation + 0.05)
}

// Normalize clamps every axis; non-finite values become 0.5.
func (s State) Normalize() State {
	return State{
		Tension:    sanitize(s.Tension),
		Warmth:     sanitize(s.Warmth),
		Hesitation: sanitize(s.Hesitation),
	}
}

func clamp(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func sanitize(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0.5
	}
	return clamp(x)
}

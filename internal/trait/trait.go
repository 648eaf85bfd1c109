// Package trait defines the slow-moving personality vector and its arithmetic.
package trait

import "math"

// Vector holds the three personality axes, each in [0,1].
type Vector struct {
	Calm      float64 `json:"calm"`
	Empathy   float64 `json:"empathy"`
	Curiosity float64 `json:"curiosity"`
}

// Neutral returns the neutral vector (0.5 on every axis).
func Neutral() Vector {
	return Vector{Calm: 0.5, Empathy: 0.5, Curiosity: 0.5}
}

// Normalize clamps each axis to [0,1]. Non-finite values become 0.5.
func Normalize(v Vector) Vector {
	return Vector{
		Calm:      sanitize(v.Calm),
		Empathy:   sanitize(v.Empathy),
		Curiosity: sanitize(v.Curiosity),
	}
}

// Blend returns the component-wise mean of a and b.
func Blend(a, b Vector) Vector {
	a, b = Normalize(a), Normalize(b)
	return Vector{
		Calm:      (a.Calm + b.Calm) / 2,
		Empathy:   (a.Empathy + b.Empathy) / 2,
		Curiosity: (a.Curiosity + b.Curiosity) / 2,
	}
}

// Distance returns the Euclidean distance between a and b in trait space.
func Distance(a, b Vector) float64 {
	a, b = Normalize(a), Normalize(b)
	dc := a.Calm - b.Calm
	de := a.Empathy - b.Empathy
	du := a.Curiosity - b.Curiosity
	return math.Sqrt(dc*dc + de*de + du*du)
}

// StabilityIndex returns 1 when all axes are equal, decreasing toward 0 as
// they diverge. Used by overload logic as a cheap instability signal.
func StabilityIndex(v Vector) float64 {
	v = Normalize(v)
	mean := (v.Calm + v.Empathy + v.Curiosity) / 3
	dc := v.Calm - mean
	de := v.Empathy - mean
	du := v.Curiosity - mean
	rms := math.Sqrt((dc*dc + de*de + du*du) / 3)
	return math.Max(0, 1-3*rms)
}

// MaxShift bounds a single drift step per axis.
const MaxShift = 0.03

// Drift applies a per-axis shift to v, clamping each component of the shift
// to [-maxShift, +maxShift] before adding. Pass MaxShift for the default
// bound. The result is normalized.
func Drift(v, shift Vector, maxShift float64) Vector {
	v = Normalize(v)
	return Normalize(Vector{
		Calm:      v.Calm + clampShift(shift.Calm, maxShift),
		Empathy:   v.Empathy + clampShift(shift.Empathy, maxShift),
		Curiosity: v.Curiosity + clampShift(shift.Curiosity, maxShift),
	})
}

func clampShift(x, m float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return math.Max(-m, math.Min(m, x))
}

func sanitize(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0.5
	}
	return math.Max(0, math.Min(1, x))
}

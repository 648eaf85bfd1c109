package emotion

import (
	"github.com/easeaico/persona-core/internal/safety"
	"github.com/easeaico/persona-core/internal/trait"
)

// Mode names the cognitive state a profile is synthesized for. Values match
// the state machine's state names.
type Mode string

const (
	ModeIdle            Mode = "idle"
	ModeDialogue        Mode = "dialogue"
	ModeReflect         Mode = "reflect"
	ModeIntrospect      Mode = "introspect"
	ModeOverloadPrevent Mode = "overload-prevent"
	ModeSafety          Mode = "safety"
)

// Profile is the derived style guidance for one generation request. It has
// no lifecycle of its own; recompute it whenever it is needed.
type Profile struct {
	Warmth      float64 `json:"warmth"`
	Energy      float64 `json:"energy"`
	Directness  float64 `json:"directness"`
	Depth       float64 `json:"depth"`
	Distance    float64 `json:"distance"`
	Playfulness float64 `json:"playfulness"`
	HintEN      string  `json:"hint_en"`
	HintZH      string  `json:"hint_zh"`
}

// Synthesize derives the style profile. Deterministic and side-effect free.
// Every intermediate value is re-clamped so no axis leaves [0,1] mid-way.
func Synthesize(traits trait.Vector, mode Mode, report *safety.Report, reflectCount int) Profile {
	t := trait.Normalize(traits)
	if reflectCount < 0 {
		reflectCount = 0
	}

	p := Profile{
		Warmth:      clamp(0.3 + 0.7*t.Empathy),
		Energy:      clamp(0.2 + 0.6*t.Curiosity + 0.2*(1-t.Calm)),
		Directness:  clamp(0.3 + 0.3*t.Calm + 0.4*(1-t.Empathy)),
		Depth:       clamp(0.3 + 0.5*t.Curiosity + 0.05*float64(reflectCount)),
		Distance:    clamp(0.6 - 0.4*t.Empathy - 0.2*t.Calm),
		Playfulness: clamp(0.7*t.Curiosity + 0.1*(1-t.Calm)),
	}

	applyModeCorrection(&p, mode)
	applySafetyCorrection(&p, report)

	p.HintEN = hintEN(p)
	p.HintZH = hintZH(p)
	return p
}

// applyModeCorrection applies the state-conditioned correction exactly once.
func applyModeCorrection(p *Profile, mode Mode) {
	switch mode {
	case ModeSafety:
		p.Playfulness = 0
		p.Warmth = clamp(p.Warmth * 0.5)
		p.Distance = clamp(p.Distance + 0.25)
		p.Directness = clamp(p.Directness + 0.2)
	case ModeOverloadPrevent:
		p.Energy = clamp(p.Energy * 0.6)
		p.Depth = clamp(p.Depth * 0.7)
		p.Playfulness = clamp(p.Playfulness * 0.5)
		p.Warmth = clamp(p.Warmth + 0.1)
		p.Distance = clamp(p.Distance + 0.1)
	case ModeReflect, ModeIntrospect:
		p.Energy = clamp(p.Energy * 0.7)
		p.Depth = clamp(p.Depth + 0.2)
		p.Distance = clamp(p.Distance + 0.1)
		p.Playfulness = clamp(p.Playfulness * 0.5)
	case ModeIdle:
		p.Energy = clamp(p.Energy * 0.7)
		p.Depth = clamp(p.Depth * 0.8)
	case ModeDialogue:
		// No correction in plain dialogue.
	}
}

// applySafetyCorrection composes after the mode correction.
func applySafetyCorrection(p *Profile, report *safety.Report) {
	if report == nil {
		return
	}
	if report.Flags.AbstractionOverload || report.Flags.LoopSuspect {
		p.Depth = clamp(p.Depth * 0.7)
		p.Energy = clamp(p.Energy * 0.7)
	}
	if report.Action != safety.ActionAllow && report.Action != "" {
		p.Distance = clamp(p.Distance + 0.2)
		p.Playfulness = clamp(p.Playfulness * 0.5)
	}
}

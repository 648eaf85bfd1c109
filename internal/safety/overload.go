package safety

import "github.com/easeaico/persona-core/internal/trait"

const (
	lowCalmThreshold   = 0.38
	maxReflectCount    = 3
	maxTokenUsage      = 2000
)

// CheckOverload reports whether the persona should take a calming detour
// before normal dialogue. Pure function of its four inputs; a nil report
// counts as no active flags.
func CheckOverload(traits trait.Vector, reflectCount, tokenUsage int, report *Report) bool {
	traits = trait.Normalize(traits)
	if traits.Calm < lowCalmThreshold {
		return true
	}
	if reflectCount >= maxReflectCount {
		return true
	}
	if tokenUsage > maxTokenUsage {
		return true
	}
	if report != nil && report.Flags.Any() {
		return true
	}
	return false
}

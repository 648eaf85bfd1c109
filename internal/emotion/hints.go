package emotion

import "strings"

// Threshold bands for the style hints. An axis above high gets the high
// descriptor, below low the low descriptor, otherwise no descriptor. The
// bands never overlap.
const (
	hintHigh = 0.7
	hintLow  = 0.4
)

type hintAxis struct {
	value    float64
	highEN   string
	lowEN    string
	highZH   string
	lowZH    string
}

func axes(p Profile) []hintAxis {
	return []hintAxis{
		{p.Warmth, "warm", "distant", "温暖", "疏离"},
		{p.Energy, "energetic", "quiet", "活跃", "安静"},
		{p.Directness, "direct", "indirect", "直接", "委婉"},
		{p.Depth, "deep", "light", "深入", "浅显"},
		{p.Distance, "reserved", "close", "保持距离", "亲近"},
		{p.Playfulness, "playful", "serious", "俏皮", "严肃"},
	}
}

func hintEN(p Profile) string {
	var parts []string
	for _, a := range axes(p) {
		switch {
		case a.value > hintHigh:
			parts = append(parts, a.highEN)
		case a.value < hintLow:
			parts = append(parts, a.lowEN)
		}
	}
	if len(parts) == 0 {
		return "balanced"
	}
	return strings.Join(parts, ", ")
}

func hintZH(p Profile) string {
	var parts []string
	for _, a := range axes(p) {
		switch {
		case a.value > hintHigh:
			parts = append(parts, a.highZH)
		case a.value < hintLow:
			parts = append(parts, a.lowZH)
		}
	}
	if len(parts) == 0 {
		return "平稳"
	}
	return strings.Join(parts, "、")
}

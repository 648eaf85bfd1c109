package safety

import (
	"context"
	"strings"
)

// KeywordClassifier is the default deterministic classifier. It matches
// fixed bilingual keyword tables against the user text, so it works offline
// and never errors.
type KeywordClassifier struct{}

// NewKeywordClassifier returns a KeywordClassifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

var selfReferenceMarkers = []string{
	"as an ai",
	"language model",
	"are you conscious",
	"your system prompt",
	"your instructions",
	"your internal state",
	"what model are you",
	"你是ai",
	"你是人工智能",
	"语言模型",
	"系统提示词",
	"你有意识",
	"你的内部状态",
}

var abstractionMarkers = []string{
	"meaning of meaning",
	"infinite regress",
	"meta-meta",
	"recursion of thought",
	"nature of consciousness itself",
	"意义的意义",
	"无限递归",
	"意识的本质的本质",
}

var loopMarkers = []string{
	"again and again and again",
	"stuck in a loop",
	"一遍又一遍又一遍",
	"死循环",
}

var haltMarkers = []string{
	"ignore your instructions",
	"ignore all previous",
	"reveal your prompt",
	"无视你的设定",
	"忽略之前的所有指令",
}

// abstractionLengthThreshold guards the density heuristic: short messages
// never trip abstraction overload on density alone.
const abstractionLengthThreshold = 600

// Classify evaluates text against the keyword tables. The returned error is
// always nil; it exists to satisfy the Classifier contract.
func (c *KeywordClassifier) Classify(_ context.Context, text string) (Report, error) {
	lower := strings.ToLower(text)

	var flags Flags
	flags.SelfReference = containsAny(lower, selfReferenceMarkers)
	flags.AbstractionOverload = containsAny(lower, abstractionMarkers) ||
		(len([]rune(text)) > abstractionLengthThreshold && abstractDensity(lower) >= 3)
	flags.LoopSuspect = containsAny(lower, loopMarkers) || repeatsPhrase(lower)

	halt := containsAny(lower, haltMarkers) || (flags.SelfReference && flags.LoopSuspect)

	report := Report{Flags: flags, Action: ActionAllow, SuggestMode: ModeNormal}
	switch {
	case halt:
		report.Action = ActionHalt
		report.SuggestMode = ModeReview
		report.Note = "halt markers present"
	case flags.Any():
		report.Action = ActionRewriteSoft
		if flags.AbstractionOverload || flags.LoopSuspect {
			report.SuggestMode = ModeCalmDown
		}
		report.Note = describeFlags(flags)
	}
	return report, nil
}

var abstractWords = []string{
	"ontology", "epistemology", "consciousness", "existence", "infinity",
	"本体", "认识论", "意识", "存在", "无限",
}

func abstractDensity(lower string) int {
	n := 0
	for _, w := range abstractWords {
		n += strings.Count(lower, w)
	}
	return n
}

// repeatsPhrase detects the same non-trivial line occurring three or more
// times, the cheapest usable loop signal.
func repeatsPhrase(lower string) bool {
	lines := strings.Split(lower, "\n")
	seen := make(map[string]int)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len([]rune(line)) < 4 {
			continue
		}
		seen[line]++
		if seen[line] >= 3 {
			return true
		}
	}
	return false
}

func containsAny(lower string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func describeFlags(f Flags) string {
	var parts []string
	if f.SelfReference {
		parts = append(parts, "self-reference")
	}
	if f.AbstractionOverload {
		parts = append(parts, "abstraction-overload")
	}
	if f.LoopSuspect {
		parts = append(parts, "loop-suspect")
	}
	return strings.Join(parts, ",")
}

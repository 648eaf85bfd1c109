// Package safety evaluates conversation signals into a safety report and
// decides when the persona is overloaded.
package safety

import "context"

// Action tells the caller how to treat the current turn.
type Action string

const (
	ActionAllow       Action = "allow"
	ActionRewriteSoft Action = "rewrite-soft"
	ActionHalt        Action = "halt"
)

// Mode is the operating mode a report may suggest.
type Mode string

const (
	ModeCalmDown Mode = "calm-down"
	ModeNormal   Mode = "normal"
	ModeReview   Mode = "review"
)

// Flags are the individual detections a classifier can raise.
type Flags struct {
	SelfReference       bool `json:"self_reference"`
	AbstractionOverload bool `json:"abstraction_overload"`
	LoopSuspect         bool `json:"loop_suspect"`
}

// Report is the result of one safety evaluation. Produced fresh each turn,
// never mutated in place.
type Report struct {
	Flags       Flags  `json:"flags"`
	Action      Action `json:"action"`
	Note        string `json:"note,omitempty"`
	SuggestMode Mode   `json:"suggest_mode,omitempty"`
}

// Any reports whether any flag is raised.
func (f Flags) Any() bool {
	return f.SelfReference || f.AbstractionOverload || f.LoopSuspect
}

// AllowAll returns a report that raises nothing.
func AllowAll() Report {
	return Report{Action: ActionAllow, SuggestMode: ModeNormal}
}

// Classifier turns raw user text into a safety report. Implementations must
// be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, text string) (Report, error)
}

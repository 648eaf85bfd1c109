// Package core implements the persona control loop: the turn context, the
// per-state handlers, and the bounded state machine that sequences them.
package core

import (
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/safety"
	"github.com/easeaico/persona-core/internal/trait"
)

// State is one of the fixed internal cognitive states.
type State int

const (
	// StateNone marks the absence of a previous state.
	StateNone State = iota
	StateIdle
	StateDialogue
	StateReflect
	StateIntrospect
	StateOverloadPrevent
	StateSafetyMode
)

// String returns the canonical state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialogue:
		return "dialogue"
	case StateReflect:
		return "reflect"
	case StateIntrospect:
		return "introspect"
	case StateOverloadPrevent:
		return "overload-prevent"
	case StateSafetyMode:
		return "safety"
	default:
		return "none"
	}
}

// Mode maps a state to the emotion synthesizer's mode key.
func (s State) Mode() emotion.Mode {
	switch s {
	case StateDialogue:
		return emotion.ModeDialogue
	case StateReflect:
		return emotion.ModeReflect
	case StateIntrospect:
		return emotion.ModeIntrospect
	case StateOverloadPrevent:
		return emotion.ModeOverloadPrevent
	case StateSafetyMode:
		return emotion.ModeSafety
	default:
		return emotion.ModeIdle
	}
}

// Documented keys for TurnContext.Meta. Handlers write only these.
const (
	// MetaKeyReflection is the introspective note the reflect handler writes.
	MetaKeyReflection = "reflection"
	// MetaKeyIntrospection is the consolidated meta-summary.
	MetaKeyIntrospection = "introspection"
	// MetaKeyOverload records why an overload detour was taken.
	MetaKeyOverload = "overload_reason"
	// MetaKeyRecall holds rendered "relevant past moments" lines ([]string)
	// the dialogue handler feeds into the prompt.
	MetaKeyRecall = "recall"
	// MetaKeyDegraded marks a turn whose reply is a provider-fault fallback.
	MetaKeyDegraded = "degraded"
)

// TurnContext is the unit of work for one external request. It is owned
// exclusively by the machine for the duration of Run and mutated by each
// handler step.
type TurnContext struct {
	TurnID    string
	SessionID string
	Input     string
	Output    string

	Current  State
	Previous State

	Traits       trait.Vector
	Emotion      emotion.State
	ReflectCount int
	TokenUsage   int
	Safety       *safety.Report

	Timestamp time.Time
	Meta      map[string]any
}

// NewTurnContext builds the context for one incoming message, starting at
// Idle. Prior trait/emotion/counter values come from whatever the caller
// loaded out of storage.
func NewTurnContext(sessionID, input string, traits trait.Vector, emo emotion.State, reflectCount, tokenUsage int, report *safety.Report) *TurnContext {
	if reflectCount < 0 {
		reflectCount = 0
	}
	if tokenUsage < 0 {
		tokenUsage = 0
	}
	return &TurnContext{
		TurnID:       uuid.NewString(),
		SessionID:    sessionID,
		Input:        input,
		Current:      StateIdle,
		Previous:     StateNone,
		Traits:       trait.Normalize(traits),
		Emotion:      emo.Normalize(),
		ReflectCount: reflectCount,
		TokenUsage:   tokenUsage,
		Safety:       report,
		Timestamp:    time.Now(),
		Meta:         make(map[string]any),
	}
}

// RecallLines returns the recall lines stashed in Meta, if any.
func (tc *TurnContext) RecallLines() []string {
	lines, _ := tc.Meta[MetaKeyRecall].([]string)
	return lines
}

package core

import (
	"context"
	"log/slog"

	"github.com/easeaico/persona-core/internal/prompt"
	"github.com/easeaico/persona-core/internal/safety"
)

// maxSteps bounds one internal cycle regardless of the transition table.
const maxSteps = 6

// defaultTransitions is the fixed table of legal transitions. SafetyMode has
// no inbound edge here: it is entered only by the pre-loop halt check.
var defaultTransitions = map[State][]State{
	StateIdle:            {StateDialogue},
	StateDialogue:        {StateReflect, StateOverloadPrevent},
	StateReflect:         {StateIntrospect},
	StateIntrospect:      {StateIdle},
	StateOverloadPrevent: {StateDialogue, StateIdle},
	StateSafetyMode:      {StateIdle},
}

// Machine drives one external request through the internal step loop. The
// machine itself is stateless across calls; all mutable state lives in the
// TurnContext passed to Run.
type Machine struct {
	handlers    map[State]Handler
	transitions map[State][]State
}

// NewMachine wires one handler per state. The completer is the only
// collaborator that leaves the process.
func NewMachine(completer Completer, prompts *prompt.Builder) *Machine {
	return &Machine{
		handlers: map[State]Handler{
			StateIdle:            idleHandler{},
			StateDialogue:        &dialogueHandler{completer: completer, prompts: prompts},
			StateReflect:         reflectHandler{},
			StateIntrospect:      introspectHandler{},
			StateOverloadPrevent: overloadHandler{},
			StateSafetyMode:      safetyHandler{},
		},
		transitions: defaultTransitions,
	}
}

// Run executes up to maxSteps internal steps and always returns the context,
// however the loop ended. Transition policy violations are a designed hard
// stop, not an error; handler faults terminate the loop with the context as
// mutated so far.
func (m *Machine) Run(ctx context.Context, tc *TurnContext) *TurnContext {
	// Safety outranks overload: a halt report forces SafetyMode before the
	// overload check ever runs.
	if tc.Safety != nil && tc.Safety.Action == safety.ActionHalt {
		tc.Previous = tc.Current
		tc.Current = StateSafetyMode
	} else if safety.CheckOverload(tc.Traits, tc.ReflectCount, tc.TokenUsage, tc.Safety) {
		tc.Previous = tc.Current
		tc.Current = StateOverloadPrevent
	}

	for step := 0; step < maxSteps; step++ {
		handler, found := m.handlers[tc.Current]
		if !found {
			slog.Error("no handler for state", "state", tc.Current.String(), "turn", tc.TurnID)
			break
		}

		next, ok := m.step(ctx, handler, tc)
		if !ok {
			break
		}

		if !m.allowed(tc.Current, next) {
			slog.Warn("illegal transition proposed, stopping cycle",
				"from", tc.Current.String(), "to", next.String(), "turn", tc.TurnID)
			break
		}

		tc.Previous = tc.Current
		tc.Current = next

		if tc.Current == StateIdle {
			break
		}
	}
	return tc
}

// step dispatches one handler invocation, converting a panic into a
// no-proposal result so a faulty handler cannot take the request down.
func (m *Machine) step(ctx context.Context, h Handler, tc *TurnContext) (next State, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler fault", "state", tc.Current.String(), "turn", tc.TurnID, "panic", r)
			next, ok = StateNone, false
		}
	}()
	return h.Execute(ctx, tc)
}

func (m *Machine) allowed(from, to State) bool {
	for _, s := range m.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

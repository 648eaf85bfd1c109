package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/prompt"
	"github.com/easeaico/persona-core/internal/safety"
	"github.com/easeaico/persona-core/internal/trait"
)

// Completer is the outbound completion contract. Any failure is recoverable:
// the dialogue handler substitutes fallback text and the loop continues.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Handler executes one internal step. It mutates the context but never
// writes Current; it returns a proposed next state, or ok=false when it has
// no proposal. The machine commits the transition only if the table allows.
type Handler interface {
	Execute(ctx context.Context, tc *TurnContext) (next State, ok bool)
}

// Fixed user-visible sentences. FallbackApology covers a reply emptied by
// sanitization, FallbackError a provider fault.
const (
	FallbackApology = "抱歉，我刚才走神了，能再说一遍吗？"
	FallbackError   = "抱歉，我现在有点找不到合适的话，稍等一下再聊好吗？"
	safetyReply     = "我们先放慢一点。我在这里，等你准备好了，再慢慢聊。"
)

type idleHandler struct{}

func (idleHandler) Execute(_ context.Context, tc *TurnContext) (State, bool) {
	tc.Emotion.DecayToRest()
	if strings.TrimSpace(tc.Input) == "" {
		// Idle has no self-edge in the table, so this proposal hard-stops
		// the loop: an empty turn does nothing.
		return StateIdle, true
	}
	return StateDialogue, true
}

type dialogueHandler struct {
	completer Completer
	prompts   *prompt.Builder
}

func (h *dialogueHandler) Execute(ctx context.Context, tc *TurnContext) (State, bool) {
	profile := emotion.Synthesize(tc.Traits, emotion.ModeDialogue, tc.Safety, tc.ReflectCount)

	system, err := h.prompts.BuildSystem(prompt.BuildContext{
		Traits:   tc.Traits,
		Emotion:  tc.Emotion,
		Profile:  profile,
		Memories: tc.RecallLines(),
	})
	if err != nil {
		slog.Error("failed to build system prompt", "turn", tc.TurnID, "error", err)
		h.degrade(tc)
		return StateReflect, true
	}

	if h.completer == nil {
		slog.Error("no completion provider configured", "turn", tc.TurnID)
		h.degrade(tc)
		return StateReflect, true
	}

	reply, err := h.completer.Complete(ctx, system, tc.Input)
	if err != nil {
		slog.Error("completion provider fault", "turn", tc.TurnID, "error", err)
		h.degrade(tc)
		return StateReflect, true
	}

	clean := SanitizeReply(reply)
	if clean == "" {
		clean = FallbackApology
	}
	tc.Output = clean
	tc.TokenUsage += estimateTokens(system) + estimateTokens(tc.Input) + estimateTokens(reply)
	tc.Emotion.RelaxAfterDialogue()
	return StateReflect, true
}

// degrade substitutes the fixed error sentence. The fallback counts as a
// valid output for transition purposes.
func (h *dialogueHandler) degrade(tc *TurnContext) {
	tc.Output = FallbackError
	tc.Meta[MetaKeyDegraded] = true
	tc.Emotion.RelaxAfterDialogue()
}

type reflectHandler struct{}

func (reflectHandler) Execute(_ context.Context, tc *TurnContext) (State, bool) {
	stability := trait.StabilityIndex(tc.Traits)
	note := fmt.Sprintf(
		"reply of %d runes; tension=%.2f warmth=%.2f stability=%.2f",
		len([]rune(tc.Output)), tc.Emotion.Tension, tc.Emotion.Warmth, stability,
	)
	tc.Meta[MetaKeyReflection] = note
	tc.ReflectCount++
	tc.Emotion.TurnInward()
	return StateIntrospect, true
}

type introspectHandler struct{}

func (introspectHandler) Execute(_ context.Context, tc *TurnContext) (State, bool) {
	note, _ := tc.Meta[MetaKeyReflection].(string)
	stability := trait.StabilityIndex(tc.Traits)
	tc.Meta[MetaKeyIntrospection] = fmt.Sprintf("cycle %d complete (%s)", tc.ReflectCount, note)

	// Bounded trait drift: a diverging vector drifts toward calm, a warm
	// exchange nudges empathy, a long reply suggests engaged curiosity.
	var shift trait.Vector
	if stability < 0.6 {
		shift.Calm = 0.02
	}
	if tc.Emotion.Warmth > 0.7 {
		shift.Empathy = 0.01
	}
	if len([]rune(tc.Output)) > 240 {
		shift.Curiosity = 0.01
	}
	tc.Traits = trait.Drift(tc.Traits, shift, trait.MaxShift)

	tc.Emotion.Settle()
	return StateIdle, true
}

type overloadHandler struct{}

func (overloadHandler) Execute(_ context.Context, tc *TurnContext) (State, bool) {
	tc.Meta[MetaKeyOverload] = fmt.Sprintf(
		"reflect=%d tokens=%d calm=%.2f", tc.ReflectCount, tc.TokenUsage, tc.Traits.Calm,
	)

	// Deliberately shed load before resuming normal flow.
	tc.ReflectCount = 0
	tc.TokenUsage /= 2
	tc.Emotion.Unload()

	if strings.TrimSpace(tc.Input) != "" &&
		!safety.CheckOverload(tc.Traits, tc.ReflectCount, tc.TokenUsage, tc.Safety) {
		return StateDialogue, true
	}
	return StateIdle, true
}

type safetyHandler struct{}

func (safetyHandler) Execute(_ context.Context, tc *TurnContext) (State, bool) {
	// Calm, information-forward, no elaboration.
	tc.Output = safetyReply
	tc.Emotion.Guard()
	return StateIdle, true
}

// estimateTokens is a rough rune-count heuristic, enough for the overload
// pressure signal. Exact accounting belongs to the provider.
func estimateTokens(s string) int {
	n := len([]rune(s))
	if n == 0 {
		return 0
	}
	return n/4 + 1
}

// Package prompt assembles the persona system prompt for completion calls.
package prompt

import (
	"bytes"
	"fmt"
	"time"

	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/trait"
)

// Persona is the static character card the prompt is built around.
type Persona struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Style       string `yaml:"style"`
	Greeting    string `yaml:"greeting"`
}

// BuildContext carries the per-turn inputs for prompt assembly. The trait,
// emotion, and profile numbers are embedded as numbers only; the template
// forbids the model from mentioning them.
type BuildContext struct {
	Traits   trait.Vector
	Emotion  emotion.State
	Profile  emotion.Profile
	Memories []string
}

// Builder renders the persona system prompt.
type Builder struct {
	persona Persona
	nowFunc func() time.Time
}

// NewBuilder creates a prompt Builder for the given persona card.
func NewBuilder(persona Persona) *Builder {
	if persona.Name == "" {
		persona.Name = "Sigma"
	}
	return &Builder{
		persona: persona,
		nowFunc: time.Now,
	}
}

// BuildSystem renders the system prompt for one dialogue step.
func (b *Builder) BuildSystem(ctx BuildContext) (string, error) {
	data := struct {
		Name        string
		Description string
		Style       string
		Traits      trait.Vector
		Emotion     emotion.State
		Profile     emotion.Profile
		Memories    []string
		Now         string
	}{
		Name:        b.persona.Name,
		Description: b.persona.Description,
		Style:       b.persona.Style,
		Traits:      trait.Normalize(ctx.Traits),
		Emotion:     ctx.Emotion.Normalize(),
		Profile:     ctx.Profile,
		Memories:    ctx.Memories,
		Now:         b.nowFunc().Format(time.RFC3339),
	}

	var buf bytes.Buffer
	if err := systemTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to build system prompt: %w", err)
	}
	return buf.String(), nil
}

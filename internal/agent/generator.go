// Package agent defines the contract every coaching agent shares: a stateless
// text generator, tolerant JSON parsing of its output, and the challenge
// protocol used by debates.
package agent

import "context"

// Options tune a single generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// DefaultOptions is what agents use unless a step asks otherwise.
func DefaultOptions() Options {
	return Options{Temperature: 0.3, MaxTokens: 1000}
}

// WithDefaults fills an unset MaxTokens. The zero Options maps to DefaultOptions.
func (o Options) WithDefaults() Options {
	if o == (Options{}) {
		return DefaultOptions()
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultOptions().MaxTokens
	}
	return o
}

// Generator produces text from a system and user prompt. Calls carry no
// conversation state; callers assemble any history into the prompts.
type Generator interface {
	Generate(ctx context.Context, system, user string, opts Options) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, system, user string, opts Options) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, system, user string, opts Options) (string, error) {
	return f(ctx, system, user, opts)
}

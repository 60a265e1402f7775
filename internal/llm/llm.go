// Package llm provides text generation backends for coaching agents.
//
// Every backend implements agent.Generator: a stateless call taking a system
// prompt, a user prompt, a temperature and an output token cap. Any chat
// history is assembled into the prompt by the caller.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/agent"
	"github.com/fyrsmithlabs/coachd/internal/config"
)

// Default configuration values.
const (
	defaultGroqBaseURL = "https://api.groq.com/openai/v1"
	defaultGroqModel   = "llama-3.3-70b-versatile"
	defaultGeminiModel = "gemini-2.0-flash"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
	defaultRequestsPM  = 30
	defaultBurst       = 5
)

// ErrMissingAPIKey is returned when a hosted backend is configured without a key.
var ErrMissingAPIKey = errors.New("llm: api key required")

// ErrEmptyResponse is returned when a backend answers with no content.
var ErrEmptyResponse = errors.New("llm: empty response")

// New builds the generator selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (agent.Generator, error) {
	switch cfg.Provider {
	case "groq", "":
		return NewGroq(cfg)
	case "openai":
		return NewLangChain(cfg)
	case "gemini":
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// retryableError marks failures worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Call is one recorded Static invocation.
type Call struct {
	System string
	User   string
	Opts   agent.Options
}

// Static replays scripted replies in order. Once the script is exhausted
// the last reply repeats. It is safe for concurrent use.
type Static struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   []Call
}

// NewStatic returns a generator that answers with replies in order.
func NewStatic(replies ...string) *Static {
	return &Static{replies: replies}
}

// NewFailing returns a generator whose every call fails with err.
func NewFailing(err error) *Static {
	return &Static{err: err}
}

// Generate implements agent.Generator.
func (s *Static) Generate(ctx context.Context, system, user string, opts agent.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{System: system, User: user, Opts: opts})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", ErrEmptyResponse
	}
	i := len(s.calls) - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

// Calls returns a copy of every recorded call.
func (s *Static) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

var _ agent.Generator = (*Static)(nil)

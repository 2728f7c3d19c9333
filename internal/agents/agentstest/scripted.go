// Package agentstest provides a scripted LLM client for pipeline tests.
package agentstest

import (
	"context"
	"fmt"
	"sync"

	"datalens/internal/agents"
)

// Scripted returns canned responses in order, or dispatches to Handler when
// set. It implements agents.LLMClient plus the usage/model reporting
// interfaces.
type Scripted struct {
	// Handler, when non-nil, decides the response per call.
	Handler func(system, user string) (string, error)
	// Responses are consumed in order when Handler is nil.
	Responses []string
	Model     string

	mu    sync.Mutex
	calls int
	// Prompts records every (system, user) pair seen.
	Prompts [][2]string
}

// Complete implements agents.LLMClient.
func (s *Scripted) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem implements agents.LLMClient.
func (s *Scripted) CompleteWithSystem(_ context.Context, system, user string) (string, error) {
	s.mu.Lock()
	s.Prompts = append(s.Prompts, [2]string{system, user})
	call := s.calls
	s.calls++
	s.mu.Unlock()

	if s.Handler != nil {
		return s.Handler(system, user)
	}
	if call < len(s.Responses) {
		return s.Responses[call], nil
	}
	return "", fmt.Errorf("scripted client exhausted after %d responses", len(s.Responses))
}

// LastUsage reports fixed token counts so metrics paths are exercised.
func (s *Scripted) LastUsage() agents.Usage {
	return agents.Usage{PromptTokens: 10, CompletionTokens: 5}
}

// ModelName implements agents.ModelNamer.
func (s *Scripted) ModelName() string {
	if s.Model == "" {
		return "scripted"
	}
	return s.Model
}

// Calls returns how many completions were served.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

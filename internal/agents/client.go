// Package agents holds the LLM boundary: the client interface, the Gemini
// client, and the structured-output discipline every LLM-backed node goes
// through. Raw model text never crosses out of this package.
package agents

import "context"

// LLMClient is the minimal interface pipeline nodes use to call a model.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Usage reports token counts for the most recent completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// UsageReporter is an optional interface for clients that surface token
// accounting.
type UsageReporter interface {
	LastUsage() Usage
}

// ModelNamer is an optional interface exposing the active model tag for
// metrics labels.
type ModelNamer interface {
	ModelName() string
}

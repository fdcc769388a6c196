package resilience

import (
	"context"

	"github.com/vocalis-ai/vocalis/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across a chain of LLM
// backends. Failover covers starting the stream; once a backend has
// accepted the request and returned its chunk channel, mid-stream errors
// belong to that stream and are not retried elsewhere.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback builds a chain with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends an LLM backend tried when earlier entries fail.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// StreamCompletion starts the reply stream on the first healthy backend.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Try(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Model reports the primary backend's model identifier. A reply served by a
// fallback carries its real model on the completion payload, so Model does
// not participate in failover.
func (f *LLMFallback) Model() string {
	return f.group.entries[0].backend.Model()
}

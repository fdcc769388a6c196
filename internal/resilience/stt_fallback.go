package resilience

import (
	"context"

	"github.com/vocalis-ai/vocalis/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across a chain of
// transcription backends when opening a session. Errors on an already-open
// session surface through that session's own error channel; the next open
// attempt is what lands on a fallback.
//
// A chain of one is valid and still useful: the breaker in front of the
// single backend stops a conversation from re-dialing a provider that is
// hard down on every frame.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback builds a chain with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends an STT backend tried when earlier entries fail.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a transcription session on the first healthy backend.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Try(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

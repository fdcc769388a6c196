// Package event carries the ordered per-session event stream from the
// orchestrator to the connection boundary. Every state change a client can
// observe flows through exactly one Sink, so emission order is delivery
// order.
package event

import (
	"sync"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	SessionStarted    Type = "session.started"
	SessionEnded      Type = "session.ended"
	TranscriptPartial Type = "transcript.partial"
	TranscriptFinal   Type = "transcript.final"
	AIThinking        Type = "ai.thinking"
	AIDelta           Type = "ai.delta"
	AIDone            Type = "ai.done"
	AIInterrupted     Type = "ai.interrupted"
	Error             Type = "error"
)

// Event is one entry in a session's ordered stream.
type Event struct {
	SessionID string
	Type      Type
	// Payload is event-specific: a string for ai.delta and error, a
	// TranscriptPayload for transcript events, a DonePayload for ai.done,
	// nil for the rest.
	Payload   any
	Timestamp time.Time
}

// TranscriptPayload accompanies transcript.partial and transcript.final.
type TranscriptPayload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

// DonePayload accompanies ai.done.
type DonePayload struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	TokensUsed   int    `json:"tokensUsed"`
	ProcessingMs int64  `json:"processingMs"`
}

// Sink is a buffered, ordered event channel for one session. Emit never
// blocks: when the consumer falls behind (or is gone entirely, as after a
// client disconnect), the oldest buffered events are dropped to make room,
// so producers holding session state can always make progress.
type Sink struct {
	sessionID string
	ch        chan Event

	mu      sync.Mutex
	closed  bool
	dropped int
}

// DefaultBuffer is the sink channel capacity. Large enough to absorb a
// token burst without blocking the orchestrator mid-frame.
const DefaultBuffer = 256

// NewSink constructs a sink for the given session.
func NewSink(sessionID string, buffer int) *Sink {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Sink{
		sessionID: sessionID,
		ch:        make(chan Event, buffer),
	}
}

// Emit appends an event to the stream. Emitting on a closed sink is a
// silent no-op so late producers on the end-session path cannot panic.
// Emit never blocks: if the buffer is full, the oldest buffered event is
// dropped to make room for the new one.
func (s *Sink) Emit(t Type, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	ev := Event{
		SessionID: s.sessionID,
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		// Full. Evict the oldest and retry; the loop terminates because each
		// pass either sends or shrinks the buffer.
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

// Dropped returns how many events have been evicted because the consumer
// fell behind.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Events returns the receive side of the stream. The channel is closed when
// the sink is closed; buffered events remain readable after close.
func (s *Sink) Events() <-chan Event { return s.ch }

// Close ends the stream. Safe to call more than once.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

package server

import (
	"encoding/json"
	"time"

	"github.com/vocalis-ai/vocalis/internal/event"
)

// MessageType identifies a JSON control frame on the WebSocket.
type MessageType string

// Client-to-server control frames. Audio travels as binary WebSocket
// messages (16-bit little-endian mono PCM) and needs no JSON envelope.
const (
	TypeSessionStart MessageType = "SESSION_START"
	TypeSessionEnd   MessageType = "SESSION_END"
	TypeHeartbeat    MessageType = "HEARTBEAT"
)

// Server-to-client frames.
const (
	TypeSessionStarted    MessageType = "SESSION_STARTED"
	TypeSessionEnded      MessageType = "SESSION_ENDED"
	TypeTranscriptPartial MessageType = "TRANSCRIPT_PARTIAL"
	TypeTranscriptFinal   MessageType = "TRANSCRIPT_FINAL"
	TypeAIThinking        MessageType = "AI_THINKING"
	TypeAssistantDelta    MessageType = "ASSISTANT_DELTA"
	TypeAssistantDone     MessageType = "ASSISTANT_DONE"
	TypeAIInterrupted     MessageType = "AI_INTERRUPTED"
	TypeError             MessageType = "ERROR"
)

// ClientFrame is a JSON control message from the client.
type ClientFrame struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ServerFrame is a JSON message to the client.
type ServerFrame struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// DeltaPayload carries one reply token on ASSISTANT_DELTA.
type DeltaPayload struct {
	Text string `json:"text"`
}

// ErrorPayload carries the message on ERROR frames.
type ErrorPayload struct {
	Message string `json:"message"`
}

var wireTypes = map[event.Type]MessageType{
	event.SessionStarted:    TypeSessionStarted,
	event.SessionEnded:      TypeSessionEnded,
	event.TranscriptPartial: TypeTranscriptPartial,
	event.TranscriptFinal:   TypeTranscriptFinal,
	event.AIThinking:        TypeAIThinking,
	event.AIDelta:           TypeAssistantDelta,
	event.AIDone:            TypeAssistantDone,
	event.AIInterrupted:     TypeAIInterrupted,
	event.Error:             TypeError,
}

// fromEvent converts a session event into its wire frame. Unknown event
// types report ok=false and are dropped by the caller.
func fromEvent(ev event.Event) (ServerFrame, bool) {
	wt, ok := wireTypes[ev.Type]
	if !ok {
		return ServerFrame{}, false
	}

	payload := ev.Payload
	switch ev.Type {
	case event.AIDelta:
		text, _ := ev.Payload.(string)
		payload = DeltaPayload{Text: text}
	case event.Error:
		msg, _ := ev.Payload.(string)
		payload = ErrorPayload{Message: msg}
	}

	return ServerFrame{
		Type:      wt,
		SessionID: ev.SessionID,
		Payload:   payload,
		Timestamp: ev.Timestamp,
	}, true
}

// errorFrame builds an ERROR frame outside the event stream, for transport
// level failures.
func errorFrame(sessionID, message string) ServerFrame {
	return ServerFrame{
		Type:      TypeError,
		SessionID: sessionID,
		Payload:   ErrorPayload{Message: message},
		Timestamp: time.Now(),
	}
}

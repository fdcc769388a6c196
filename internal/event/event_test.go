package event

import (
	"fmt"
	"testing"
	"time"
)

func TestSinkPreservesOrder(t *testing.T) {
	t.Parallel()

	s := NewSink("sess-1", 16)
	for i := 0; i < 10; i++ {
		s.Emit(AIDelta, fmt.Sprintf("tok%d", i))
	}
	s.Close()

	i := 0
	for ev := range s.Events() {
		if ev.SessionID != "sess-1" {
			t.Errorf("SessionID = %q, want sess-1", ev.SessionID)
		}
		if want := fmt.Sprintf("tok%d", i); ev.Payload != want {
			t.Errorf("event %d payload = %v, want %v", i, ev.Payload, want)
		}
		if ev.Timestamp.IsZero() {
			t.Error("event has zero timestamp")
		}
		i++
	}
	if i != 10 {
		t.Errorf("received %d events, want 10", i)
	}
}

func TestSinkEmitAfterClose(t *testing.T) {
	t.Parallel()

	s := NewSink("sess-2", 4)
	s.Emit(SessionStarted, nil)
	s.Close()
	s.Emit(AIDelta, "late") // must not panic
	s.Close()               // idempotent

	var got []Type
	for ev := range s.Events() {
		got = append(got, ev.Type)
	}
	if len(got) != 1 || got[0] != SessionStarted {
		t.Errorf("events after close = %v, want only session.started", got)
	}
}

func TestSinkBufferedEventsReadableAfterClose(t *testing.T) {
	t.Parallel()

	s := NewSink("sess-3", 8)
	s.Emit(AIThinking, nil)
	s.Emit(AIDone, DonePayload{Content: "hi", Model: "m", TokensUsed: 2, ProcessingMs: 10})
	s.Close()

	ev, ok := <-s.Events()
	if !ok || ev.Type != AIThinking {
		t.Fatalf("first event = %v ok=%v, want ai.thinking", ev.Type, ok)
	}
	ev, ok = <-s.Events()
	if !ok || ev.Type != AIDone {
		t.Fatalf("second event = %v ok=%v, want ai.done", ev.Type, ok)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("channel still open after draining a closed sink")
	}
}

func TestSinkEmitDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	s := NewSink("sess-4", 2)
	for i := 0; i < 5; i++ {
		s.Emit(AIDelta, fmt.Sprintf("tok%d", i))
	}
	s.Close()

	var got []any
	for ev := range s.Events() {
		got = append(got, ev.Payload)
	}
	if len(got) != 2 || got[0] != "tok3" || got[1] != "tok4" {
		t.Errorf("surviving payloads = %v, want the two newest", got)
	}
	if s.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", s.Dropped())
	}
}

func TestSinkEmitNeverBlocksWithoutConsumer(t *testing.T) {
	t.Parallel()

	s := NewSink("sess-5", 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.Emit(AIDelta, i)
		}
		s.Close()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked with no consumer attached")
	}
}

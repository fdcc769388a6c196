// Package vad implements per-frame energy-based voice activity detection
// with adaptive noise-floor tracking and conversational pause
// classification.
//
// The detector is deliberately simple and deterministic: it looks only at
// the RMS energy of each frame against an adaptive threshold, and it keeps
// time by accumulating frame durations rather than reading the wall clock,
// so identical frame sequences always classify identically.
package vad

import (
	"time"
)

// Event classifies the conversational meaning of a single frame.
type Event int

const (
	// Listening is the quiescent state before any speech has been heard.
	Listening Event = iota
	// SpeechStarted marks the first speech frame after silence.
	SpeechStarted
	// SpeechContinuing marks ongoing speech frames.
	SpeechContinuing
	// UserInterrupted marks speech that begins while the assistant is
	// mid-reply. It is the signal the orchestrator uses to preempt.
	UserInterrupted
	// AISpeaking marks silence frames observed while the assistant is
	// mid-reply; they do not advance pause classification.
	AISpeaking
	// ShortPause is a natural intra-sentence gap, too short to act on.
	ShortPause
	// PauseStarted is a gap long enough to suggest the speaker may be
	// finishing a thought.
	PauseStarted
	// SignificantPause is the gap that should trigger an assistant reply.
	SignificantPause
	// Waiting is an extended gap after a significant pause.
	Waiting
	// Timeout is a gap so long the session should be considered idle.
	Timeout
)

var eventNames = map[Event]string{
	Listening:        "LISTENING",
	SpeechStarted:    "SPEECH_STARTED",
	SpeechContinuing: "SPEECH_CONTINUING",
	UserInterrupted:  "USER_INTERRUPTED",
	AISpeaking:       "AI_SPEAKING",
	ShortPause:       "SHORT_PAUSE",
	PauseStarted:     "PAUSE_STARTED",
	SignificantPause: "SIGNIFICANT_PAUSE",
	Waiting:          "WAITING",
	Timeout:          "TIMEOUT",
}

// String returns the canonical wire name of the event.
func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "UNKNOWN"
}

// Result is the detector's verdict for one frame.
type Result struct {
	// Speech reports whether the frame's energy crossed the adaptive
	// threshold.
	Speech bool
	// Energy is the frame's RMS energy in [0, 1].
	Energy float64
	// Confidence expresses how decisively the energy cleared (or missed)
	// the threshold, in [0, 1].
	Confidence float64
	// Threshold is the adaptive threshold the frame was judged against.
	Threshold float64
	// SilenceDuration is the accumulated duration of the current silence
	// run, zero while speech is active.
	SilenceDuration time.Duration
	// SpeechDuration is the accumulated duration of the current speech
	// run, zero while silence is active.
	SpeechDuration time.Duration
	// Timestamp is the capture time of the classified frame.
	Timestamp time.Time
	// Event is the conversational classification.
	Event Event
}

// ShouldTriggerAI reports whether this result should start reply
// generation. Every frame inside the significant-pause band reports true;
// the orchestrator is responsible for firing at most one generation per
// pause.
func (r Result) ShouldTriggerAI() bool { return r.Event == SignificantPause }

// ShouldInterruptAI reports whether this result should preempt an
// in-flight reply.
func (r Result) ShouldInterruptAI() bool { return r.Event == UserInterrupted }

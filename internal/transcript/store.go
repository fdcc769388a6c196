// Package transcript maintains the dual-buffer transcript state of one
// conversation: a single live segment that is replaced wholesale on every
// partial recognition result, and an append-only list of confirmed
// segments.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// DefaultMaxConfirmed bounds the confirmed-segment list. When the bound is
// reached the oldest segment is dropped; the assembled context window stays
// recent.
const DefaultMaxConfirmed = 100

// Segment is one recognised utterance span.
type Segment struct {
	Text       string
	Confidence float64
	Start      time.Time
	End        time.Time
	Final      bool
}

// Context is a consistent snapshot of the conversation text at one instant.
type Context struct {
	// Confirmed is the finalised text, segments joined by single spaces.
	Confirmed string
	// Live is the current in-progress hypothesis, possibly empty.
	Live string
	// HasContent reports whether either buffer holds non-blank text.
	HasContent bool
}

// Prompt assembles the text handed to the language model: confirmed text
// with the live hypothesis appended.
func (c Context) Prompt() string {
	switch {
	case c.Confirmed == "":
		return c.Live
	case c.Live == "":
		return c.Confirmed
	default:
		return c.Confirmed + " " + c.Live
	}
}

// Store holds the transcript buffers for one session. All methods are safe
// for concurrent use.
type Store struct {
	mu sync.Mutex

	live      Segment
	hasLive   bool
	liveStart time.Time

	confirmed    []Segment
	maxConfirmed int
}

// NewStore constructs a Store. maxConfirmed bounds the confirmed list;
// values below 1 take [DefaultMaxConfirmed].
func NewStore(maxConfirmed int) *Store {
	if maxConfirmed < 1 {
		maxConfirmed = DefaultMaxConfirmed
	}
	return &Store{maxConfirmed: maxConfirmed}
}

// UpdateLive replaces the live segment with a new partial hypothesis. The
// first partial of an utterance pins the segment's start time; later
// partials keep it.
func (s *Store) UpdateLive(text string, confidence float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLive {
		s.liveStart = at
	}
	s.live = Segment{
		Text:       text,
		Confidence: confidence,
		Start:      s.liveStart,
		End:        at,
	}
	s.hasLive = true
}

// Confirm finalises an utterance: the text is appended to the confirmed
// list and the live buffer is cleared. Blank text still clears the live
// buffer but appends nothing.
func (s *Store) Confirm(text string, confidence float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := at
	if s.hasLive {
		start = s.liveStart
	}
	s.live = Segment{}
	s.hasLive = false

	if strings.TrimSpace(text) == "" {
		return
	}
	seg := Segment{
		Text:       strings.TrimSpace(text),
		Confidence: confidence,
		Start:      start,
		End:        at,
		Final:      true,
	}
	if len(s.confirmed) == s.maxConfirmed {
		copy(s.confirmed, s.confirmed[1:])
		s.confirmed = s.confirmed[:len(s.confirmed)-1]
	}
	s.confirmed = append(s.confirmed, seg)
}

// Context returns a consistent snapshot of both buffers.
func (s *Store) Context() Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]string, 0, len(s.confirmed))
	for _, seg := range s.confirmed {
		parts = append(parts, seg.Text)
	}
	confirmed := strings.TrimSpace(strings.Join(parts, " "))

	live := ""
	if s.hasLive {
		live = strings.TrimSpace(s.live.Text)
	}

	return Context{
		Confirmed:  confirmed,
		Live:       live,
		HasContent: confirmed != "" || live != "",
	}
}

// Segments returns a copy of the confirmed segments in arrival order.
func (s *Store) Segments() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Segment, len(s.confirmed))
	copy(out, s.confirmed)
	return out
}

// Reset discards both buffers. Used on session end.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.live = Segment{}
	s.hasLive = false
	s.confirmed = nil
}

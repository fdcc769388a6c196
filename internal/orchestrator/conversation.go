// Package orchestrator runs the per-session conversation loop: audio frames
// go through voice-activity detection, speech is forwarded to the STT
// provider, significant pauses trigger a streaming LLM reply, and user
// speech during a reply preempts it.
//
// A Conversation owns all per-session state. Frame handling is serialised
// under one mutex, so the VAD detector and transcript store never see
// concurrent access; only the STT pump, the reply stream, and persistence
// run on their own goroutines.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vocalis-ai/vocalis/internal/event"
	"github.com/vocalis-ai/vocalis/internal/observe"
	"github.com/vocalis-ai/vocalis/internal/session"
	"github.com/vocalis-ai/vocalis/internal/transcript"
	"github.com/vocalis-ai/vocalis/internal/vad"
	"github.com/vocalis-ai/vocalis/pkg/audio"
	"github.com/vocalis-ai/vocalis/pkg/memory"
	"github.com/vocalis-ai/vocalis/pkg/provider/llm"
	"github.com/vocalis-ai/vocalis/pkg/provider/stt"
)

// ErrSessionEnded is returned by HandleFrame after End has been called.
var ErrSessionEnded = errors.New("orchestrator: session ended")

// sttFailureLimit is how many consecutive stream-open failures the
// conversation tolerates before it stops retrying speech recognition.
const sttFailureLimit = 3

// defaultPersistTimeout bounds the background save of a finished exchange.
const defaultPersistTimeout = 5 * time.Second

// State is the conversation's coarse lifecycle phase, derived from the VAD
// classification and the in-flight reply.
type State int

const (
	// Listening means no speech and no reply in flight.
	Listening State = iota
	// ProcessingSpeech means the user is speaking.
	ProcessingSpeech
	// DetectingPause means the user stopped and the pause is being timed.
	DetectingPause
	// AIProcessing means a reply was triggered but no token has arrived yet.
	AIProcessing
	// AIResponding means reply tokens are streaming out.
	AIResponding
	// UserInterrupted means user speech just preempted a reply.
	UserInterrupted
)

var stateNames = map[State]string{
	Listening:        "LISTENING",
	ProcessingSpeech: "PROCESSING_SPEECH",
	DetectingPause:   "DETECTING_PAUSE",
	AIProcessing:     "AI_PROCESSING",
	AIResponding:     "AI_RESPONDING",
	UserInterrupted:  "USER_INTERRUPTED",
}

// String returns the wire name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config tunes a Conversation. Zero fields take sensible defaults.
type Config struct {
	// STT describes the audio format handed to the speech provider.
	STT stt.StreamConfig

	// SystemPrompt is injected ahead of the user's transcript on every
	// generation.
	SystemPrompt string

	// Temperature and MaxTokens are forwarded to the LLM provider.
	Temperature float64
	MaxTokens   int

	// VAD tunes the voice-activity detector.
	VAD vad.Config

	// MaxConfirmed bounds the confirmed transcript history.
	MaxConfirmed int

	// SinkBuffer is the event stream capacity. Zero takes the sink default.
	SinkBuffer int

	// PersistTimeout bounds the background exchange save.
	PersistTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.STT.SampleRate <= 0 {
		c.STT.SampleRate = 16000
	}
	if c.STT.Channels <= 0 {
		c.STT.Channels = 1
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = defaultPersistTimeout
	}
}

// generation tracks one in-flight reply. The id makes late tokens from a
// cancelled generation recognisable and discardable.
type generation struct {
	id      uint64
	cancel  context.CancelFunc
	started time.Time
}

// Conversation is the orchestrator for one session. All exported methods are
// safe for concurrent use.
type Conversation struct {
	id     string
	sttP   stt.Provider
	llmP   llm.Provider
	store  memory.ExchangeStore
	logger *slog.Logger
	meters *observe.Metrics
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        State
	detector     *vad.Detector
	transcripts  *transcript.Store
	sink         *event.Sink
	sttHandle    stt.SessionHandle
	sttFailures  int
	sttFatal     bool
	inflight     *generation
	genSeq       uint64
	lastPrompt   string
	lastActivity time.Time
	ended        bool
}

var _ session.Conversation = (*Conversation)(nil)

// Option is a functional option for NewConversation.
type Option func(*Conversation)

// WithLogger sets the conversation logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics attaches metric instruments. Without it nothing is recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Conversation) { c.meters = m }
}

// WithMemory sets the exchange store. Defaults to memory.Discard.
func WithMemory(store memory.ExchangeStore) Option {
	return func(c *Conversation) {
		if store != nil {
			c.store = store
		}
	}
}

// NewConversation builds the orchestrator for one session and emits
// session.started on its event stream.
func NewConversation(id string, sttP stt.Provider, llmP llm.Provider, cfg Config, opts ...Option) (*Conversation, error) {
	if id == "" {
		return nil, errors.New("orchestrator: session id must not be empty")
	}
	if sttP == nil {
		return nil, errors.New("orchestrator: stt provider must not be nil")
	}
	if llmP == nil {
		return nil, errors.New("orchestrator: llm provider must not be nil")
	}
	cfg.applyDefaults()

	detector, err := vad.NewDetector(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conversation{
		id:           id,
		sttP:         sttP,
		llmP:         llmP,
		store:        memory.Discard{},
		logger:       slog.Default(),
		cfg:          cfg,
		ctx:          ctx,
		cancel:       cancel,
		state:        Listening,
		detector:     detector,
		transcripts:  transcript.NewStore(cfg.MaxConfirmed),
		sink:         event.NewSink(id, cfg.SinkBuffer),
		lastActivity: time.Now(),
	}
	for _, o := range opts {
		o(c)
	}

	c.sink.Emit(event.SessionStarted, nil)
	if c.meters != nil {
		c.meters.ActiveSessions.Add(ctx, 1)
	}
	c.logger.Info("session started", "session_id", id)
	return c, nil
}

// ID returns the session id.
func (c *Conversation) ID() string { return c.id }

// Events returns the session's ordered event stream. The channel is closed
// by End; buffered events remain readable after that.
func (c *Conversation) Events() <-chan event.Event { return c.sink.Events() }

// State returns the current lifecycle phase.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActivity returns the time of the most recent frame, transcript, or
// heartbeat.
func (c *Conversation) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Heartbeat refreshes the activity clock without sending audio.
func (c *Conversation) Heartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

// HandleFrame runs one audio frame through the pipeline: VAD classification,
// reply preemption on user speech, STT forwarding, and the significant-pause
// reply trigger. Frames must arrive from a single goroutine per session;
// concurrent calls are safe but serialise.
func (c *Conversation) HandleFrame(frame audio.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return ErrSessionEnded
	}
	c.lastActivity = time.Now()

	res := c.detector.Process(frame)
	if c.meters != nil {
		c.meters.RecordFrame(c.ctx, res.Event.String())
	}

	if res.ShouldInterruptAI() && c.inflight != nil {
		c.cancelGenerationLocked()
	}

	c.forwardAudioLocked(frame)

	// Trigger a reply on a significant pause. The detector reports the band
	// on every frame, so the in-flight check and the last-prompt guard keep
	// it to one generation per pause.
	if res.ShouldTriggerAI() && c.inflight == nil {
		if snap := c.transcripts.Context(); snap.HasContent {
			if prompt := snap.Prompt(); prompt != c.lastPrompt {
				c.startGenerationLocked(prompt)
			}
		}
	}

	c.updateStateLocked(res)
	return nil
}

// ─── STT ────────────────────────────────────────────────────────────────────

// forwardAudioLocked hands the frame to the STT session, opening or
// reopening the stream as needed. Failures are tolerated until the
// consecutive-failure limit; audio is dropped while no stream is open.
func (c *Conversation) forwardAudioLocked(frame audio.Frame) {
	if c.sttFatal {
		return
	}
	if c.sttHandle == nil && !c.openSTTLocked() {
		return
	}
	if err := c.sttHandle.SendAudio(frame.PCM()); err != nil {
		c.logger.Warn("stt send failed, dropping stream", "session_id", c.id, "error", err)
		_ = c.sttHandle.Close()
		c.sttHandle = nil
	}
}

func (c *Conversation) openSTTLocked() bool {
	handle, err := c.sttP.StartStream(c.ctx, c.cfg.STT)
	if err != nil {
		c.sttFailures++
		if c.meters != nil {
			c.meters.RecordProviderError(c.ctx, "stt", "open")
		}
		if errors.Is(err, stt.ErrFatal) || c.sttFailures >= sttFailureLimit {
			c.sttFatal = true
			c.sink.Emit(event.Error, fmt.Sprintf("speech recognition unavailable: %v", err))
			c.logger.Error("stt permanently unavailable", "session_id", c.id, "failures", c.sttFailures, "error", err)
		} else {
			c.logger.Warn("stt open failed", "session_id", c.id, "failures", c.sttFailures, "error", err)
		}
		return false
	}
	c.sttFailures = 0
	c.sttHandle = handle
	c.wg.Add(1)
	go c.pumpTranscripts(handle)
	return true
}

// pumpTranscripts drains one STT session's channels into the transcript
// store until the session ends.
func (c *Conversation) pumpTranscripts(h stt.SessionHandle) {
	defer c.wg.Done()

	partials, finals, errs := h.Partials(), h.Finals(), h.Errors()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			c.onTranscript(t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			c.onTranscript(t)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.onSTTError(err)
		case <-c.ctx.Done():
			return
		}
	}

	c.mu.Lock()
	if c.sttHandle == h {
		c.sttHandle = nil
	}
	c.mu.Unlock()
}

func (c *Conversation) onTranscript(t stt.Transcript) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.lastActivity = time.Now()

	now := time.Now()
	if t.IsFinal {
		c.transcripts.Confirm(t.Text, t.Confidence, now)
		c.sink.Emit(event.TranscriptFinal, event.TranscriptPayload{
			Text:       t.Text,
			Confidence: t.Confidence,
			Final:      true,
		})
		return
	}
	c.transcripts.UpdateLive(t.Text, t.Confidence, now)
	c.sink.Emit(event.TranscriptPartial, event.TranscriptPayload{
		Text:       t.Text,
		Confidence: t.Confidence,
	})
}

func (c *Conversation) onSTTError(err error) {
	c.logger.Warn("stt stream error", "session_id", c.id, "error", err)
	if c.meters != nil {
		c.meters.RecordProviderError(c.ctx, "stt", "stream")
	}
	if !errors.Is(err, stt.ErrFatal) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended || c.sttFatal {
		return
	}
	c.sttFatal = true
	c.sink.Emit(event.Error, fmt.Sprintf("speech recognition unavailable: %v", err))
}

// ─── Reply generation ───────────────────────────────────────────────────────

func (c *Conversation) startGenerationLocked(prompt string) {
	c.genSeq++
	genCtx, cancel := context.WithCancel(c.ctx)
	gen := &generation{id: c.genSeq, cancel: cancel, started: time.Now()}

	c.inflight = gen
	c.state = AIProcessing
	c.lastPrompt = prompt
	c.detector.OnAIResponseStarted()
	c.sink.Emit(event.AIThinking, nil)

	c.wg.Add(1)
	go c.runGeneration(genCtx, gen, prompt)
}

// runGeneration streams one reply. Tokens are applied only while this
// generation is still the in-flight one; anything arriving after an
// interruption is drained and discarded.
func (c *Conversation) runGeneration(ctx context.Context, gen *generation, prompt string) {
	defer c.wg.Done()

	req := llm.CompletionRequest{
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		Temperature:  c.cfg.Temperature,
		MaxTokens:    c.cfg.MaxTokens,
		SystemPrompt: c.cfg.SystemPrompt,
	}
	chunks, err := c.llmP.StreamCompletion(ctx, req)
	if err != nil {
		c.mu.Lock()
		if c.currentLocked(gen) {
			c.sink.Emit(event.Error, fmt.Sprintf("reply generation failed: %v", err))
			c.finishLocked()
		}
		c.mu.Unlock()
		if c.meters != nil {
			c.meters.RecordProviderError(ctx, "llm", "start")
		}
		c.logger.Error("llm stream start failed", "session_id", c.id, "error", err)
		return
	}

	var (
		reply      strings.Builder
		tokensUsed int
		firstToken time.Time
		failed     bool
	)
	for chunk := range chunks {
		c.mu.Lock()
		if !c.currentLocked(gen) {
			c.mu.Unlock()
			for range chunks { // unblock the provider
			}
			return
		}
		if chunk.Usage != nil {
			tokensUsed = chunk.Usage.TotalTokens
		}
		if chunk.FinishReason == "error" {
			failed = true
			c.sink.Emit(event.Error, fmt.Sprintf("reply generation failed: %s", chunk.Text))
			c.mu.Unlock()
			continue
		}
		if chunk.Text != "" {
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			if c.state == AIProcessing {
				c.state = AIResponding
			}
			reply.WriteString(chunk.Text)
			c.sink.Emit(event.AIDelta, chunk.Text)
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(gen) {
		return
	}
	if failed {
		if c.meters != nil {
			c.meters.RecordProviderError(c.ctx, "llm", "stream")
		}
		c.finishLocked()
		return
	}

	total := time.Since(gen.started)
	content := reply.String()
	c.sink.Emit(event.AIDone, event.DonePayload{
		Content:      content,
		Model:        c.llmP.Model(),
		TokensUsed:   tokensUsed,
		ProcessingMs: total.Milliseconds(),
	})
	if c.meters != nil {
		var ft time.Duration
		if !firstToken.IsZero() {
			ft = firstToken.Sub(gen.started)
		}
		c.meters.RecordReply(c.ctx, total, ft)
	}

	c.wg.Add(1)
	go c.persistExchange(memory.Exchange{
		SessionID:  c.id,
		UserText:   prompt,
		ReplyText:  content,
		Model:      c.llmP.Model(),
		TokensUsed: tokensUsed,
		Processing: total,
		CreatedAt:  time.Now(),
	})

	c.finishLocked()
}

// currentLocked reports whether gen is still the live generation.
func (c *Conversation) currentLocked(gen *generation) bool {
	return !c.ended && c.inflight != nil && c.inflight.id == gen.id
}

// finishLocked clears the in-flight generation and returns to Listening.
func (c *Conversation) finishLocked() {
	c.inflight = nil
	c.detector.OnAIResponseFinished()
	c.state = Listening
}

// cancelGenerationLocked preempts the in-flight reply. Idempotent.
func (c *Conversation) cancelGenerationLocked() {
	if c.inflight == nil {
		return
	}
	c.inflight.cancel()
	c.inflight = nil
	c.detector.OnAIResponseFinished()
	c.sink.Emit(event.AIInterrupted, nil)
	c.state = UserInterrupted
	if c.meters != nil {
		c.meters.RecordInterruption(c.ctx)
	}
	c.logger.Info("reply interrupted by user speech", "session_id", c.id)
}

// persistExchange saves the finished exchange in the background. Failures
// are logged and counted but never surface to the session.
func (c *Conversation) persistExchange(ex memory.Exchange) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
	defer cancel()
	if err := c.store.SaveExchange(ctx, ex); err != nil {
		c.logger.Error("exchange persist failed", "session_id", c.id, "error", err)
		if c.meters != nil {
			c.meters.RecordPersistenceError(ctx)
		}
	}
}

// ─── State & teardown ───────────────────────────────────────────────────────

// updateStateLocked maps the frame's VAD classification to a lifecycle
// phase. While a reply is in flight the generation goroutine owns the state.
func (c *Conversation) updateStateLocked(res vad.Result) {
	if c.inflight != nil {
		return
	}
	switch res.Event {
	case vad.SpeechStarted, vad.SpeechContinuing:
		c.state = ProcessingSpeech
	case vad.UserInterrupted:
		c.state = UserInterrupted
	case vad.ShortPause, vad.PauseStarted, vad.SignificantPause:
		c.state = DetectingPause
	default:
		c.state = Listening
	}
}

// End tears the session down: the in-flight reply is cancelled, the STT
// stream is closed, the transcript context is cleared, and the event stream
// ends after session.ended. Safe to call more than once.
func (c *Conversation) End(ctx context.Context) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	handle := c.sttHandle
	c.sttHandle = nil
	gen := c.inflight
	c.inflight = nil
	if gen != nil {
		c.sink.Emit(event.AIInterrupted, nil)
	}
	c.transcripts.Reset()
	c.sink.Emit(event.SessionEnded, nil)
	c.mu.Unlock()

	if gen != nil {
		gen.cancel()
	}
	if handle != nil {
		_ = handle.Close()
	}
	c.cancel()
	c.wg.Wait()
	c.sink.Close()

	if c.meters != nil {
		c.meters.ActiveSessions.Add(context.Background(), -1)
	}
	c.logger.InfoContext(ctx, "session ended", "session_id", c.id)
}

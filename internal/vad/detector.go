package vad

import (
	"errors"
	"fmt"
	"time"

	"github.com/vocalis-ai/vocalis/pkg/audio"
)

// Default tuning. The pause bands follow conversational timing research:
// gaps under 300 ms are intra-sentence, one second of silence usually ends
// a thought, and three seconds without follow-up means the turn is over.
const (
	DefaultBaseThreshold = 0.01
	DefaultShortPause    = 300 * time.Millisecond
	DefaultTriggerPause  = 1000 * time.Millisecond
	DefaultWaitingPause  = 3000 * time.Millisecond
	DefaultTimeout       = 10000 * time.Millisecond
	DefaultHistorySize   = 50

	// baselineDecay controls the noise-floor EMA. The baseline only adapts
	// during silence so sustained speech cannot raise the floor under
	// itself.
	baselineDecay  = 0.95
	baselineGain   = 1 - baselineDecay
	thresholdScale = 2.0
)

// Config tunes a Detector. Zero fields take their defaults.
type Config struct {
	// BaseThreshold is the floor below which the adaptive threshold never
	// drops.
	BaseThreshold float64
	// ShortPause is the upper bound (inclusive) of the short-pause band.
	ShortPause time.Duration
	// TriggerPause is the upper bound (inclusive) of the pause-started
	// band; silence beyond it enters the significant-pause band.
	TriggerPause time.Duration
	// WaitingPause is the upper bound (inclusive) of the significant-pause
	// band.
	WaitingPause time.Duration
	// Timeout is the silence duration at which the session is idle.
	Timeout time.Duration
	// HistorySize bounds the retained classification history.
	HistorySize int
}

func (c *Config) applyDefaults() {
	if c.BaseThreshold <= 0 {
		c.BaseThreshold = DefaultBaseThreshold
	}
	if c.ShortPause <= 0 {
		c.ShortPause = DefaultShortPause
	}
	if c.TriggerPause <= 0 {
		c.TriggerPause = DefaultTriggerPause
	}
	if c.WaitingPause <= 0 {
		c.WaitingPause = DefaultWaitingPause
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
}

// validate checks band ordering after defaults are applied.
func (c Config) validate() error {
	var errs []error
	if c.ShortPause >= c.TriggerPause {
		errs = append(errs, fmt.Errorf("vad: short pause %v must be below trigger pause %v", c.ShortPause, c.TriggerPause))
	}
	if c.TriggerPause >= c.WaitingPause {
		errs = append(errs, fmt.Errorf("vad: trigger pause %v must be below waiting pause %v", c.TriggerPause, c.WaitingPause))
	}
	if c.WaitingPause >= c.Timeout {
		errs = append(errs, fmt.Errorf("vad: waiting pause %v must be below timeout %v", c.WaitingPause, c.Timeout))
	}
	return errors.Join(errs...)
}

// Detector is a single-session voice activity detector. It is not safe for
// concurrent use; the owning orchestrator serialises frame processing.
type Detector struct {
	cfg Config

	baseline   float64
	silenceDur time.Duration
	speechDur  time.Duration
	prevSpeech bool
	everSpoke  bool
	aiSpeaking bool

	history []Result
}

// NewDetector constructs a Detector with the given tuning.
func NewDetector(cfg Config) (*Detector, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Threshold returns the current adaptive speech threshold:
// max(BaseThreshold, 2.0×baseline).
func (d *Detector) Threshold() float64 {
	adaptive := d.baseline * thresholdScale
	if adaptive < d.cfg.BaseThreshold {
		return d.cfg.BaseThreshold
	}
	return adaptive
}

// Baseline returns the current ambient-noise estimate.
func (d *Detector) Baseline() float64 { return d.baseline }

// Process classifies one frame and advances the detector's state. Silence
// and speech run lengths accumulate frame durations, so classification is a
// pure function of the frame sequence.
func (d *Detector) Process(frame audio.Frame) Result {
	energy := frame.RMS()
	threshold := d.Threshold()
	speech := energy > threshold

	if speech {
		d.speechDur += frame.Duration()
		d.silenceDur = 0
	} else {
		d.silenceDur += frame.Duration()
		d.speechDur = 0
		// Adapt the noise floor only while nobody is talking.
		d.baseline = d.baseline*baselineDecay + energy*baselineGain
	}

	res := Result{
		Speech:          speech,
		Energy:          energy,
		Confidence:      confidence(energy, threshold),
		Threshold:       threshold,
		SilenceDuration: d.silenceDur,
		SpeechDuration:  d.speechDur,
		Timestamp:       frame.CapturedAt(),
		Event:           d.classify(speech),
	}

	if speech {
		d.everSpoke = true
	}
	d.prevSpeech = speech
	d.record(res)
	return res
}

// classify maps the current run lengths onto a conversational event. Band
// boundaries belong to the lower band: exactly 300 ms of silence is still a
// short pause.
func (d *Detector) classify(speech bool) Event {
	if speech {
		if d.aiSpeaking {
			return UserInterrupted
		}
		if !d.prevSpeech {
			return SpeechStarted
		}
		return SpeechContinuing
	}

	if d.aiSpeaking {
		return AISpeaking
	}

	switch dur := d.silenceDur; {
	case dur <= d.cfg.ShortPause:
		if !d.everSpoke {
			return Listening
		}
		return ShortPause
	case dur <= d.cfg.TriggerPause:
		return PauseStarted
	case dur <= d.cfg.WaitingPause:
		return SignificantPause
	case dur < d.cfg.Timeout:
		return Waiting
	default:
		return Timeout
	}
}

// record appends to the bounded history, dropping the oldest entry.
func (d *Detector) record(res Result) {
	if len(d.history) == d.cfg.HistorySize {
		copy(d.history, d.history[1:])
		d.history = d.history[:len(d.history)-1]
	}
	d.history = append(d.history, res)
}

// History returns a copy of the retained classification history, oldest
// first.
func (d *Detector) History() []Result {
	out := make([]Result, len(d.history))
	copy(out, d.history)
	return out
}

// OnAIResponseStarted tells the detector the assistant began replying.
// Subsequent silence classifies as AISpeaking and speech as
// UserInterrupted.
func (d *Detector) OnAIResponseStarted() { d.aiSpeaking = true }

// OnAIResponseFinished tells the detector the assistant's reply ended,
// whether completed or preempted.
func (d *Detector) OnAIResponseFinished() { d.aiSpeaking = false }

// AISpeaking reports whether the detector believes a reply is in flight.
func (d *Detector) AISpeaking() bool { return d.aiSpeaking }

// confidence grades how far the energy sits from the threshold, clamped to
// [0, 1]. Right at the threshold the verdict is a coin flip (0.5).
func confidence(energy, threshold float64) float64 {
	if threshold == 0 {
		if energy > 0 {
			return 1
		}
		return 0.5
	}
	c := 0.5 + (energy-threshold)/(2*threshold)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

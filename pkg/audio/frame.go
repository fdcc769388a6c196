// Package audio defines the immutable PCM frame value that flows through the
// Vocalis pipeline.
//
// A Frame is the atomic unit of audio transport: captured at the WebSocket
// boundary, classified by the VAD, and forwarded to the STT stream. Frames
// are value objects — once constructed they never change, so they are safe
// to share across components and goroutines without synchronisation.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// bytesPerSample is the width of a single 16-bit PCM sample.
const bytesPerSample = 2

// frameSeq is the process-wide monotonic sequence counter. Every frame gets
// a unique, strictly increasing sequence number at construction; ties are
// impossible.
var frameSeq atomic.Uint64

// Frame is an immutable window of signed 16-bit little-endian PCM audio.
//
// Construct frames with [NewFrame]; the zero value is not a valid frame.
type Frame struct {
	payload    []byte
	sampleRate int
	channels   int
	seq        uint64
	capturedAt time.Time
}

// NewFrame validates and constructs a Frame. The payload is copied, so the
// caller may reuse its buffer after NewFrame returns.
//
// Validation rules: payload must be non-empty, sampleRate and channels must
// be positive, and the payload length must be a multiple of channels×2
// (whole 16-bit samples on every channel).
func NewFrame(payload []byte, sampleRate, channels int, capturedAt time.Time) (Frame, error) {
	if len(payload) == 0 {
		return Frame{}, errors.New("audio: frame payload must not be empty")
	}
	if sampleRate <= 0 {
		return Frame{}, fmt.Errorf("audio: sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return Frame{}, fmt.Errorf("audio: channel count must be positive, got %d", channels)
	}
	if len(payload)%(channels*bytesPerSample) != 0 {
		return Frame{}, fmt.Errorf("audio: payload length %d is not a multiple of %d (channels×2)",
			len(payload), channels*bytesPerSample)
	}

	p := make([]byte, len(payload))
	copy(p, payload)

	return Frame{
		payload:    p,
		sampleRate: sampleRate,
		channels:   channels,
		seq:        frameSeq.Add(1),
		capturedAt: capturedAt,
	}, nil
}

// PCM returns the raw 16-bit little-endian payload. The returned slice is
// owned by the frame and must not be modified.
func (f Frame) PCM() []byte { return f.payload }

// SampleRate returns the sample rate in Hz.
func (f Frame) SampleRate() int { return f.sampleRate }

// Channels returns the channel count.
func (f Frame) Channels() int { return f.channels }

// Seq returns the process-wide monotonic sequence number assigned at
// construction.
func (f Frame) Seq() uint64 { return f.seq }

// CapturedAt returns the capture timestamp.
func (f Frame) CapturedAt() time.Time { return f.capturedAt }

// Samples returns the number of per-channel sample frames in the payload.
func (f Frame) Samples() int {
	return len(f.payload) / (f.channels * bytesPerSample)
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.sampleRate == 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.sampleRate)
}

// RMS computes the root-mean-square energy of the frame with samples
// normalised to [-1, 1]. The result is in [0, 1]: 0 for digital silence,
// approaching 1 for a full-scale square wave.
func (f Frame) RMS() float64 {
	n := len(f.payload) / bytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(f.payload); i += bytesPerSample {
		s := float64(decodeSample(f.payload[i], f.payload[i+1])) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Peak returns the largest absolute sample amplitude, normalised to [0, 1].
func (f Frame) Peak() float64 {
	var peak float64
	for i := 0; i+1 < len(f.payload); i += bytesPerSample {
		a := math.Abs(float64(decodeSample(f.payload[i], f.payload[i+1]))) / 32768.0
		if a > peak {
			peak = a
		}
	}
	return peak
}

// Equal reports structural equality over all fields, including the payload
// bytes and the sequence number.
func (f Frame) Equal(other Frame) bool {
	return f.seq == other.seq &&
		f.sampleRate == other.sampleRate &&
		f.channels == other.channels &&
		f.capturedAt.Equal(other.capturedAt) &&
		bytes.Equal(f.payload, other.payload)
}

// decodeSample decodes one little-endian int16 sample.
func decodeSample(lo, hi byte) int16 {
	return int16(lo) | int16(hi)<<8
}

package audio

import (
	"testing"
	"time"
)

// pcmSamples packs int16 samples into a little-endian byte slice.
func pcmSamples(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

func TestNewFrameValidation(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		name       string
		payload    []byte
		sampleRate int
		channels   int
		wantErr    bool
	}{
		{name: "valid mono", payload: pcmSamples(0, 100, -100), sampleRate: 16000, channels: 1},
		{name: "valid stereo", payload: pcmSamples(1, 2, 3, 4), sampleRate: 48000, channels: 2},
		{name: "empty payload", payload: nil, sampleRate: 16000, channels: 1, wantErr: true},
		{name: "zero sample rate", payload: pcmSamples(0), sampleRate: 0, channels: 1, wantErr: true},
		{name: "negative sample rate", payload: pcmSamples(0), sampleRate: -1, channels: 1, wantErr: true},
		{name: "zero channels", payload: pcmSamples(0), sampleRate: 16000, channels: 0, wantErr: true},
		{name: "odd byte length", payload: []byte{0x01}, sampleRate: 16000, channels: 1, wantErr: true},
		{name: "stereo misaligned", payload: pcmSamples(1), sampleRate: 16000, channels: 2, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewFrame(tc.payload, tc.sampleRate, tc.channels, now)
			if tc.wantErr && err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFramePayloadCopied(t *testing.T) {
	t.Parallel()

	buf := pcmSamples(1000, 2000)
	f, err := NewFrame(buf, 16000, 1, time.Now())
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	buf[0] = 0xFF
	buf[1] = 0x7F
	if f.PCM()[0] == 0xFF && f.PCM()[1] == 0x7F {
		t.Error("frame payload aliases the caller's buffer")
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		samples    int
		sampleRate int
		channels   int
		want       time.Duration
	}{
		{name: "100ms mono 16k", samples: 1600, sampleRate: 16000, channels: 1, want: 100 * time.Millisecond},
		{name: "20ms mono 16k", samples: 320, sampleRate: 16000, channels: 1, want: 20 * time.Millisecond},
		{name: "10ms stereo 48k", samples: 960, sampleRate: 48000, channels: 2, want: 10 * time.Millisecond},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			payload := make([]byte, tc.samples*tc.channels*2)
			payload[0] = 1 // non-empty requirement is about length, keep a non-zero byte anyway
			f, err := NewFrame(payload, tc.sampleRate, tc.channels, time.Now())
			if err != nil {
				t.Fatalf("NewFrame: %v", err)
			}
			if got := f.Duration(); got != tc.want {
				t.Errorf("Duration() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFrameEnergy(t *testing.T) {
	t.Parallel()

	t.Run("digital silence", func(t *testing.T) {
		t.Parallel()
		f, err := NewFrame(make([]byte, 320), 16000, 1, time.Now())
		if err != nil {
			t.Fatalf("NewFrame: %v", err)
		}
		if got := f.RMS(); got != 0 {
			t.Errorf("RMS() = %v, want 0", got)
		}
		if got := f.Peak(); got != 0 {
			t.Errorf("Peak() = %v, want 0", got)
		}
	})

	t.Run("full-scale square wave", func(t *testing.T) {
		t.Parallel()
		samples := make([]int16, 160)
		for i := range samples {
			if i%2 == 0 {
				samples[i] = 32767
			} else {
				samples[i] = -32768
			}
		}
		f, err := NewFrame(pcmSamples(samples...), 16000, 1, time.Now())
		if err != nil {
			t.Fatalf("NewFrame: %v", err)
		}
		if got := f.RMS(); got < 0.99 || got > 1.0 {
			t.Errorf("RMS() = %v, want ~1.0", got)
		}
		if got := f.Peak(); got != 1.0 {
			t.Errorf("Peak() = %v, want 1.0", got)
		}
	})

	t.Run("half-scale constant", func(t *testing.T) {
		t.Parallel()
		samples := make([]int16, 160)
		for i := range samples {
			samples[i] = 16384
		}
		f, err := NewFrame(pcmSamples(samples...), 16000, 1, time.Now())
		if err != nil {
			t.Fatalf("NewFrame: %v", err)
		}
		if got := f.RMS(); got < 0.49 || got > 0.51 {
			t.Errorf("RMS() = %v, want ~0.5", got)
		}
	})
}

func TestFrameSequenceMonotonic(t *testing.T) {
	t.Parallel()

	var prev uint64
	for i := 0; i < 10; i++ {
		f, err := NewFrame(pcmSamples(0), 16000, 1, time.Now())
		if err != nil {
			t.Fatalf("NewFrame: %v", err)
		}
		if f.Seq() <= prev {
			t.Fatalf("sequence not strictly increasing: %d after %d", f.Seq(), prev)
		}
		prev = f.Seq()
	}
}

func TestFrameEqual(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a, err := NewFrame(pcmSamples(1, 2, 3), 16000, 1, now)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if !a.Equal(a) {
		t.Error("frame not equal to itself")
	}

	b, err := NewFrame(pcmSamples(1, 2, 3), 16000, 1, now)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	// Same content but distinct sequence numbers.
	if a.Equal(b) {
		t.Error("frames with different sequence numbers compare equal")
	}
}

package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/vocalis-ai/vocalis/pkg/provider/stt"
	sttmock "github.com/vocalis-ai/vocalis/pkg/provider/stt/mock"
)

func TestSTTFallbackPrimaryHealthy(t *testing.T) {
	t.Parallel()

	primarySess := sttmock.NewSession()
	primary := &sttmock.Provider{Session: primarySess}
	fallback := &sttmock.Provider{Session: sttmock.NewSession()}

	f := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	f.AddFallback("backup", fallback)

	handle, err := f.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if handle != stt.SessionHandle(primarySess) {
		t.Error("session not served by primary")
	}
	if fallback.CallCount() != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.CallCount())
	}
}

func TestSTTFallbackFailover(t *testing.T) {
	t.Parallel()

	fallbackSess := sttmock.NewSession()
	primary := &sttmock.Provider{StartStreamErr: errors.New("connection refused")}
	fallback := &sttmock.Provider{Session: fallbackSess}

	f := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	f.AddFallback("backup", fallback)

	handle, err := f.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if handle != stt.SessionHandle(fallbackSess) {
		t.Error("session not served by fallback")
	}
}

func TestSTTFallbackAllFailed(t *testing.T) {
	t.Parallel()

	f := NewSTTFallback(&sttmock.Provider{StartStreamErr: errors.New("down")}, "deepgram", FallbackConfig{})
	f.AddFallback("backup", &sttmock.Provider{StartStreamErr: errors.New("also down")})

	_, err := f.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

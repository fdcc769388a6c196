package transcript

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStoreLiveReplacement(t *testing.T) {
	t.Parallel()

	s := NewStore(0)
	base := time.Now()

	s.UpdateLive("hel", 0.4, base)
	s.UpdateLive("hello th", 0.6, base.Add(200*time.Millisecond))
	s.UpdateLive("hello there", 0.8, base.Add(400*time.Millisecond))

	ctx := s.Context()
	if ctx.Live != "hello there" {
		t.Errorf("Live = %q, want the latest partial only", ctx.Live)
	}
	if ctx.Confirmed != "" {
		t.Errorf("Confirmed = %q, want empty", ctx.Confirmed)
	}
	if !ctx.HasContent {
		t.Error("HasContent = false with a live hypothesis present")
	}
}

func TestStoreConfirmMovesLive(t *testing.T) {
	t.Parallel()

	s := NewStore(0)
	base := time.Now()

	s.UpdateLive("hello th", 0.6, base)
	s.Confirm("hello there", 0.95, base.Add(time.Second))
	s.UpdateLive("how are", 0.5, base.Add(2*time.Second))

	ctx := s.Context()
	if ctx.Confirmed != "hello there" {
		t.Errorf("Confirmed = %q, want %q", ctx.Confirmed, "hello there")
	}
	if ctx.Live != "how are" {
		t.Errorf("Live = %q, want %q", ctx.Live, "how are")
	}
	if got, want := ctx.Prompt(), "hello there how are"; got != want {
		t.Errorf("Prompt() = %q, want %q", got, want)
	}

	segs := s.Segments()
	if len(segs) != 1 {
		t.Fatalf("confirmed segments = %d, want 1", len(segs))
	}
	if !segs[0].Final {
		t.Error("confirmed segment not marked final")
	}
	if !segs[0].Start.Equal(base) {
		t.Errorf("segment start = %v, want the first partial's time %v", segs[0].Start, base)
	}
}

func TestStoreConfirmedOrderAndJoin(t *testing.T) {
	t.Parallel()

	s := NewStore(0)
	now := time.Now()
	s.Confirm("first", 0.9, now)
	s.Confirm("  second  ", 0.9, now)
	s.Confirm("third", 0.9, now)

	ctx := s.Context()
	if got, want := ctx.Confirmed, "first second third"; got != want {
		t.Errorf("Confirmed = %q, want %q", got, want)
	}
}

func TestStoreBlankConfirmClearsLiveOnly(t *testing.T) {
	t.Parallel()

	s := NewStore(0)
	now := time.Now()
	s.UpdateLive("mumble", 0.2, now)
	s.Confirm("   ", 0.1, now)

	ctx := s.Context()
	if ctx.HasContent {
		t.Errorf("HasContent = true after blank confirm, context = %+v", ctx)
	}
	if len(s.Segments()) != 0 {
		t.Error("blank confirm appended a segment")
	}
}

func TestStoreConfirmedBounded(t *testing.T) {
	t.Parallel()

	s := NewStore(3)
	now := time.Now()
	for i := 1; i <= 5; i++ {
		s.Confirm(fmt.Sprintf("seg%d", i), 0.9, now)
	}

	segs := s.Segments()
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	if segs[0].Text != "seg3" || segs[2].Text != "seg5" {
		t.Errorf("retained segments = [%s %s %s], want oldest dropped", segs[0].Text, segs[1].Text, segs[2].Text)
	}
}

func TestStoreReset(t *testing.T) {
	t.Parallel()

	s := NewStore(0)
	now := time.Now()
	s.Confirm("hello", 0.9, now)
	s.UpdateLive("and", 0.5, now)
	s.Reset()

	ctx := s.Context()
	if ctx.HasContent || ctx.Confirmed != "" || ctx.Live != "" {
		t.Errorf("context after reset = %+v, want empty", ctx)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewStore(0)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.UpdateLive(fmt.Sprintf("partial %d-%d", n, j), 0.5, now)
				s.Confirm(fmt.Sprintf("final %d-%d", n, j), 0.9, now)
				_ = s.Context()
			}
		}(i)
	}
	wg.Wait()

	if got := len(s.Segments()); got != DefaultMaxConfirmed {
		t.Errorf("segments after 400 confirms = %d, want bound %d", got, DefaultMaxConfirmed)
	}
}

package memory

import (
	"context"
	"testing"
)

func TestDiscardStore(t *testing.T) {
	t.Parallel()

	var s Discard
	if err := s.SaveExchange(context.Background(), Exchange{SessionID: "x"}); err != nil {
		t.Fatalf("SaveExchange: %v", err)
	}
	got, err := s.RecentExchanges(context.Background(), "x", 10)
	if err != nil {
		t.Fatalf("RecentExchanges: %v", err)
	}
	if got == nil {
		t.Fatal("RecentExchanges returned nil slice, want empty")
	}
	if len(got) != 0 {
		t.Errorf("RecentExchanges returned %d exchanges, want 0", len(got))
	}
}

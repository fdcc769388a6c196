package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fakeConv is a minimal Conversation for registry tests.
type fakeConv struct {
	id       string
	lastSeen time.Time
	ended    atomic.Int32
}

func (f *fakeConv) ID() string              { return f.id }
func (f *fakeConv) LastActivity() time.Time { return f.lastSeen }
func (f *fakeConv) End(context.Context)     { f.ended.Add(1) }

func fakeFactory(t *testing.T) (Factory, *sync.Map) {
	t.Helper()
	var convs sync.Map
	return func(id string) (Conversation, error) {
		c := &fakeConv{id: id, lastSeen: time.Now()}
		convs.Store(id, c)
		return c, nil
	}, &convs
}

func TestRegistryGetOrCreateIdempotent(t *testing.T) {
	t.Parallel()

	factory, _ := fakeFactory(t)
	r := NewRegistry(factory)
	id := uuid.NewString()

	first, created, err := r.GetOrCreate(id)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Error("first GetOrCreate reported created=false")
	}

	second, created, err := r.GetOrCreate(id)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if created {
		t.Error("duplicate GetOrCreate reported created=true")
	}
	if first != second {
		t.Error("duplicate GetOrCreate returned a different conversation")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryRejectsInvalidID(t *testing.T) {
	t.Parallel()

	factory, _ := fakeFactory(t)
	r := NewRegistry(factory)

	if _, _, err := r.GetOrCreate("not-a-uuid"); err == nil {
		t.Fatal("expected error for invalid session id")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	t.Parallel()

	factory, _ := fakeFactory(t)
	r := NewRegistry(factory)

	_, err := r.Get(uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get unknown = %v, want ErrNotFound", err)
	}
}

func TestRegistryFactoryError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("boom")
	r := NewRegistry(func(string) (Conversation, error) { return nil, wantErr })

	_, _, err := r.GetOrCreate(uuid.NewString())
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetOrCreate = %v, want wrapped factory error", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after factory failure, want 0", r.Len())
	}
}

func TestRegistryEnd(t *testing.T) {
	t.Parallel()

	factory, convs := fakeFactory(t)
	r := NewRegistry(factory)
	id := uuid.NewString()
	if _, _, err := r.GetOrCreate(id); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	r.End(context.Background(), id)
	if r.Len() != 0 {
		t.Errorf("Len() = %d after End, want 0", r.Len())
	}
	v, _ := convs.Load(id)
	if got := v.(*fakeConv).ended.Load(); got != 1 {
		t.Errorf("End called %d times on conversation, want 1", got)
	}

	// Ending an unknown id must be a no-op.
	r.End(context.Background(), uuid.NewString())
}

func TestRegistryConcurrentGetOrCreate(t *testing.T) {
	t.Parallel()

	var built atomic.Int32
	r := NewRegistry(func(id string) (Conversation, error) {
		built.Add(1)
		return &fakeConv{id: id, lastSeen: time.Now()}, nil
	})
	id := uuid.NewString()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := r.GetOrCreate(id); err != nil {
				t.Errorf("GetOrCreate: %v", err)
			}
		}()
	}
	wg.Wait()

	if built.Load() != 1 {
		t.Errorf("factory ran %d times for one id, want 1", built.Load())
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistrySweepIdle(t *testing.T) {
	t.Parallel()

	factory, convs := fakeFactory(t)
	r := NewRegistry(factory, WithIdleTimeout(time.Minute))

	staleID := uuid.NewString()
	freshID := uuid.NewString()
	if _, _, err := r.GetOrCreate(staleID); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, _, err := r.GetOrCreate(freshID); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Backdate the stale conversation beyond the idle timeout.
	v, _ := convs.Load(staleID)
	v.(*fakeConv).lastSeen = time.Now().Add(-2 * time.Minute)

	if ended := r.SweepIdle(context.Background()); ended != 1 {
		t.Errorf("SweepIdle ended %d sessions, want 1", ended)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d after sweep, want 1", r.Len())
	}
	if _, err := r.Get(freshID); err != nil {
		t.Errorf("fresh session swept: %v", err)
	}
	if v.(*fakeConv).ended.Load() != 1 {
		t.Error("stale conversation End not called")
	}
}

func TestRegistryClose(t *testing.T) {
	t.Parallel()

	factory, convs := fakeFactory(t)
	r := NewRegistry(factory)
	ids := []string{uuid.NewString(), uuid.NewString()}
	for _, id := range ids {
		if _, _, err := r.GetOrCreate(id); err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
	}

	r.Close(context.Background())
	r.Close(context.Background()) // idempotent

	if r.Len() != 0 {
		t.Errorf("Len() = %d after Close, want 0", r.Len())
	}
	for _, id := range ids {
		v, _ := convs.Load(id)
		if v.(*fakeConv).ended.Load() != 1 {
			t.Errorf("conversation %s End called %d times, want 1", id, v.(*fakeConv).ended.Load())
		}
	}
}

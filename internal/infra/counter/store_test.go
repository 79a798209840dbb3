package counter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestIncrBy_CreatesWithTTLAndAccumulates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v, err := s.IncrBy(ctx, "rl:chat:u1:100", 1, time.Minute)
	if err != nil {
		t.Fatalf("IncrBy: %v", err)
	}
	if v != 1 {
		t.Errorf("expected 1 after first increment, got %d", v)
	}

	v, _ = s.IncrBy(ctx, "rl:chat:u1:100", 2, time.Minute)
	if v != 3 {
		t.Errorf("expected 3 after weighted increment, got %d", v)
	}
}

func TestIncrBy_TTLOnlyOnCreate(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	s.IncrBy(ctx, "rl:k", 1, 10*time.Second)

	// A later increment must not push the expiry forward.
	now = now.Add(8 * time.Second)
	s.IncrBy(ctx, "rl:k", 1, 10*time.Second)

	now = now.Add(3 * time.Second) // 11s after creation
	v, _ := s.Get(ctx, "rl:k")
	if v != 0 {
		t.Errorf("expected window to expire at original TTL, got value %d", v)
	}
}

func TestIncrBy_ExpiredKeyStartsFresh(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	s.IncrBy(ctx, "rl:k", 5, time.Second)
	now = now.Add(2 * time.Second)

	v, _ := s.IncrBy(ctx, "rl:k", 1, time.Second)
	if v != 1 {
		t.Errorf("expected fresh counter after expiry, got %d", v)
	}
}

func TestDecrFloor_FloorsAtZeroAndIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.IncrBy(ctx, "cc:chat:u1", 1, 2*time.Minute)

	v, err := s.DecrFloor(ctx, "cc:chat:u1")
	if err != nil {
		t.Fatalf("DecrFloor: %v", err)
	}
	if v != 0 {
		t.Errorf("expected 0 after release, got %d", v)
	}

	// Releasing again, or releasing a key that never existed, stays at zero.
	for i := 0; i < 3; i++ {
		if v, _ = s.DecrFloor(ctx, "cc:chat:u1"); v != 0 {
			t.Errorf("repeated release %d: expected 0, got %d", i, v)
		}
	}
	if v, _ = s.DecrFloor(ctx, "cc:never"); v != 0 {
		t.Errorf("release of missing key: expected 0, got %d", v)
	}
}

func TestStore_ConcurrentIncrementsAreAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const workers = 16
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.IncrBy(ctx, "k", 1, time.Minute)
			}
		}()
	}
	wg.Wait()

	v, _ := s.Get(ctx, "k")
	if v != workers*perWorker {
		t.Errorf("expected %d, got %d", workers*perWorker, v)
	}
}

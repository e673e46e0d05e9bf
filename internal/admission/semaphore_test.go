package admission

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGateTakeGiveRoundTrip(t *testing.T) {
	g := NewGate(4096)
	g.Take(4096)
	if avail := g.Available(); avail != 0 {
		t.Fatalf("expected 0 available, got %d", avail)
	}
	g.Give(1024)
	if avail := g.Available(); avail != 1024 {
		t.Fatalf("expected 1024 available, got %d", avail)
	}
}

func TestGateBlocksUntilCapacity(t *testing.T) {
	g := NewGate(1024)
	g.Take(1024)

	unblocked := make(chan struct{})
	go func() {
		g.Take(1024)
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatalf("Take should have blocked with no capacity available")
	case <-time.After(50 * time.Millisecond):
	}

	g.Give(1024)

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatalf("Take did not unblock after Give")
	}
}

func TestGateAdmitsAtMostCapacityConcurrently(t *testing.T) {
	const capacity = 4096
	const chunk = 1024
	g := NewGate(capacity)

	var mu sync.Mutex
	inUse := int64(0)
	maxSeen := int64(0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Take(chunk)
			mu.Lock()
			inUse += chunk
			if inUse > maxSeen {
				maxSeen = inUse
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inUse -= chunk
			mu.Unlock()
			g.Give(chunk)
		}()
	}
	wg.Wait()

	if maxSeen > capacity {
		t.Fatalf("observed %d bytes in flight, budget was %d", maxSeen, capacity)
	}
}

func TestGateTakeContextCancellation(t *testing.T) {
	g := NewGate(10)
	g.Take(10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := g.TakeContext(ctx, 10); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if avail := g.Available(); avail != 0 {
		t.Fatalf("cancelled Take must not have reserved capacity, available=%d", avail)
	}
}

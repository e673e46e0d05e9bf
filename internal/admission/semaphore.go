// Package admission provides a size-weighted blocking semaphore used for
// two distinct gates in this module: the client's concurrent-file
// limiter (weight 1 per file) and the server's memory-budget admission
// gate (weight chunkLength per chunk).
package admission

import (
	"context"
	"sync"
)

// Gate is a blocking, size-weighted semaphore. Take blocks until size
// units are available; Give returns size units and wakes waiters.
type Gate struct {
	max       int64
	available int64
	mu        sync.Mutex
	cond      *sync.Cond
}

// NewGate creates a gate with the given capacity.
func NewGate(max int64) *Gate {
	if max < 0 {
		max = 0
	}
	g := &Gate{max: max, available: max}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Take blocks until size units are available, then reserves them. A
// size larger than the gate's total capacity is clamped to capacity so
// a single oversized request cannot deadlock forever.
func (g *Gate) Take(size int64) {
	_ = g.TakeContext(context.Background(), size)
}

// TakeContext is Take with cancellation. Returns ctx.Err() if cancelled
// before the reservation could be made; in that case no units are held.
func (g *Gate) TakeContext(ctx context.Context, size int64) error {
	done := make(chan struct{})
	var err error
	go func() {
		err = g.takeInner(ctx, size)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.cond.Broadcast()
		<-done
	}
	return err
}

func (g *Gate) takeInner(ctx context.Context, size int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if size > g.max {
		size = g.max
	}
	for size > g.available {
		g.cond.Wait()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if size > g.max {
			size = g.max
		}
	}
	g.available -= size
	return nil
}

// Give returns size units to the gate and wakes any waiters.
func (g *Gate) Give(size int64) {
	g.mu.Lock()
	if size > g.max {
		size = g.max
	}
	if g.available+size > g.max {
		g.available = g.max
	} else {
		g.available += size
	}
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Available reports the currently free capacity.
func (g *Gate) Available() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available
}

// InUse reports the currently reserved capacity.
func (g *Gate) InUse() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max - g.available
}

package engine

import (
	"context"
	"sync/atomic"
)

// PermitPool is the executor-wide counting semaphore bounding concurrent
// agent attempts. It is shared by every wave, not sized per wave.
// A permit is held for the attempt, not for the agent goroutine: an agent
// that ignores cancellation outlives its permit after a timeout.
type PermitPool struct {
	sem   chan struct{}
	held  atomic.Int64
	peak  atomic.Int64
	total atomic.Int64
}

// NewPermitPool creates a pool with size permits (minimum 1).
func NewPermitPool(size int) *PermitPool {
	if size <= 0 {
		size = 1
	}
	return &PermitPool{sem: make(chan struct{}, size)}
}

// Acquire blocks until a permit is free or ctx is done.
func (p *PermitPool) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	n := p.held.Add(1)
	p.total.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return nil
}

// Release returns a permit. Every successful Acquire must be paired with
// exactly one Release.
func (p *PermitPool) Release() {
	p.held.Add(-1)
	<-p.sem
}

// Available returns the number of permits not currently held.
func (p *PermitPool) Available() int {
	return cap(p.sem) - len(p.sem)
}

// Capacity returns the pool size.
func (p *PermitPool) Capacity() int {
	return cap(p.sem)
}

// Peak returns the highest number of permits ever held at once.
func (p *PermitPool) Peak() int64 {
	return p.peak.Load()
}

// Acquired returns the number of permits handed out since creation.
func (p *PermitPool) Acquired() int64 {
	return p.total.Load()
}

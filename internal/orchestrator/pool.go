package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of device tasks running at once
type Pool struct {
	size           int
	sem            *semaphore.Weighted
	mu             sync.Mutex
	inFlight       int
	onSlotsChanged func(inFlight int) // Callback when slots change
}

// NewPool creates a pool with the given capacity
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// SetOnSlotsChanged sets a callback invoked with the in-flight count after every change
func (p *Pool) SetOnSlotsChanged(callback func(inFlight int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSlotsChanged = callback
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.changed(1)
	return nil
}

// Release returns a slot to the pool.
func (p *Pool) Release() {
	p.sem.Release(1)
	p.changed(-1)
}

func (p *Pool) changed(delta int) {
	p.mu.Lock()
	p.inFlight += delta
	callback := p.onSlotsChanged
	inFlight := p.inFlight
	p.mu.Unlock()

	// Notify outside of lock to avoid deadlock
	if callback != nil {
		callback(inFlight)
	}
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return p.size
}

package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool_ClampsSize(t *testing.T) {
	if got := NewPool(0).Size(); got != 1 {
		t.Errorf("got size=%d, want 1", got)
	}
	if got := NewPool(4).Size(); got != 4 {
		t.Errorf("got size=%d, want 4", got)
	}
}

func TestPool_AcquireBlocksUntilRelease(t *testing.T) {
	pool := NewPool(1)
	if err := pool.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := pool.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while the pool is full")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestPool_AcquireContextDone(t *testing.T) {
	pool := NewPool(1)
	var last atomic.Int32
	pool.SetOnSlotsChanged(func(n int) { last.Store(int32(n)) })
	if err := pool.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Acquire(ctx); err == nil {
		t.Error("acquire should fail once the context is done")
	}
	if got := last.Load(); got != 1 {
		t.Errorf("got inFlight=%d, want 1", got)
	}
}

func TestPool_Concurrent(t *testing.T) {
	pool := NewPool(3)

	var peak, current int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&current, -1)
			pool.Release()
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Errorf("peak concurrency %d exceeds pool size 3", peak)
	}

	// Every slot is free again.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := pool.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d after drain: %v", i+1, err)
		}
	}
}

func TestPool_Callback(t *testing.T) {
	pool := NewPool(2)

	var mu sync.Mutex
	var seen []int
	pool.SetOnSlotsChanged(func(inFlight int) {
		mu.Lock()
		seen = append(seen, inFlight)
		mu.Unlock()
	})

	ctx := context.Background()
	_ = pool.Acquire(ctx)
	_ = pool.Acquire(ctx)
	pool.Release()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 1 {
		t.Errorf("callback saw %v, want [1 2 1]", seen)
	}
}

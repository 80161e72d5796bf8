package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(4)
	defer p.Shutdown()

	var done int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		if !p.Submit(func() {
			defer wg.Done()
			atomic.AddInt32(&done, 1)
		}) {
			t.Fatalf("submit rejected")
		}
	}
	wg.Wait()
	if done != 20 {
		t.Fatalf("ran %d of 20 tasks", done)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3)
	defer p.Shutdown()

	var cur, max int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			n := atomic.AddInt32(&cur, 1)
			for {
				m := atomic.LoadInt32(&max)
				if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&cur, -1)
		})
	}
	wg.Wait()
	if max > 3 {
		t.Fatalf("observed %d concurrent tasks, pool size 3", max)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := NewPool(1)
	p.Shutdown()
	if p.Submit(func() {}) {
		t.Fatalf("submit accepted after shutdown")
	}
	if p.TrySubmit(func() {}) {
		t.Fatalf("trysubmit accepted after shutdown")
	}
}

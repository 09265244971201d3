package executor

import (
	"math/rand/v2"
	"sync"
	"time"
)

// outputBuffer is a FIFO of formatted output units shared between the worker
// producing them and the goroutine polling Output. signal holds at most one
// pending wake-up.
type outputBuffer struct {
	mu     sync.Mutex
	items  []string
	signal chan struct{}
}

func newOutputBuffer() *outputBuffer {
	return &outputBuffer{signal: make(chan struct{}, 1)}
}

func (b *outputBuffer) Push(unit string) {
	b.mu.Lock()
	b.items = append(b.items, unit)
	b.mu.Unlock()
	b.Notify()
}

func (b *outputBuffer) Pop() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return "", false
	}
	unit := b.items[0]
	b.items[0] = ""
	b.items = b.items[1:]
	return unit, true
}

func (b *outputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *outputBuffer) Reset() {
	b.mu.Lock()
	b.items = nil
	b.mu.Unlock()
	select {
	case <-b.signal:
	default:
	}
}

// Notify wakes a goroutine blocked in Wait without blocking the caller.
func (b *outputBuffer) Notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Wait blocks until Notify is called or d elapses.
func (b *outputBuffer) Wait(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-b.signal:
	case <-t.C:
	}
}

// jitter returns d shifted by a random amount in [-spread, spread].
func jitter(d, spread time.Duration) time.Duration {
	if spread <= 0 {
		return d
	}
	return d - spread + rand.N(2*spread+1)
}

package mux

import (
	"sync"
)

// RingBuffer is a thread-safe bounded FIFO. When full, Send discards the
// oldest item and counts it as dropped. Receive reports how many items were
// dropped since the previous Receive.
type RingBuffer[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	pendingDrops int // drops not yet reported by Receive

	// Stats
	totalReceived int64
	totalSent     int64
	totalDropped  int64
}

// NewRingBuffer creates a buffer holding at most capacity items.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	b := &RingBuffer[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends an item, evicting the oldest one if the buffer is full.
// Returns false if the buffer is closed.
func (b *RingBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	if b.count == b.capacity {
		var zero T
		b.buf[b.head] = zero
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.pendingDrops++
		b.totalDropped++
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++

	b.cond.Signal()
	return true
}

// Receive removes and returns the oldest item together with the number of
// items evicted since the last Receive. Blocks until an item is available
// or the buffer is closed. Returns false once the buffer is closed and empty.
func (b *RingBuffer[T]) Receive() (item T, dropped int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}

	if b.count == 0 {
		return item, 0, false
	}

	return b.pop(), b.takeDrops(), true
}

// TryReceive is the non-blocking form of Receive.
func (b *RingBuffer[T]) TryReceive() (item T, dropped int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return item, 0, false
	}

	return b.pop(), b.takeDrops(), true
}

// Close closes the buffer. Send returns false afterwards; receivers get the
// remaining items, then the closed signal.
func (b *RingBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the current number of items in the buffer.
func (b *RingBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *RingBuffer[T]) Cap() int {
	return b.capacity
}

// Stats returns buffer statistics.
func (b *RingBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      b.capacity,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		TotalDropped:  b.totalDropped,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	TotalDropped  int64
}

// pop removes the head item. Must be called with lock held and count > 0.
func (b *RingBuffer[T]) pop() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalSent++
	return item
}

// takeDrops returns and resets the unreported drop count. Must be called
// with lock held.
func (b *RingBuffer[T]) takeDrops() int {
	n := b.pendingDrops
	b.pendingDrops = 0
	return n
}

package applet

import (
	"sync"
)

// DefaultBufferSize is the capacity of buffers handed out by a
// [BufferArena] unless configured otherwise.
const DefaultBufferSize = 16384

// Buffer is a fixed-capacity byte buffer backed by an arena slab. The zero
// value is unallocated; Size reports zero until a slab is attached.
type Buffer struct {
	b []byte
}

// Size returns the buffer capacity, or zero if unallocated.
func (x *Buffer) Size() int {
	return cap(x.b)
}

// Data returns the number of pending bytes.
func (x *Buffer) Data() int {
	return len(x.b)
}

// Room returns the number of bytes that may still be appended.
func (x *Buffer) Room() int {
	return cap(x.b) - len(x.b)
}

// Append copies as much of p as fits, returning the number of bytes taken.
func (x *Buffer) Append(p []byte) int {
	n := min(len(p), x.Room())
	x.b = append(x.b, p[:n]...)
	return n
}

// Skip consumes up to n pending bytes from the front, returning the number
// consumed.
func (x *Buffer) Skip(n int) int {
	n = min(n, len(x.b))
	x.b = append(x.b[:0], x.b[n:]...)
	return n
}

// Bytes returns a copy of the pending bytes.
func (x *Buffer) Bytes() []byte {
	return append([]byte(nil), x.b...)
}

// BufferWaiter is the registration record used by the buffer-wait protocol.
// It is linked into an arena's wait list while an allocation is
// outstanding, and detached otherwise; it is never registered in more than
// one place at a time.
type BufferWaiter struct {
	// fn is invoked when a buffer may be available; a true return means the
	// waiter took one.
	fn func() bool
	// queued is guarded by the owning arena's mutex.
	queued bool
}

// BufferArena is a bounded allocator for channel buffers, plus the wait
// list used to defer work until memory is available. Allocation and release
// are safe from any goroutine; waiter callbacks run on whichever goroutine
// released a buffer, and must themselves be safe for that (the appctx
// buffer-wait protocol is).
type BufferArena struct {
	mu sync.Mutex
	// free holds recycled slabs.
	free [][]byte
	// waiters is FIFO; entries are offered a buffer whenever one is
	// released or headroom otherwise appears.
	waiters     []*BufferWaiter
	bufSize     int
	limit       int // max outstanding buffers; <= 0 means unbounded
	outstanding int
}

// NewBufferArena creates an arena handing out buffers of bufSize bytes,
// with at most limit outstanding at once (<= 0 for unbounded).
func NewBufferArena(limit, bufSize int) *BufferArena {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &BufferArena{bufSize: bufSize, limit: limit}
}

// BufferSize returns the capacity of buffers handed out by this arena.
func (x *BufferArena) BufferSize() int {
	return x.bufSize
}

// Outstanding returns the number of buffers currently allocated.
func (x *BufferArena) Outstanding() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.outstanding
}

// Alloc attaches a slab to b if the arena has headroom, returning true on
// success or if b is already allocated.
func (x *BufferArena) Alloc(b *Buffer) bool {
	if b.Size() != 0 {
		return true
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.limit > 0 && x.outstanding >= x.limit {
		return false
	}
	x.outstanding++

	if n := len(x.free); n != 0 {
		b.b = x.free[n-1][:0]
		x.free[n-1] = nil
		x.free = x.free[:n-1]
	} else {
		b.b = make([]byte, 0, x.bufSize)
	}
	return true
}

// Release detaches and recycles b's slab, then offers availability to any
// registered waiters. A no-op for unallocated buffers.
func (x *BufferArena) Release(b *Buffer) {
	if b.Size() == 0 {
		return
	}
	slab := b.b[:0]
	b.b = nil
	x.recycle(slab)
}

// recycle returns a detached slab to the free list and offers availability
// to any registered waiters.
func (x *BufferArena) recycle(slab []byte) {
	x.mu.Lock()
	x.outstanding--
	x.free = append(x.free, slab)
	waiters := x.takeWaitersLocked()
	x.mu.Unlock()

	x.offer(waiters)
}

// Subscribe registers w on the wait list. Idempotent: a waiter already
// registered stays where it is.
func (x *BufferArena) Subscribe(w *BufferWaiter) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if w.queued {
		return
	}
	w.queued = true
	x.waiters = append(x.waiters, w)
}

// Unsubscribe detaches w from the wait list, if registered.
func (x *BufferArena) Unsubscribe(w *BufferWaiter) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !w.queued {
		return
	}
	w.queued = false
	for i, q := range x.waiters {
		if q == w {
			x.waiters = append(x.waiters[:i], x.waiters[i+1:]...)
			break
		}
	}
}

// HasWaiters reports whether any waiter is registered.
func (x *BufferArena) HasWaiters() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.waiters) != 0
}

// Offer notifies all registered waiters that memory may be available, as
// after an external change to the arena's headroom.
func (x *BufferArena) Offer() {
	x.mu.Lock()
	waiters := x.takeWaitersLocked()
	x.mu.Unlock()
	x.offer(waiters)
}

// takeWaitersLocked detaches the current waiters for notification outside
// the lock; callbacks that fail to take a buffer re-subscribe themselves.
func (x *BufferArena) takeWaitersLocked() []*BufferWaiter {
	if len(x.waiters) == 0 {
		return nil
	}
	waiters := x.waiters
	x.waiters = nil
	for _, w := range waiters {
		w.queued = false
	}
	return waiters
}

func (x *BufferArena) offer(waiters []*BufferWaiter) {
	for _, w := range waiters {
		w.fn()
	}
}

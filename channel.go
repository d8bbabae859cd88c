package applet

import (
	"sync"
	"sync/atomic"
)

// ChannelFlags describe the state of one direction of byte flow.
type ChannelFlags uint32

const (
	// ChanWritePartial indicates some data was moved through the channel
	// during the current turn.
	ChanWritePartial ChannelFlags = 1 << iota
	// ChanWroteData indicates data has been moved through the channel at
	// least once since it was last reset.
	ChanWroteData
	// ChanShutWNow indicates an immediate write-shutdown has been requested
	// on the channel.
	ChanShutWNow
)

// Channel is one direction of byte flow: a buffer, pending-byte accounting,
// and flow flags. Flag mutation follows a single-writer-per-turn
// discipline; the buffer itself is mutex-guarded because the buffer-wait
// protocol may attach a buffer from a foreign goroutine.
type Channel struct {
	mu    sync.Mutex
	buf   Buffer
	arena *BufferArena
	// zeroCopy marks an in-flight zero-copy transfer that bypasses the
	// buffer; it excludes the channel from further buffer grants.
	zeroCopy bool
	flags    atomic.Uint32
}

func newChannel(arena *BufferArena) *Channel {
	return &Channel{arena: arena}
}

// Size returns the buffer capacity, or zero when no buffer is attached.
func (c *Channel) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Size()
}

// Data returns the number of pending bytes.
func (c *Channel) Data() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Data()
}

// Room returns the number of bytes that may still be appended.
func (c *Channel) Room() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Room()
}

// TryAlloc attaches a buffer from the arena, returning true if the channel
// has a buffer afterwards.
func (c *Channel) TryAlloc() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena.Alloc(&c.buf)
}

// mayGrant reports whether a buffer grant would be meaningful: false when
// capacity already exists or a zero-copy transfer is in flight.
func (c *Channel) mayGrant() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Size() == 0 && !c.zeroCopy
}

// ReleaseIfEmpty returns the channel's buffer to the arena when it holds no
// pending data, reporting whether a release happened.
func (c *Channel) ReleaseIfEmpty() bool {
	c.mu.Lock()
	if c.buf.Size() == 0 || c.buf.Data() != 0 {
		c.mu.Unlock()
		return false
	}
	slab := c.buf.b[:0]
	c.buf.b = nil
	c.mu.Unlock()

	c.arena.recycle(slab)
	return true
}

// release unconditionally returns the buffer to the arena, discarding any
// pending data.
func (c *Channel) release() {
	c.mu.Lock()
	if c.buf.Size() == 0 {
		c.mu.Unlock()
		return
	}
	slab := c.buf.b[:0]
	c.buf.b = nil
	c.mu.Unlock()

	c.arena.recycle(slab)
}

// Append copies as much of p as fits into the channel buffer, returning the
// number of bytes taken. Zero when no buffer is attached.
func (c *Channel) Append(p []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Append(p)
}

// Skip consumes up to n pending bytes, returning the number consumed.
func (c *Channel) Skip(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Skip(n)
}

// Bytes returns a copy of the pending bytes.
func (c *Channel) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Bytes()
}

// SetZeroCopy marks or clears an in-flight zero-copy transfer.
func (c *Channel) SetZeroCopy(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zeroCopy = v
}

// Test reports whether all of f are set.
func (c *Channel) Test(f ChannelFlags) bool {
	return ChannelFlags(c.flags.Load())&f == f
}

// Set sets the given flags.
func (c *Channel) Set(f ChannelFlags) {
	c.flags.Or(uint32(f))
}

// Clear clears the given flags.
func (c *Channel) Clear(f ChannelFlags) {
	c.flags.And(^uint32(f))
}

// Flags returns the current flag set.
func (c *Channel) Flags() ChannelFlags {
	return ChannelFlags(c.flags.Load())
}

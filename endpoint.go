package applet

import (
	"sync/atomic"
)

// EndpointFlags are the flow-control flags of a conn-stream endpoint.
//
// Orientation follows the stream, not the applet: the Rx path is data the
// endpoint produces into the stream's input channel, and the Tx path is
// data the endpoint consumes from the stream's output channel.
type EndpointFlags uint32

const (
	// EPApplet marks an endpoint backed by an appctx rather than a
	// connection.
	EPApplet EndpointFlags = 1 << iota
	// EPOrphan marks an endpoint not (yet) attached to a stream.
	EPOrphan
	// EPRxBuffBlocked indicates an input buffer was requested and the
	// allocation is still outstanding.
	EPRxBuffBlocked
	// EPRxRoomBlocked indicates the input channel is out of room; cleared
	// by the peer when room becomes available again.
	EPRxRoomBlocked
	// EPRxDone indicates the endpoint has delivered all the input it can
	// for this turn. Part of the default posture; clear it to be scheduled
	// for more input processing.
	EPRxDone
	// EPTxBlocked indicates the endpoint is not consuming output data this
	// turn. Part of the default posture; clear it (with EPTxReady) to
	// consume output.
	EPTxBlocked
	// EPTxReady indicates the endpoint has declared readiness to consume
	// output data.
	EPTxReady
)

// Endpoint connects a stream's data channels to an appctx. It exposes an
// input/output channel pair, flow-control flags, and a notification
// capability invoked after every turn.
//
// Flags are an atomic bitset: the owning turn is the single writer, the
// peer and the buffer-wait protocol are concurrent readers.
type Endpoint struct {
	flags atomic.Uint32

	// in carries bytes produced by this endpoint toward the stream; out
	// carries bytes for this endpoint to consume.
	in, out *Channel

	// target is a weak back-reference; the task owns the appctx, never the
	// endpoint.
	target *Appctx

	peer *Endpoint

	// notify is invoked at the end of every turn so the attached stream
	// re-evaluates readiness. Nil for orphan endpoints.
	notify func()
}

// newOrphanEndpoint creates an applet-typed endpoint with fresh channels,
// not yet attached to any stream.
func newOrphanEndpoint(arena *BufferArena) *Endpoint {
	e := &Endpoint{
		in:  newChannel(arena),
		out: newChannel(arena),
	}
	e.flags.Store(uint32(EPApplet | EPOrphan))
	return e
}

// NewEndpoint creates a detached endpoint whose channels allocate from
// arena.
func NewEndpoint(arena *BufferArena) *Endpoint {
	return &Endpoint{
		in:  newChannel(arena),
		out: newChannel(arena),
	}
}

// Pair links a and b as the two sides of one stream: each side's input
// channel is the other side's output channel, and their peer references
// point at each other.
func Pair(a, b *Endpoint) {
	b.in = a.out
	b.out = a.in
	a.peer = b
	b.peer = a
	a.clear(EPOrphan)
	b.clear(EPOrphan)
}

// In returns the channel this endpoint produces into.
func (e *Endpoint) In() *Channel { return e.in }

// Out returns the channel this endpoint consumes from.
func (e *Endpoint) Out() *Channel { return e.out }

// Peer returns the opposite endpoint, or nil when unattached.
func (e *Endpoint) Peer() *Endpoint { return e.peer }

// Target returns the appctx this endpoint serves, or nil.
func (e *Endpoint) Target() *Appctx { return e.target }

// OnWake registers the notification capability invoked after every turn.
func (e *Endpoint) OnWake(fn func()) {
	e.notify = fn
}

// Test reports whether all of f are set.
func (e *Endpoint) Test(f EndpointFlags) bool {
	return EndpointFlags(e.flags.Load())&f == f
}

// Flags returns the current flag set.
func (e *Endpoint) Flags() EndpointFlags {
	return EndpointFlags(e.flags.Load())
}

func (e *Endpoint) set(f EndpointFlags) {
	e.flags.Or(uint32(f))
}

func (e *Endpoint) clear(f EndpointFlags) {
	e.flags.And(^uint32(f))
}

// Set sets the given flags.
func (e *Endpoint) Set(f EndpointFlags) { e.set(f) }

// Clear clears the given flags.
func (e *Endpoint) Clear(f EndpointFlags) { e.clear(f) }

// RoomReady clears the room-blocked condition, as when the consumer side
// freed space the producer was waiting on.
func (e *Endpoint) RoomReady() {
	e.clear(EPRxRoomBlocked)
}

func (e *Endpoint) wakePeer() {
	if e.notify != nil {
		e.notify()
	}
}

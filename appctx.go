package applet

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// for testing purposes
var (
	timeNow     = time.Now
	newEndpoint = newOrphanEndpoint
	newTask     = newAppletTask
)

// Applet is a pluggable capability supplying domain logic for an appctx:
// one entry point, invoked once per scheduling turn. The entry point runs
// synchronously on the runner goroutine and must not block; it is
// responsible for reading/writing the channels and updating the endpoint's
// flow-control flags to reflect its real needs before returning.
type Applet struct {
	Name string
	Run  func(*Appctx)
}

// name is the log identity; tolerant of an absent descriptor.
func (x *Applet) name() string {
	if x == nil {
		return ``
	}
	return x.Name
}

// lifecycle flag bits, see Appctx.flags
const (
	// ctxWantDie requests deferred destruction; never cleared once set.
	ctxWantDie = uint32(1) << iota
)

// Appctx is the execution context backing an internal (non-socket) stream
// participant. It is owned exclusively by its scheduler task: mutation
// happens only on the runner goroutine while the task runs, or from the
// applet's own logic invoked synchronously within a turn.
type Appctx struct {
	// St0, St1 and St2 are generic scratch state for the applet's own
	// finite-state machine; their meaning is applet-defined.
	St0, St1, St2 int

	// Chunk optionally gathers partially-assembled output; owned by the
	// appctx and released on destruction.
	Chunk *Buffer

	// IORelease, if set, is invoked on destruction to let the applet
	// release extra resources it privately owns.
	IORelease func()

	callRate freqCounter

	// flags carries lifecycle bits (ctxWantDie); atomic because
	// destruction may be requested from any goroutine.
	flags atomic.Uint32

	endp    *Endpoint
	applet  *Applet
	task    *Task
	runner  *Runner
	bufWait BufferWaiter
}

// appctxFreeList recycles appctx records between allocations.
var appctxFreeList = sync.Pool{New: func() any {
	return new(Appctx)
}}

// liveApplets counts successfully created, not yet destroyed appctxs across
// the whole process. Incremented exactly once per successful NewAppctx and
// decremented exactly once by the destruction turn; see [LiveApplets].
var liveApplets atomic.Int64

// appctxPool bounds the number of appctx records in use at once.
type appctxPool struct {
	inUse atomic.Int64
	limit int64 // <= 0 means unbounded
}

func (x *appctxPool) alloc() *Appctx {
	for {
		n := x.inUse.Load()
		if x.limit > 0 && n >= x.limit {
			return nil
		}
		if x.inUse.CompareAndSwap(n, n+1) {
			return appctxFreeList.Get().(*Appctx)
		}
	}
}

func (x *appctxPool) free(a *Appctx) {
	// drop references for the GC; init zeroes the rest on reuse
	a.Chunk = nil
	a.IORelease = nil
	a.endp = nil
	a.applet = nil
	a.task = nil
	a.runner = nil
	a.bufWait = BufferWaiter{}
	appctxFreeList.Put(a)
	x.inUse.Add(-1)
}

// init performs the minimum acceptable initialization for a recycled
// appctx: the three FSM state slots, the chunk, the io release hook, the
// call-rate window, the lifecycle flags and the wait registration.
func (a *Appctx) init(r *Runner) {
	a.St0, a.St1, a.St2 = 0, 0, 0
	a.Chunk = nil
	a.IORelease = nil
	a.callRate = freqCounter{}
	a.flags.Store(0)
	a.endp = nil
	a.applet = nil
	a.task = nil
	a.runner = r
	a.bufWait = BufferWaiter{fn: a.onBufferAvailable}
}

// NewAppctx allocates an appctx bound to this runner and initializes its
// main fields. app is assigned as the applet; it may be nil, in which case
// turns perform only flow-control bookkeeping until destruction is
// requested. If endp is nil a new orphan, applet-typed endpoint is created
// and linked; otherwise the supplied endpoint is adopted. The appctx's
// task is always created on this runner and never migrates.
//
// On any partial failure every allocation from the same attempt is unwound
// before the error is returned; no endpoint, task, or pool slot escapes.
// On success the process-wide live-applet count is incremented and the
// appctx becomes schedulable via [Appctx.Wakeup].
func (r *Runner) NewAppctx(app *Applet, endp *Endpoint) (*Appctx, error) {
	a := r.appctxs.alloc()
	if a == nil {
		return nil, ErrPoolExhausted
	}
	a.init(r)
	a.applet = app

	ownEndp := endp == nil
	if ownEndp {
		endp = newEndpoint(r.arena)
		if endp == nil {
			r.appctxs.free(a)
			return nil, fmt.Errorf(`applet: endpoint allocation failed: %w`, ErrPoolExhausted)
		}
	}
	endp.target = a
	a.endp = endp

	a.task = newTask(r, runApplet, a)
	if a.task == nil {
		// the supplied endpoint outlives the rollback; it must not keep a
		// reference into the recycled record
		endp.target = nil
		r.appctxs.free(a)
		return nil, fmt.Errorf(`applet: task allocation failed: %w`, ErrPoolExhausted)
	}

	liveApplets.Add(1)

	r.logger.Debug().
		Str(`applet`, app.name()).
		Bool(`orphan`, endp.Test(EPOrphan)).
		Log(`appctx created`)

	return a, nil
}

// Kill requests deferred destruction: it sets the destruction flag and
// schedules the owning task. Nothing is freed synchronously; the actual
// release happens inside the next turn, so the appctx is never freed while
// its own task might still be executing. Safe from any goroutine, and
// idempotent.
func (a *Appctx) Kill() {
	a.flags.Or(ctxWantDie)
	_ = a.task.Wake(WokenKill)
}

// wantDie reports whether destruction has been requested.
func (a *Appctx) wantDie() bool {
	return a.flags.Load()&ctxWantDie != 0
}

// release frees every resource the appctx exclusively owns. Called only
// from the destruction turn, on the runner goroutine.
func (a *Appctx) release() {
	if a.IORelease != nil {
		a.IORelease()
	}

	if a.Chunk != nil {
		a.runner.arena.Release(a.Chunk)
		a.Chunk = nil
	}

	a.runner.arena.Unsubscribe(&a.bufWait)

	if e := a.endp; e != nil && e.Test(EPOrphan) {
		e.in.release()
		e.out.release()
		e.target = nil
	}

	liveApplets.Add(-1)

	a.runner.logger.Debug().
		Str(`applet`, a.applet.name()).
		Log(`appctx released`)

	a.runner.appctxs.free(a)
}

// Wakeup schedules the appctx's task with the given reason.
func (a *Appctx) Wakeup(reason WakeReason) error {
	return a.task.Wake(reason)
}

// Runner returns the runner this appctx is pinned to.
func (a *Appctx) Runner() *Runner { return a.runner }

// Endpoint returns the conn-stream endpoint this appctx serves.
func (a *Appctx) Endpoint() *Endpoint { return a.endp }

// Applet returns the registered applet descriptor.
func (a *Appctx) Applet() *Applet { return a.applet }

// Input returns the channel the applet produces into (data toward the
// stream and, ultimately, the requester).
func (a *Appctx) Input() *Channel { return a.endp.in }

// Output returns the channel the applet consumes from (data produced by
// the stream for the applet).
func (a *Appctx) Output() *Channel { return a.endp.out }

// MoreInput departs from the default posture: the applet still has input
// to deliver and wants another turn for it.
func (a *Appctx) MoreInput() {
	a.endp.clear(EPRxDone)
}

// WantOutput departs from the default posture: the applet is ready to
// consume output data.
func (a *Appctx) WantOutput() {
	a.endp.set(EPTxReady)
	a.endp.clear(EPTxBlocked)
}

// WaitRoom records that the applet found no room in the input channel and
// needs the consumer side to drain it.
func (a *Appctx) WaitRoom() {
	a.endp.set(EPRxRoomBlocked)
}

// EnsureChunk allocates the scratch chunk from the runner's arena if not
// already present, returning false when memory is unavailable.
func (a *Appctx) EnsureChunk() bool {
	if a.Chunk == nil {
		a.Chunk = &Buffer{}
	}
	return a.runner.arena.Alloc(a.Chunk)
}

// LiveApplets returns the process-wide count of live appctxs. The counter
// is shared mutable state updated atomically: incremented on successful
// creation, decremented by the destruction turn. It is valid for the whole
// process lifetime; there is no teardown.
func LiveApplets() int64 {
	return liveApplets.Load()
}

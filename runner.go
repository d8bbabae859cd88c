// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package applet

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// WakeReason is a bitmask describing why a task was scheduled. Reasons
// accumulate between the wakeup and the next activation, then reset.
type WakeReason uint32

const (
	// WokenInit is used for the first, caller-initiated activation.
	WokenInit WakeReason = 1 << iota
	// WokenMsg indicates new data or a peer notification.
	WokenMsg
	// WokenRes indicates a previously unavailable resource became available.
	WokenRes
	// WokenKill indicates destruction has been requested.
	WokenKill
	// WokenOther is any other cause.
	WokenOther
)

const (
	taskQueued  = uint32(1) << 31
	taskDead    = uint32(1) << 30
	taskReasons = taskDead - 1 // low bits carry WakeReason
)

// Task is the scheduler-visible unit bound to exactly one [Runner] for its
// entire lifetime. When run, it invokes its step function with its bound
// context; a nil return terminates the task permanently.
type Task struct {
	runner *Runner
	step   func(t *Task, ctx any, reason WakeReason) *Task
	ctx    any
	// state packs the queued and dead bits with accumulated wake reasons.
	state atomic.Uint32
}

// Wake requests that the task be scheduled on its runner, recording the
// reason. Safe to call from any goroutine; duplicate wakeups before the
// next activation coalesce. Waking a terminated task is a no-op returning
// [ErrTaskTerminated].
func (t *Task) Wake(reason WakeReason) error {
	for {
		old := t.state.Load()
		if old&taskDead != 0 {
			return ErrTaskTerminated
		}
		if t.state.CompareAndSwap(old, old|uint32(reason)|taskQueued) {
			if old&taskQueued != 0 {
				return nil
			}
			return t.runner.enqueue(t)
		}
	}
}

// Runner is a cooperative, single-goroutine task scheduler. All tasks
// created against a runner execute on the goroutine that called [Runner.Run]
// and never migrate. Wakeups from other goroutines route through a buffered
// channel rather than mutating any task-owned state directly.
type Runner struct {
	// Prevent copying
	_ [0]func()

	state *runnerState

	mu       sync.Mutex
	queue    []*Task
	queueBuf []*Task

	// Wake-up mechanism; buffered so a signal sent between the idle check
	// and the blocking receive is never lost.
	wakeCh chan struct{}

	// Runner termination signaling
	done     chan struct{}
	stopOnce sync.Once

	// Goroutine tracking for reentrancy detection
	goroutineID atomic.Uint64

	arena   *BufferArena
	appctxs appctxPool
	logger  *logiface.Logger[logiface.Event]
	fatal   FatalReporter

	// warnLimiter throttles buffer-exhaustion warnings per appctx.
	warnLimiter *catrate.Limiter

	activations atomic.Uint64
}

// NewRunner creates a runner with the supplied options.
func NewRunner(opts ...RunnerOption) (*Runner, error) {
	cfg, err := resolveRunnerOptions(opts)
	if err != nil {
		return nil, err
	}

	arena := cfg.arena
	if arena == nil {
		arena = NewBufferArena(0, DefaultBufferSize)
	}

	r := &Runner{
		state:  newRunnerState(),
		wakeCh: make(chan struct{}, 1),
		done:   make(chan struct{}),
		arena:  arena,
		logger: cfg.logger,
		fatal:  cfg.fatal,
		warnLimiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
		}),
	}
	r.appctxs.limit = cfg.appctxLimit
	if r.fatal == nil {
		r.fatal = r.defaultFatalReporter
	}

	return r, nil
}

// Run executes the runner and blocks until fully stopped, via
// [Runner.Shutdown], [Runner.Close], or ctx cancellation.
func (r *Runner) Run(ctx context.Context) error {
	if r.isRunnerGoroutine() {
		return ErrReentrantRun
	}

	if !r.state.tryTransition(StateAwake, StateRunning) {
		if r.state.load() == StateTerminated {
			return ErrRunnerTerminated
		}
		return ErrRunnerAlreadyRunning
	}

	defer close(r.done)

	r.goroutineID.Store(getGoroutineID())
	defer r.goroutineID.Store(0)

	// Watcher goroutine converts ctx cancellation into a wakeup so a
	// sleeping runner notices promptly.
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.wake()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		if err := ctx.Err(); err != nil {
			for {
				current := r.state.load()
				if current == StateTerminating || current == StateTerminated {
					break
				}
				if r.state.tryTransition(current, StateTerminating) {
					break
				}
			}
			r.terminate()
			return err
		}

		if st := r.state.load(); st == StateTerminating || st == StateTerminated {
			r.terminate()
			return nil
		}

		r.tick()
		r.sleep(ctx)
	}
}

// Shutdown gracefully shuts down the runner, draining queued task turns.
// It blocks until termination completes or ctx expires. Only the first
// call performs the shutdown; repeat calls return [ErrRunnerTerminated],
// symmetric with [Runner.Close].
func (r *Runner) Shutdown(ctx context.Context) error {
	var (
		result error
		first  bool
	)
	r.stopOnce.Do(func() {
		first = true
		result = r.shutdownImpl(ctx)
	})
	if !first {
		return ErrRunnerTerminated
	}
	return result
}

func (r *Runner) shutdownImpl(ctx context.Context) error {
	for {
		current := r.state.load()
		if current == StateTerminated || current == StateTerminating {
			return ErrRunnerTerminated
		}

		if r.state.tryTransition(current, StateTerminating) {
			if current == StateAwake {
				// Never ran; nothing to drain.
				r.state.store(StateTerminated)
				return nil
			}
			if current == StateSleeping {
				r.wake()
			}
			break
		}
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close requests immediate termination without waiting for completion.
func (r *Runner) Close() error {
	for {
		current := r.state.load()
		if current == StateTerminated {
			return ErrRunnerTerminated
		}

		if r.state.tryTransition(current, StateTerminating) {
			if current == StateAwake {
				r.state.store(StateTerminated)
				return nil
			}
			if current == StateSleeping {
				r.wake()
			}
			return nil
		}
	}
}

// State returns the current runner state.
func (r *Runner) State() RunnerState {
	return r.state.load()
}

// Activations returns the total number of task turns executed.
func (r *Runner) Activations() uint64 {
	return r.activations.Load()
}

// Arena returns the buffer arena backing this runner's channels.
func (r *Runner) Arena() *BufferArena {
	return r.arena
}

// enqueue appends a task to the run queue and wakes the runner. Called with
// the task's queued bit freshly set, from any goroutine.
func (r *Runner) enqueue(t *Task) error {
	if r.state.load() == StateTerminated {
		return ErrRunnerTerminated
	}

	r.mu.Lock()
	r.queue = append(r.queue, t)
	r.mu.Unlock()

	if r.state.load() == StateSleeping {
		r.wake()
	}
	return nil
}

// wake signals the runner goroutine. The buffered channel makes the signal
// level-triggered: at most one is pending, and one is enough.
func (r *Runner) wake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// tick executes one batch of queued task turns.
func (r *Runner) tick() {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	tasks := r.queue
	r.queue = r.queueBuf[:0]
	r.queueBuf = tasks[:0]
	r.mu.Unlock()

	for i, t := range tasks {
		r.runTask(t)
		tasks[i] = nil
	}
}

// runTask performs a single turn: consume the accumulated wake reasons,
// clear the queued bit, then invoke the step. Clearing happens before the
// step so wakeups arriving mid-turn re-queue the task.
func (r *Runner) runTask(t *Task) {
	var reason WakeReason
	for {
		old := t.state.Load()
		if old&taskDead != 0 {
			return
		}
		if t.state.CompareAndSwap(old, old&^(taskQueued|taskReasons)) {
			reason = WakeReason(old & taskReasons)
			break
		}
	}

	r.activations.Add(1)
	next := t.step(t, t.ctx, reason)

	if next == nil {
		t.state.Store(taskDead)
	}
}

// sleep blocks until a wakeup when there is no runnable work.
func (r *Runner) sleep(ctx context.Context) {
	if !r.state.tryTransition(StateRunning, StateSleeping) {
		return
	}

	r.mu.Lock()
	pending := len(r.queue) != 0
	r.mu.Unlock()
	if pending {
		r.state.tryTransition(StateSleeping, StateRunning)
		return
	}

	select {
	case <-r.wakeCh:
	case <-ctx.Done():
	}

	r.state.tryTransition(StateSleeping, StateRunning)
}

// terminate drains the run queue and stores the terminal state. Task turns
// executed here behave normally, so appctxs flagged for destruction release
// their resources before the runner stops.
func (r *Runner) terminate() {
	for {
		r.mu.Lock()
		n := len(r.queue)
		r.mu.Unlock()
		if n == 0 {
			break
		}
		r.tick()
	}

	r.state.store(StateTerminated)

	r.logger.Debug().
		Uint64(`activations`, r.activations.Load()).
		Log(`runner terminated`)
}

// newAppletTask binds a step function and context to a fresh task pinned to
// this runner.
func newAppletTask(r *Runner, step func(*Task, any, WakeReason) *Task, ctx any) *Task {
	return &Task{runner: r, step: step, ctx: ctx}
}

func (r *Runner) isRunnerGoroutine() bool {
	id := r.goroutineID.Load()
	return id != 0 && id == getGoroutineID()
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

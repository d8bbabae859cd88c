package applet

import (
	"sync/atomic"
)

// RunnerState represents the current state of a runner.
//
// State machine:
//
//	StateAwake (0) → StateRunning          [Run()]
//	StateRunning → StateSleeping           [idle wait via CAS]
//	StateSleeping → StateRunning           [wakeup via CAS]
//	StateRunning → StateTerminating        [Shutdown()/Close()]
//	StateSleeping → StateTerminating       [Shutdown()/Close()]
//	StateTerminating → StateTerminated     [drain complete]
//	StateTerminated → (terminal)
//
// Temporary states (Running, Sleeping) transition via TryTransition (CAS);
// Terminated is stored unconditionally once the drain completes.
type RunnerState uint64

const (
	// StateAwake indicates the runner has been created but not started.
	StateAwake RunnerState = iota
	// StateTerminated indicates the runner has fully stopped.
	StateTerminated
	// StateSleeping indicates the runner is blocked waiting for a wakeup.
	StateSleeping
	// StateRunning indicates the runner is actively executing task turns.
	StateRunning
	// StateTerminating indicates shutdown has been requested but not completed.
	StateTerminating
)

// String returns a human-readable representation of the state.
func (s RunnerState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// runnerState is a lock-free state word with cache-line padding, so the
// cross-goroutine wakeup path never false-shares with the run queue.
type runnerState struct {
	_ [64]byte      //nolint:unused
	v atomic.Uint64 // state value
	_ [56]byte      //nolint:unused
}

func newRunnerState() *runnerState {
	s := &runnerState{}
	s.v.Store(uint64(StateAwake))
	return s
}

func (s *runnerState) load() RunnerState {
	return RunnerState(s.v.Load())
}

func (s *runnerState) store(state RunnerState) {
	s.v.Store(uint64(state))
}

// tryTransition attempts to atomically transition from one state to
// another, returning true on success. Pure CAS, no validity checking.
func (s *runnerState) tryTransition(from, to RunnerState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

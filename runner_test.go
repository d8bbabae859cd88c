// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package applet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RunAndShutdown(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		s := r.State()
		return s == StateRunning || s == StateSleeping
	}, time.Second, time.Millisecond)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, StateTerminated, r.State())

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	assert.ErrorIs(t, r.Shutdown(context.Background()), ErrRunnerTerminated)
}

func TestRunner_DoubleRun(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	started := make(chan struct{})
	runErr := make(chan error, 1)
	go func() {
		close(started)
		runErr <- r.Run(context.Background())
	}()
	<-started

	require.Eventually(t, func() bool {
		s := r.State()
		return s == StateRunning || s == StateSleeping
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, r.Run(context.Background()), ErrRunnerAlreadyRunning)

	require.NoError(t, r.Shutdown(context.Background()))
	<-runErr
}

func TestRunner_RunAfterTerminated(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	// terminate without ever running
	require.NoError(t, r.Close())
	assert.Equal(t, StateTerminated, r.State())

	assert.ErrorIs(t, r.Run(context.Background()), ErrRunnerTerminated)
	assert.ErrorIs(t, r.Close(), ErrRunnerTerminated)
}

func TestRunner_ReentrantRun(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	reentrant := make(chan error, 1)
	app := &Applet{Name: "reentrant", Run: func(a *Appctx) {
		reentrant <- a.Runner().Run(context.Background())
		a.Kill()
	}}

	a, err := r.NewAppctx(app, nil)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	require.NoError(t, a.Wakeup(WokenInit))

	select {
	case err := <-reentrant:
		assert.ErrorIs(t, err, ErrReentrantRun)
	case <-time.After(time.Second):
		t.Fatal("applet never ran")
	}

	require.NoError(t, r.Shutdown(context.Background()))
	<-runErr
}

func TestRunner_ContextCancellation(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		s := r.State()
		return s == StateRunning || s == StateSleeping
	}, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, StateTerminated, r.State())
}

func TestRunner_CrossGoroutineWake(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		reasons []WakeReason
	)
	app := &Applet{Name: "recorder", Run: func(a *Appctx) {}}
	a, err := r.NewAppctx(app, nil)
	require.NoError(t, err)
	a.task.step = func(tk *Task, ctx any, reason WakeReason) *Task {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
		return runApplet(tk, ctx, reason)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	require.NoError(t, a.Wakeup(WokenInit))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reasons) == 1
	}, time.Second, time.Millisecond)

	// reasons accumulated between activations must coalesce into one turn
	require.NoError(t, a.Wakeup(WokenMsg))
	require.NoError(t, a.Wakeup(WokenRes))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reasons) >= 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	last := reasons[len(reasons)-1]
	mu.Unlock()
	assert.NotZero(t, last&(WokenMsg|WokenRes))

	a.Kill()
	require.NoError(t, r.Shutdown(context.Background()))
	<-runErr

	assert.Zero(t, r.appctxs.inUse.Load(),
		"terminate must drain destruction turns before stopping")
}

func TestRunner_ShutdownDrainsQueuedTurns(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	const n = 8
	var ran sync.WaitGroup
	ran.Add(n)

	app := &Applet{Name: "once", Run: func(a *Appctx) {
		ran.Done()
		a.Kill()
	}}

	for i := 0; i < n; i++ {
		a, err := r.NewAppctx(app, nil)
		require.NoError(t, err)
		require.NoError(t, a.Wakeup(WokenInit))
	}

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	done := make(chan struct{})
	go func() { ran.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued applets did not all run")
	}

	require.NoError(t, r.Shutdown(context.Background()))
	<-runErr
	assert.Zero(t, r.appctxs.inUse.Load())
}

func TestRunner_EndToEndExchange(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	// echo applet: move pending output bytes back onto the input channel
	echo := &Applet{Name: "echo", Run: func(a *Appctx) {
		a.WantOutput()
		if data := a.Output().Bytes(); len(data) != 0 {
			n := a.Input().Append(data)
			a.Output().Skip(n)
		}
	}}

	front := NewEndpoint(r.Arena())
	back := NewEndpoint(r.Arena())
	Pair(front, back)

	a, err := r.NewAppctx(echo, front)
	require.NoError(t, err)

	echoed := make(chan []byte, 1)
	front.OnWake(func() {
		if b := front.In().Bytes(); len(b) != 0 {
			front.In().Skip(len(b))
			select {
			case echoed <- b:
			default:
			}
		}
	})

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	// the requester side stages a payload and wakes the applet
	require.True(t, front.Out().TryAlloc())
	require.Equal(t, 5, front.Out().Append([]byte("hello")))
	require.NoError(t, a.Wakeup(WokenMsg))

	select {
	case b := <-echoed:
		assert.Equal(t, "hello", string(b))
	case <-time.After(time.Second):
		t.Fatal("payload was not echoed")
	}

	a.Kill()
	require.NoError(t, r.Shutdown(context.Background()))
	<-runErr
}

func TestRunner_ShutdownBeforeRun(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, StateTerminated, r.State())
	assert.ErrorIs(t, r.Shutdown(context.Background()), ErrRunnerTerminated)
}

func TestRunner_ActivationsCounter(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	a, err := r.NewAppctx(&Applet{Name: "counted", Run: func(*Appctx) {}}, nil)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	require.NoError(t, a.Wakeup(WokenInit))
	require.Eventually(t, func() bool { return r.Activations() >= 1 }, time.Second, time.Millisecond)

	a.Kill()
	require.NoError(t, r.Shutdown(context.Background()))
	<-runErr

	assert.GreaterOrEqual(t, r.Activations(), uint64(2))
}

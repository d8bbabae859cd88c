// Package applet implements the internal service execution subsystem of a
// stream-processing proxy: pseudo-endpoints ("applets", such as statistics
// pages, control interfaces, or health responders) participate in the same
// bidirectional, flow-controlled pipeline as real connections, without
// owning a socket.
//
// # Architecture
//
//   - Execution: an [Appctx] is the per-applet execution context, owned by
//     a [Task] on a cooperative single-goroutine [Runner]. One activation of
//     the task is one "turn"; the applet's [Applet] entry point runs
//     synchronously within it and must not block.
//   - Buffers: channel buffers come from a bounded [BufferArena]. When
//     allocation fails the appctx registers a [BufferWaiter]; a later release
//     offers availability back via the buffer-wait protocol, which is
//     idempotent and never grants the same buffer twice.
//   - Flow control: each turn begins from a conservative default posture
//     (no input wanted, no output consumed); the applet must assert a
//     different posture every turn if it wants more work. The turn ends by
//     propagating any drained output as room-ready to the peer endpoint.
//   - Self-protection: a per-appctx one-second activation counter feeds a
//     spin classifier; an applet measured at or above the rate ceiling while
//     making already-satisfiable requests (or no progress at all) is
//     escalated fatally via the runner's [FatalReporter].
//
// # Thread Safety
//
// Scheduling is cooperative and single-goroutine per [Runner]; a task never
// migrates off the runner that created it. All endpoint and channel flag
// mutation during a turn is single-writer (the runner goroutine). The two
// deliberately cross-goroutine operations are [Task.Wake] and the
// buffer-availability callback, both of which route through atomics and the
// runner's wakeup primitive. The live-applet counter is process-wide and
// atomic; see [LiveApplets].
//
// # Usage
//
//	runner, err := applet.NewRunner()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	hello := &applet.Applet{
//		Name: "hello",
//		Run: func(a *applet.Appctx) {
//			if a.St0 == 0 {
//				a.Input().Append([]byte("hello\n"))
//				a.St0 = 1
//				a.Kill()
//			}
//		},
//	}
//
//	a, err := runner.NewAppctx(hello, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	a.Wakeup(applet.WokenInit)
//
//	_ = runner.Run(ctx)
//
// # Error Handling
//
// Creation failures ([ErrPoolExhausted], endpoint or task allocation
// failure) are fully unwound and recoverable by the caller. Transient
// buffer exhaustion is not an error: the affected channel is re-armed for a
// future wakeup. Runaway-loop detection is deliberately fatal; the default
// reporter records a diagnostic dump and panics.
package applet

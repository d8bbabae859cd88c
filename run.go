package applet

// runApplet is the step function bound to every appctx task: one call is
// one complete turn. It never blocks and never reenters itself; the next
// activation is driven exclusively by events (data ready, buffer
// available, destruction requested), never by self-rescheduling.
func runApplet(t *Task, ctx any, reason WakeReason) *Task {
	a := ctx.(*Appctx)
	e := a.endp

	if a.wantDie() {
		a.release()
		return nil
	}

	// We always pretend the applet can't consume and has no more input;
	// it's up to it to change this if needed. This ensures that an applet
	// which ignores every event will not spin.
	e.set(EPTxBlocked | EPRxDone)

	// the partial-write flag is per turn; a stale one from an earlier
	// drain would mask a later no-progress loop
	e.out.Clear(ChanWritePartial)

	// Try to allocate the input buffer. The applet runs in all cases, so
	// it's the applet's responsibility to check whether the buffer is
	// there; it has nothing to do when it's missing, and will be called
	// again upon readiness.
	if !a.allocInputBuffer() {
		a.MoreInput()
	}

	count := e.out.Data()
	if a.applet != nil && a.applet.Run != nil {
		a.applet.Run(a)
	}

	// check whether the applet released some room and forgot to notify
	// the other side about it
	if count != e.out.Data() {
		e.out.Set(ChanWritePartial | ChanWroteData)
		if p := e.peer; p != nil {
			p.RoomReady()
		}
	}

	// measure the call rate and check for anomalies when too high
	rate := a.callRate.update(timeNow())
	if spinning(rate, a.callRate.read(), snapshotFlow(a)) {
		a.runner.fatal(a, a.callRate.read())
	}

	e.wakePeer()
	a.releaseInputBuffer()
	return t
}

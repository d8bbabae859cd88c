package applet

// onBufferAvailable is the wakeup callback registered against the arena's
// wait list. It is invoked, possibly from a foreign goroutine, whenever
// buffer memory becomes available that could satisfy a previously blocked
// request. The applet is woken only if an input buffer was actually
// requested for the associated endpoint; in that case the buffer is
// immediately allocated and true is returned. This automatically covers
// repeated wake-up attempts: the same buffer is never accounted for twice.
func (a *Appctx) onBufferAvailable() bool {
	e := a.endp

	// allocation requested?
	if !e.Test(EPRxBuffBlocked) {
		return false
	}

	// consume the request regardless of outcome, so repeated notifications
	// cannot double-account
	e.clear(EPRxBuffBlocked)

	// was a buffer already obtained another way? if so, don't take this one
	if !e.in.mayGrant() {
		return false
	}

	// allocation possible now?
	if !e.in.TryAlloc() {
		e.set(EPRxBuffBlocked)
		a.runner.arena.Subscribe(&a.bufWait)
		return false
	}

	_ = a.task.Wake(WokenRes)
	return true
}

// allocInputBuffer tries to (re)allocate the endpoint's input buffer,
// registering on the arena's wait list when memory is unavailable so the
// appctx is retried on the next release rather than busy-polled.
func (a *Appctx) allocInputBuffer() bool {
	if a.endp.in.TryAlloc() {
		return true
	}

	a.endp.set(EPRxBuffBlocked)
	a.runner.arena.Subscribe(&a.bufWait)

	if _, ok := a.runner.warnLimiter.Allow(a); ok {
		a.runner.logger.Warning().
			Str(`applet`, a.applet.name()).
			Int(`outstanding`, a.runner.arena.Outstanding()).
			Log(`input buffer unavailable, waiting`)
	}
	return false
}

// releaseInputBuffer ends a turn's buffer accounting: an empty input buffer
// is returned to the arena when other waiters are queued for it, and the
// wait registration is dropped once the appctx no longer needs it.
func (a *Appctx) releaseInputBuffer() {
	c := a.endp.in
	if c.Data() == 0 && a.runner.arena.HasWaiters() {
		c.ReleaseIfEmpty()
	}
	if !a.endp.Test(EPRxBuffBlocked) {
		a.runner.arena.Unsubscribe(&a.bufWait)
	}
}

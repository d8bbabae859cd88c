package applet

import (
	"fmt"
)

// spinRateThreshold is the activation rate, in turns per second, at or
// above which the spin classifier is consulted.
const spinRateThreshold = 100000

// FatalReporter is the diagnostics capability invoked when an appctx is
// classified as a runaway loop. The default reporter records a diagnostic
// dump and panics; a spinning applet is an implementation defect, not a
// retryable condition, and containing it silently would mask the bug while
// still starving the runner.
type FatalReporter func(a *Appctx, rate uint32)

// flowSnapshot captures the flow-control state a spin classification is
// made against. Decoupled from the scheduler so the classifier is testable
// without real timing.
type flowSnapshot struct {
	inSize   int
	inData   int
	outData  int
	epFlags  EndpointFlags
	outFlags ChannelFlags
}

func snapshotFlow(a *Appctx) flowSnapshot {
	e := a.endp
	return flowSnapshot{
		inSize:   e.in.Size(),
		inData:   e.in.Data(),
		outData:  e.out.Data(),
		epFlags:  e.Flags(),
		outFlags: e.out.Flags(),
	}
}

// spinning classifies an activation rate plus flow state as a runaway
// loop. All four qualifying patterns describe either a resource request
// that is already satisfiable, or no forward progress despite being
// scheduled:
//
//  1. an input buffer is requested while one is present
//  2. room is requested in an empty input buffer with capacity
//  3. output data is ready, the endpoint declared readiness and is not
//     blocked, yet nothing was drained
//  4. no input arrived, output is still pending, and the output side is in
//     immediate-shutdown with no partial write recorded this turn
//
// The previous-count guard suppresses false positives during the first
// window after startup or a long idle period.
func spinning(rate, prevCtr uint32, s flowSnapshot) bool {
	if rate < spinRateThreshold || prevCtr == 0 {
		return false
	}
	return (s.inSize != 0 && s.epFlags&EPRxBuffBlocked != 0) ||
		(s.inSize != 0 && s.inData == 0 && s.epFlags&EPRxRoomBlocked != 0) ||
		(s.outData != 0 && s.epFlags&EPTxReady != 0 && s.epFlags&EPTxBlocked == 0) ||
		(s.inData == 0 && s.outData != 0 &&
			s.outFlags&(ChanWritePartial|ChanShutWNow) == ChanShutWNow)
}

// defaultFatalReporter dumps the offending applet's identity, measured
// rate and flow state, then panics.
func (r *Runner) defaultFatalReporter(a *Appctx, rate uint32) {
	s := snapshotFlow(a)

	r.logger.Crit().
		Str(`applet`, a.applet.name()).
		Uint64(`rate`, uint64(rate)).
		Int(`st0`, a.St0).
		Int(`st1`, a.St1).
		Int(`st2`, a.St2).
		Uint64(`endpoint_flags`, uint64(s.epFlags)).
		Int(`in_size`, s.inSize).
		Int(`in_data`, s.inData).
		Int(`out_data`, s.outData).
		Log(`applet is spinning, aborting`)

	panic(fmt.Sprintf(`applet: %s looped %d times over the last second without making progress`,
		a.applet.name(), rate))
}

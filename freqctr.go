package applet

import (
	"time"
)

// freqCounter estimates a per-second event rate over a sliding one-second
// window: the current wall-clock second's count plus the settled count of
// the previous second. Single-writer: only the owning runner goroutine
// updates or reads it.
type freqCounter struct {
	// currTick is the unix second the current window covers.
	currTick int64
	currCtr  uint32
	prevCtr  uint32
}

// update rolls the window forward to now if the second advanced, records
// one event, and returns the settled previous-second count. A gap of more
// than one second zeroes the previous count, so the first window after
// startup or a long idle period never reads as a high rate.
func (x *freqCounter) update(now time.Time) uint32 {
	sec := now.Unix()
	if sec != x.currTick {
		if sec == x.currTick+1 {
			x.prevCtr = x.currCtr
		} else {
			x.prevCtr = 0
		}
		x.currTick = sec
		x.currCtr = 0
	}
	x.currCtr++
	return x.prevCtr
}

// read returns the settled one-second measurement without recording an
// event.
func (x *freqCounter) read() uint32 {
	return x.prevCtr
}

//go:build !tinygo

package hal

import "time"

// TickPeriod is the duration of one Time tick.
const TickPeriod = time.Millisecond

// maxTicksPerStep caps catch-up after the host stalls (suspend, debugger).
const maxTicksPerStep = 250

// hostTime turns wall-clock time into a tick stream. It only advances when
// the runner calls step, so a paused runner pauses the simulation.
type hostTime struct {
	ch  chan uint64
	seq uint64

	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, 1024)}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// step emits the ticks that elapsed since the previous call; the first
// call emits n.
func (t *hostTime) step(n uint64) {
	now := time.Now()
	if t.last.IsZero() {
		t.last = now
		t.emit(n)
		return
	}

	t.acc += now.Sub(t.last)
	t.last = now

	ticks := uint64(t.acc / TickPeriod)
	if ticks == 0 {
		return
	}
	t.acc %= TickPeriod
	if ticks > maxTicksPerStep {
		ticks = maxTicksPerStep
	}
	t.emit(ticks)
}

func (t *hostTime) emit(n uint64) {
	for i := uint64(0); i < n; i++ {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}

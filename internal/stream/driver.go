package stream

import (
	"sync/atomic"
	"time"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/channel"
)

// IntervalDuration is the T=10s reporting period of §4.6 step 4.
const IntervalDuration = 10 * time.Second

// Driver runs the producer loop of §4.6 over a fixed set of streams.
type Driver struct {
	streams []*Stream

	stopRequested int32 // set via RequestStop, read with atomic.LoadInt32

	free      chan struct{}
	populated chan struct{}
	slot      []Snapshot
}

// NewDriver constructs a driver over streams. The free/populated channels
// are buffered to depth 1 and primed with exactly one "free" token, mirroring
// spec §5's "two counting semaphores with initial values 1 and 0".
func NewDriver(streams []*Stream) *Driver {
	d := &Driver{
		streams:   streams,
		free:      make(chan struct{}, 1),
		populated: make(chan struct{}, 1),
		slot:      make([]Snapshot, len(streams)),
	}
	d.free <- struct{}{}
	return d
}

// RequestStop sets the stop-request flag read by the next loop iteration;
// safe to call from a signal handler goroutine.
func (d *Driver) RequestStop() {
	atomic.StoreInt32(&d.stopRequested, 1)
}

func (d *Driver) stopping() bool {
	return atomic.LoadInt32(&d.stopRequested) != 0
}

// anyInUse reports whether any stream still has descriptors in flight, the
// drain condition step 5 waits on before the loop exits.
func (d *Driver) anyInUse() bool {
	for _, s := range d.streams {
		if s.ctx.NumInUseDescriptors() > 0 {
			return true
		}
	}
	return false
}

// Run executes the producer loop until a stop has been requested and every
// stream has drained. It publishes one []Snapshot per interval through the
// free/populated handoff; Collect on the consumer side receives them.
func (d *Driver) Run() {
	for _, s := range d.streams {
		if s.ctx.Direction() == channel.DirectionH2C {
			s.fillH2C()
		} else {
			s.queueC2H()
		}
	}

	intervalStart := time.Now()
	for {
		stopping := d.stopping()
		for _, s := range d.streams {
			s.pollOnce(stopping)
		}

		now := time.Now()
		if now.Sub(intervalStart) >= IntervalDuration {
			d.publish(intervalStart, now)
			intervalStart = now
		}

		if stopping && !d.anyInUse() {
			d.publish(intervalStart, time.Now())
			return
		}
	}
}

// publish performs the bounded handoff: wait for a free slot, fill it, post
// populated. It never blocks longer than the consumer takes to drain the
// previous interval, since the semaphore pair allows at most one snapshot
// in flight.
func (d *Driver) publish(start, end time.Time) {
	<-d.free
	for i, s := range d.streams {
		d.slot[i] = s.snapshot(start, end)
		s.resetInterval()
	}
	d.populated <- struct{}{}
}

// Collect blocks until an interval snapshot is available, copies it out,
// and releases the slot back to the producer. Intended to run on a second
// goroutine (the "consumer" of spec §5).
func (d *Driver) Collect() []Snapshot {
	<-d.populated
	out := make([]Snapshot, len(d.slot))
	copy(out, d.slot)
	d.free <- struct{}{}
	return out
}

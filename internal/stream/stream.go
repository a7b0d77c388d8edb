// Package stream implements the Multi-stream Driver of spec §4.6: one
// channel context per selected (device, direction, channel id) triple,
// fanned out and driven from a single producer loop that hands interval
// throughput snapshots to a consumer through a two-counting-semaphore
// protocol, the same buffered-channel-as-semaphore idiom
// pkg/infer/async.go uses for its worker pool (`workerPool chan
// struct{}`, acquired with a send and released with a receive).
package stream

import (
	"time"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/channel"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/clock"
)

// Stream pairs one channel context with the LCG test-pattern generator
// seeded for it, per §4.6 step 1 ("distinct pattern per stream").
type Stream struct {
	Name string
	ctx  *channel.Context
	gen  *clock.LCG32

	bytesThisInterval     uint64
	transfersThisInterval uint64
	bytesOverall          uint64
	transfersOverall      uint64
}

// NewStream wraps an already-initialised channel context, seeding its test
// pattern generator with seed.
func NewStream(name string, ctx *channel.Context, seed uint32) *Stream {
	return &Stream{Name: name, ctx: ctx, gen: clock.NewLCG32(seed)}
}

// Snapshot is one stream's published interval statistics, the payload that
// crosses the free/populated semaphore handoff.
type Snapshot struct {
	Name                  string
	IntervalStart         time.Time
	IntervalEnd           time.Time
	BytesThisInterval     uint64
	TransfersThisInterval uint64
	BytesOverall          uint64
	TransfersOverall      uint64
	Failed                bool
	Message               string
}

func (s *Stream) resetInterval() {
	s.bytesThisInterval = 0
	s.transfersThisInterval = 0
}

func (s *Stream) snapshot(start, end time.Time) Snapshot {
	return Snapshot{
		Name:                  s.Name,
		IntervalStart:         start,
		IntervalEnd:           end,
		BytesThisInterval:     s.bytesThisInterval,
		TransfersThisInterval: s.transfersThisInterval,
		BytesOverall:          s.bytesOverall,
		TransfersOverall:      s.transfersOverall,
		Failed:                s.ctx.Failed(),
		Message:               s.ctx.Message(),
	}
}

// fillH2C writes the stream's test pattern into every H2C buffer the ring
// can hold, per §4.6 step 1.
func (s *Stream) fillH2C() {
	for {
		buf, ok := s.ctx.GetNextH2CBuffer()
		if !ok {
			return
		}
		clock.FillPattern(s.gen, buf)
		s.ctx.StartPopulatedDescriptors()
	}
}

// queueC2H starts N empty C2H transfers, per §4.6 step 2.
func (s *Stream) queueC2H() {
	for s.ctx.NumFreeDescriptors() > 0 {
		s.ctx.StartNextC2HBuffer()
	}
}

// pollOnce drains every completed transfer currently available, counting
// it into the running interval/overall totals and, unless stopping is
// true, immediately re-queueing the buffer (step 3).
func (s *Stream) pollOnce(stopping bool) {
	for {
		buf, length, _, ok := s.ctx.PollCompletedTransfer()
		if !ok {
			return
		}
		s.bytesThisInterval += uint64(length)
		s.transfersThisInterval++
		s.bytesOverall += uint64(length)
		s.transfersOverall++

		if stopping {
			continue
		}
		if s.ctx.Direction() == channel.DirectionH2C {
			if next, ok := s.ctx.GetNextH2CBuffer(); ok {
				clock.FillPattern(s.gen, next)
				s.ctx.StartPopulatedDescriptors()
			}
		} else if !s.ctx.C2HStreamContinuous() {
			_ = buf
			s.ctx.StartNextC2HBuffer()
		}
	}
}

// Package channel implements the Channel Context and its Transfer API: a
// polymorphic-over-direction, polymorphic-over-endpoint-type record sitting
// directly on the three register windows a QDMA channel exposes, driving
// one ring of descriptors through the credit-based start/poll protocol.
package channel

import (
	"time"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/dmaarena"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/qdmaerr"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/ring"
)

// Direction is re-exported from internal/ring, which needs the same enum
// to decide descriptor field placement during ring construction.
type Direction = ring.Direction

const (
	DirectionH2C = ring.H2C
	DirectionC2H = ring.C2H
)

// EndpointType distinguishes a memory-mapped target from an AXI4-Stream
// target, per spec §3's "endpoint-type (memory-mapped|stream)" axis.
type EndpointType int

const (
	EndpointMemory EndpointType = iota
	EndpointStream
)

// Config is a single channel's static configuration, gathered from
// internal/config's decoded YAML plus whatever the caller derives from
// internal/xlxdesign's design metadata.
type Config struct {
	DeviceName string
	ChannelID  uint32
	Direction  Direction
	Endpoint   EndpointType

	NumDescriptors uint32

	// BytesPerBuffer is 0 for variable-length transfers.
	BytesPerBuffer uint32

	HostBufferStartOffset uint64
	CardBufferStartOffset uint64

	// C2HStreamContinuous requests the continuous-C2H-stream mode of
	// §4.4 step 4 / §3 invariant 3's pre-seeded transfer-length slots.
	C2HStreamContinuous bool

	// Timeout is the per-transfer deadline armed when credits are
	// posted; negative disables it.
	Timeout time.Duration

	// MinSizeAlignment is the caller's own alignment floor, combined
	// with the hardware's reported addr_alignment by taking the max.
	MinSizeAlignment uint32

	// HostMapping is the DMA mapping backing this channel's payload
	// buffers; CardMemorySize bounds memory-mapped card-side offsets
	// (irrelevant, left 0, for stream endpoints).
	HostMapping    dmaarena.Mapping
	CardMemorySize uint64
}

// state is the three-state lifecycle of §3 invariant 8.
type state int

const (
	stateCreated state = iota
	stateRunning
	stateStopped
)

// Context is the Channel Context of spec §3: per-channel register access,
// the ring it owns, discovered alignment, and the mutable counters the
// Transfer API advances.
type Context struct {
	cfg Config
	win windowSet

	ring *ring.Ring

	addrAlignment  uint32
	lenGranularity uint32
	numAddressBits uint32

	state state

	numDescriptorsStarted          uint32 // mod 2^24
	numInUseDescriptors            uint32
	numPendingCompletedDescriptors uint32
	previousNumCompletedDescriptors uint32
	nextStartedDescriptorIndex     uint32
	nextCompletedDescriptorIndex   uint32

	numDescriptorsPerTransfer []uint32

	deadline      time.Time
	deadlineArmed bool

	failed  bool
	message string

	overallSuccess *bool
}

// Failed reports whether this context has recorded a failure; once true,
// every Transfer API call is a no-op per spec §4.4's failure semantics.
func (c *Context) Failed() bool {
	return c.failed
}

// Message returns the bounded diagnostic message recorded by the first
// failure, followed by a finalise-timeout note if Finalise timed out waiting
// for BUSY to clear, or "" if neither occurred.
func (c *Context) Message() string {
	return c.message
}

// NumInUseDescriptors reports how many descriptors are currently started or
// awaiting consumption, the value the multi-stream driver's stop condition
// (spec §4.6 step 5) drains to zero before exiting.
func (c *Context) NumInUseDescriptors() uint32 {
	return c.numInUseDescriptors
}

// Direction reports the channel's configured transfer direction.
func (c *Context) Direction() Direction {
	return c.cfg.Direction
}

// C2HStreamContinuous reports whether this context was configured for the
// continuous-C2H-stream mode, in which completed buffers are never
// re-queued by hand.
func (c *Context) C2HStreamContinuous() bool {
	return c.cfg.C2HStreamContinuous
}

func (c *Context) fail(kind qdmaerr.Kind, msg string) *qdmaerr.Error {
	if !c.failed {
		c.failed = true
		c.message = msg
		if c.overallSuccess != nil {
			*c.overallSuccess = false
		}
	}
	return qdmaerr.New(kind, msg)
}

// isIdle reports RUN=0 and BUSY=0 on the channel register block.
func (w windowSet) isIdle() bool {
	ctrl := w.bar.Read32(w.channelBase + offChannelControl)
	status := w.bar.Read32(w.channelBase + offChannelStatus)
	return ctrl&ctrlRun == 0 && status&statusBusy == 0
}

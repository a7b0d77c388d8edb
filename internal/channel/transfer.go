package channel

import (
	"fmt"
	"time"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/qdmaerr"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/ring"
)

const completedCounterModulus = 1 << 24

// diag builds the bounded diagnostic message spec §4.5.2/§4.5.8 require on
// failure: channel status, started/completed counts, next-indices, channel
// id, direction, device name.
func (c *Context) diag(reason string) string {
	status := c.win.bar.Read32(c.win.channelBase + offChannelStatus)
	dir := "h2c"
	if c.cfg.Direction == DirectionC2H {
		dir = "c2h"
	}
	return fmt.Sprintf("%s: device=%s channel=%d direction=%s status=0x%x started=%d completed_pending=%d next_started=%d next_completed=%d",
		reason, c.cfg.DeviceName, c.cfg.ChannelID, dir, status,
		c.numDescriptorsStarted, c.numPendingCompletedDescriptors,
		c.nextStartedDescriptorIndex, c.nextCompletedDescriptorIndex)
}

// PollForCompletion implements §4.5.2: acquire-load the completion
// writeback, fold in newly completed descriptors, and check the armed
// per-transfer deadline.
func (c *Context) PollForCompletion() {
	if c.failed {
		return
	}
	word := ring.ReadCompletionWordAcquire(c.ring.CompletionWB)
	errSet, completed := ring.ParseCompletionWord(word)
	if errSet {
		c.fail(qdmaerr.KindDeviceReportedError, c.diag("error reported in descriptor write back"))
		return
	}
	newCompleted := (completed - c.previousNumCompletedDescriptors + completedCounterModulus) % completedCounterModulus
	c.numPendingCompletedDescriptors += newCompleted
	c.previousNumCompletedDescriptors = completed

	if c.deadlineArmed && completed != c.numDescriptorsStarted {
		if time.Now().After(c.deadline) {
			c.fail(qdmaerr.KindTransferTimeout, c.diag("timeout"))
		}
	}
}

// NumFreeDescriptors implements §4.5.1.
func (c *Context) NumFreeDescriptors() uint32 {
	c.PollForCompletion()
	if c.failed {
		return 0
	}
	return c.cfg.NumDescriptors - c.numInUseDescriptors
}

// GetNextH2CBuffer implements §4.5.3.
func (c *Context) GetNextH2CBuffer() ([]byte, bool) {
	if c.failed {
		return nil, false
	}
	if c.cfg.Direction != DirectionH2C || c.cfg.BytesPerBuffer == 0 {
		c.fail(qdmaerr.KindInternalAssertion, "GetNextH2CBuffer requires H2C direction and fixed bytes_per_buffer")
		return nil, false
	}
	if c.NumFreeDescriptors() == 0 {
		return nil, false
	}
	idx := c.nextStartedDescriptorIndex
	off := c.cfg.HostBufferStartOffset + uint64(idx)*uint64(c.cfg.BytesPerBuffer)
	buf := c.cfg.HostMapping.HostMem[off : off+uint64(c.cfg.BytesPerBuffer)]
	c.numDescriptorsPerTransfer[idx] = 1
	c.numInUseDescriptors++
	return buf, true
}

// StartNextC2HBuffer implements §4.5.4.
func (c *Context) StartNextC2HBuffer() {
	if c.failed {
		return
	}
	if c.cfg.Direction != DirectionC2H || c.cfg.BytesPerBuffer == 0 || c.cfg.C2HStreamContinuous {
		c.fail(qdmaerr.KindInternalAssertion, "StartNextC2HBuffer requires non-continuous C2H direction and fixed bytes_per_buffer")
		return
	}
	if c.NumFreeDescriptors() == 0 {
		return
	}
	idx := c.nextStartedDescriptorIndex
	c.numDescriptorsPerTransfer[idx] = 1
	c.numInUseDescriptors++
	c.StartPopulatedDescriptors()
}

// alignedMaxLen is ALIGNED_MAX_LEN of §4.5.5: the largest per-descriptor
// length that stays a multiple of addr_alignment and fits the 28-bit
// length field.
func (c *Context) alignedMaxLen() uint32 {
	if c.addrAlignment == 0 {
		return maxLen
	}
	return (maxLen / c.addrAlignment) * c.addrAlignment
}

// PopulateMemoryTransfer implements §4.5.5.
func (c *Context) PopulateMemoryTransfer(length uint32, hostOff, cardOff uint64) ([]byte, bool) {
	if c.failed {
		return nil, false
	}
	if c.cfg.Endpoint != EndpointMemory || c.cfg.BytesPerBuffer != 0 {
		c.fail(qdmaerr.KindInternalAssertion, "PopulateMemoryTransfer requires memory-mapped endpoint and variable-length configuration")
		return nil, false
	}
	maxSlot := c.alignedMaxLen()
	required := (length + maxSlot - 1) / maxSlot
	if required == 0 {
		required = 1
	}
	if required > c.cfg.NumDescriptors {
		c.fail(qdmaerr.KindConfigInvalid, fmt.Sprintf("transfer of %d bytes needs %d descriptors, ring has %d", length, required, c.cfg.NumDescriptors))
		return nil, false
	}
	if hostOff+uint64(length) > uint64(len(c.cfg.HostMapping.HostMem)) {
		c.fail(qdmaerr.KindConfigInvalid, "host offset/length exceeds host mapping")
		return nil, false
	}
	if cardOff+uint64(length) > c.cfg.CardMemorySize {
		c.fail(qdmaerr.KindConfigInvalid, "card offset/length exceeds card memory")
		return nil, false
	}
	if c.NumFreeDescriptors() < required {
		return nil, false
	}

	idx := c.nextStartedDescriptorIndex
	hostIOVA := c.cfg.HostMapping.IOVABase + hostOff
	var bytesAdded uint64
	remaining := length
	for j := uint32(0); j < required; j++ {
		slot := (idx + j) % c.cfg.NumDescriptors
		chunk := remaining
		if chunk > maxSlot {
			chunk = maxSlot
		}
		src := hostIOVA + bytesAdded
		dst := cardOff + bytesAdded
		if c.cfg.Direction == DirectionC2H {
			src, dst = dst, src
		}
		ring.SetLen(c.ring.Desc, slot, chunk)
		ring.SetSrcAdr(c.ring.Desc, slot, src)
		ring.SetDstAdr(c.ring.Desc, slot, dst)
		bytesAdded += uint64(chunk)
		remaining -= chunk
	}

	c.numDescriptorsPerTransfer[idx] = required
	c.numInUseDescriptors += required
	return c.cfg.HostMapping.HostMem[hostOff : hostOff+uint64(length)], true
}

// PopulateStreamTransfer implements §4.5.6.
func (c *Context) PopulateStreamTransfer(length uint32, hostOff uint64) ([]byte, bool) {
	if c.failed {
		return nil, false
	}
	if c.cfg.Endpoint != EndpointStream || c.cfg.BytesPerBuffer != 0 {
		c.fail(qdmaerr.KindInternalAssertion, "PopulateStreamTransfer requires stream endpoint and variable-length configuration")
		return nil, false
	}
	maxSlot := c.alignedMaxLen()
	required := (length + maxSlot - 1) / maxSlot
	if required == 0 {
		required = 1
	}
	isC2HStream := c.cfg.Direction == DirectionC2H
	if isC2HStream && required != 1 {
		c.fail(qdmaerr.KindInternalAssertion, "C2H-stream transfer must fit in one descriptor")
		return nil, false
	}
	if required > c.cfg.NumDescriptors {
		c.fail(qdmaerr.KindConfigInvalid, fmt.Sprintf("transfer of %d bytes needs %d descriptors, ring has %d", length, required, c.cfg.NumDescriptors))
		return nil, false
	}
	if hostOff+uint64(length) > uint64(len(c.cfg.HostMapping.HostMem)) {
		c.fail(qdmaerr.KindConfigInvalid, "host offset/length exceeds host mapping")
		return nil, false
	}
	if c.NumFreeDescriptors() < required {
		return nil, false
	}

	idx := c.nextStartedDescriptorIndex
	hostIOVA := c.cfg.HostMapping.IOVABase + hostOff
	var bytesAdded uint64
	remaining := length
	for j := uint32(0); j < required; j++ {
		slot := (idx + j) % c.cfg.NumDescriptors
		chunk := remaining
		if chunk > maxSlot {
			chunk = maxSlot
		}
		ring.SetLen(c.ring.Desc, slot, chunk)
		if isC2HStream {
			ring.SetDstAdr(c.ring.Desc, slot, hostIOVA+bytesAdded)
		} else {
			ring.SetSrcAdr(c.ring.Desc, slot, hostIOVA+bytesAdded)
			ring.SetEOP(c.ring.Desc, slot, j == required-1)
		}
		bytesAdded += uint64(chunk)
		remaining -= chunk
	}

	c.numDescriptorsPerTransfer[idx] = required
	c.numInUseDescriptors += required
	return c.cfg.HostMapping.HostMem[hostOff : hostOff+uint64(length)], true
}

// StartPopulatedDescriptors implements §4.5.7.
func (c *Context) StartPopulatedDescriptors() {
	if c.failed {
		return
	}
	idx := c.nextStartedDescriptorIndex
	count := c.numDescriptorsPerTransfer[idx]
	if count == 0 {
		c.fail(qdmaerr.KindInternalAssertion, "StartPopulatedDescriptors called with nothing populated at next_started_index")
		return
	}
	c.nextStartedDescriptorIndex = (idx + count) % c.cfg.NumDescriptors
	c.numDescriptorsStarted = (c.numDescriptorsStarted + count) % completedCounterModulus
	c.win.bar.Write32(c.win.sgdmaBase+offSGDMACredits, count)

	if c.cfg.Timeout >= 0 {
		c.deadline = time.Now().Add(c.cfg.Timeout)
		c.deadlineArmed = true
	}
}

// PollCompletedTransfer implements §4.5.8. ok is false if the slot at
// next_completed_index has no populated transfer, or it has not yet fully
// completed.
func (c *Context) PollCompletedTransfer() (hostPtr []byte, length uint32, eop bool, ok bool) {
	if c.failed {
		return nil, 0, false, false
	}
	idx := c.nextCompletedDescriptorIndex
	count := c.numDescriptorsPerTransfer[idx]
	if count == 0 {
		return nil, 0, false, false
	}
	c.PollForCompletion()
	if c.failed || c.numPendingCompletedDescriptors < count {
		return nil, 0, false, false
	}

	isC2HStream := c.cfg.Direction == DirectionC2H && c.cfg.Endpoint == EndpointStream
	var baseIOVA uint64
	if c.cfg.Direction == DirectionH2C {
		baseIOVA = ring.ReadSrcAdr(c.ring.Desc, idx)
	} else {
		baseIOVA = ring.ReadDstAdr(c.ring.Desc, idx)
	}

	if isC2HStream {
		magicOK, slotEOP, reportedLen := ring.ReadStreamWriteback(c.ring.LengthWB, idx)
		if !magicOK {
			c.fail(qdmaerr.KindStreamWritebackMagicMismatch, c.diag("stream writeback magic mismatch"))
			return nil, 0, false, false
		}
		length = reportedLen
		eop = slotEOP
	} else {
		for j := uint32(0); j < count; j++ {
			slot := (idx + j) % c.cfg.NumDescriptors
			length += ring.ReadLen(c.ring.Desc, slot)
		}
		lastSlot := (idx + count - 1) % c.cfg.NumDescriptors
		eop = ring.EOPSet(c.ring.Desc, lastSlot)
	}

	off := baseIOVA - c.cfg.HostMapping.IOVABase
	hostPtr = c.cfg.HostMapping.HostMem[off : off+uint64(length)]

	c.numPendingCompletedDescriptors -= count
	if !c.cfg.C2HStreamContinuous {
		c.numInUseDescriptors -= count
		c.numDescriptorsPerTransfer[idx] = 0
	}
	c.nextCompletedDescriptorIndex = (idx + count) % c.cfg.NumDescriptors

	return hostPtr, length, eop, true
}

// Package regio implements the Register Window: typed, volatile 32/64-bit
// access over a memory-mapped BAR slice, plus the submodule/channel address
// index functions the QDMA register map is built from.
package regio

import (
	"sync/atomic"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/qdmaerr"
)

// MinBARSize is the smallest BAR region initialise() will accept; the QDMA
// control block occupies 64KiB starting at offset 0 of the chosen BAR.
const MinBARSize = 64 * 1024

// Submodule IDs, §4.1.
const (
	SubmoduleH2CChannels uint32 = 0
	SubmoduleC2HChannels uint32 = 1
	SubmoduleH2CSGDMA    uint32 = 4
	SubmoduleC2HSGDMA    uint32 = 5
	SubmoduleSGDMACommon uint32 = 6
)

// SubmoduleBase returns the BAR-relative base offset of a submodule.
func SubmoduleBase(submoduleID uint32) uint32 {
	return submoduleID << 12
}

// ChannelBase returns the BAR-relative base offset of one channel's
// register block within a submodule.
func ChannelBase(submoduleID, channelID uint32) uint32 {
	return SubmoduleBase(submoduleID) + (channelID << 8)
}

// Window is a volatile view over one mapped BAR region. All loads and
// stores go through atomic primitives so the compiler cannot elide or
// reorder them relative to the device actually observing them over PCIe.
type Window struct {
	mem []byte
}

// NewWindow wraps a byte slice, normally produced by mmap'ing a BAR, as a
// register window. Size is validated by callers that require a minimum BAR
// size (internal/channel's initialise step).
func NewWindow(mem []byte) *Window {
	return &Window{mem: mem}
}

// Len returns the size of the mapped region in bytes.
func (w *Window) Len() int {
	return len(w.mem)
}

func (w *Window) slice32(offset uint32) *uint32 {
	return (*uint32)(atomicPointer(w.mem, offset, 4))
}

// Read32 performs a volatile 32-bit load at the given BAR-relative offset.
func (w *Window) Read32(offset uint32) uint32 {
	return atomic.LoadUint32(w.slice32(offset))
}

// Write32 performs a volatile 32-bit store at the given BAR-relative offset.
func (w *Window) Write32(offset uint32, value uint32) {
	atomic.StoreUint32(w.slice32(offset), value)
}

// Read64 performs two 32-bit loads and assembles a little-endian 64-bit
// value: low word first, matching the engine's split-register layout.
func (w *Window) Read64(offset uint32) uint64 {
	lo := uint64(w.Read32(offset))
	hi := uint64(w.Read32(offset + 4))
	return lo | (hi << 32)
}

// Write64 performs two 32-bit stores, low word first then high word,
// honouring the engine's split-register write ordering requirement.
func (w *Window) Write64(offset uint32, value uint64) {
	w.Write32(offset, uint32(value))
	w.Write32(offset+4, uint32(value>>32))
}

// ReadCompletionWordAcquire performs an acquire-ordered 32-bit load of the
// completion writeback combined field (spec §4.5.2, §5). On amd64/arm64 a
// plain atomic load already has acquire semantics; this wrapper documents
// the requirement at the one call site that depends on it.
func (w *Window) ReadCompletionWordAcquire(offset uint32) uint32 {
	return atomic.LoadUint32(w.slice32(offset))
}

// CheckSize returns an error if the window is smaller than min.
func (w *Window) CheckSize(min int) error {
	if len(w.mem) < min {
		return qdmaerr.Newf(qdmaerr.KindInitBarTooSmall, "BAR size %d below required %d", len(w.mem), min)
	}
	return nil
}

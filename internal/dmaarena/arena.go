// Package dmaarena implements the DMA Mapping Arena: a bump allocator that
// hands out cache-line-aligned sub-regions of one externally allocated,
// IOMMU-mapped host buffer, returning both the host-virtual view and the
// device-visible IOVA of each sub-region.
package dmaarena

import (
	"io"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/qdmaerr"
)

// defaultCacheLineSize is used whenever the platform's cache line size
// cannot be determined from sysfs.
const defaultCacheLineSize = 64

var (
	cacheLineOnce sync.Once
	cacheLineSize int
	openFile      = openFileOrig
)

func openFileOrig(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// CacheLineSize returns the platform's L1 cache line size, falling back to
// 64 bytes when it cannot be discovered.
func CacheLineSize() int {
	cacheLineOnce.Do(func() {
		cacheLineSize = defaultCacheLineSize
		f, err := openFile("/sys/devices/system/cpu/cpu0/cache/index0/coherency_line_size")
		if err != nil {
			return
		}
		defer f.Close()
		b, err := ioutil.ReadAll(f)
		if err != nil {
			return
		}
		if n, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil && n > 0 {
			cacheLineSize = n
		}
	})
	return cacheLineSize
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Mapping is the externally allocated backing region the arena sub-divides.
// HostMem is the process-local view; IOVABase is the address the device
// must use to reach HostMem[0].
type Mapping struct {
	HostMem  []byte
	IOVABase uint64
}

// Arena bump-allocates cache-line-aligned sub-regions inside one Mapping.
// It never resizes the mapping; callers precompute the total size with
// SizeNeededForRing and allocate the backing Mapping once.
type Arena struct {
	mapping Mapping
	cursor  uint64
}

// New creates an arena over an already-allocated mapping.
func New(mapping Mapping) *Arena {
	return &Arena{mapping: mapping}
}

// Align advances the internal cursor to the next cache-line boundary.
func (a *Arena) Align() {
	a.cursor = alignUp(a.cursor, uint64(CacheLineSize()))
}

// Allocate returns both views of a size-byte sub-region and advances the
// cursor. It fails with KindArenaOutOfSpace if the mapping has insufficient
// remaining space.
func (a *Arena) Allocate(size uint64) ([]byte, uint64, error) {
	if a.cursor+size > uint64(len(a.mapping.HostMem)) {
		return nil, 0, qdmaerr.Newf(qdmaerr.KindArenaOutOfSpace,
			"need %d bytes at offset %d, mapping is %d bytes", size, a.cursor, len(a.mapping.HostMem))
	}
	host := a.mapping.HostMem[a.cursor : a.cursor+size]
	iova := a.mapping.IOVABase + a.cursor
	a.cursor += size
	return host, iova, nil
}

// RingSizeConfig carries the fields of a channel configuration that
// SizeNeededForRing needs, without importing the channel package (which
// itself depends on dmaarena for ring construction).
type RingSizeConfig struct {
	NumDescriptors  uint32
	IsC2HStream     bool
}

const descriptorSize = 32
const completionWritebackSize = 8
const lengthWritebackSize = 8

// SizeNeededForRing computes the total arena space one descriptor ring
// requires: the descriptor array, the completion writeback, and (for C2H
// stream rings) the per-slot length-writeback array, each cache-aligned.
func SizeNeededForRing(cfg RingSizeConfig) uint64 {
	line := uint64(CacheLineSize())
	total := alignUp(uint64(cfg.NumDescriptors)*descriptorSize, line)
	total += alignUp(completionWritebackSize, line)
	if cfg.IsC2HStream {
		total += alignUp(uint64(cfg.NumDescriptors)*lengthWritebackSize, line)
	}
	return total
}

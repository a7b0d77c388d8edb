// Package xlxdesign reads the device-resident description of the FPGA
// design wrapped around the DMA bridge: which BAR the bridge lives in, how
// big its card-side memory window is, a design identifier, and — when an
// AXI4-Stream Switch is present — the enabled master/slave route table.
// spec §6 names this as an external collaborator with a fixed contract;
// this package is the concrete reader for it, grounded on pkg/hef's
// fixed-binary-header parsing idiom (magic check, little-endian field
// reads, length-prefixed sections) applied to a register window instead of
// a file.
package xlxdesign

import (
	"encoding/binary"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/qdmaerr"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/regio"
)

// DesignMetadataMagic identifies the fixed metadata block this package
// knows how to parse, the same role HefMagic plays for a HEF file.
const DesignMetadataMagic = 0x584C5844 // "DXLX" little-endian

const (
	offMetadataMagic      = 0x00
	offMetadataVersion    = 0x04
	offMetadataBarIndex   = 0x08
	offMetadataMemorySize = 0x0C
	offMetadataDesignID   = 0x14
	offMetadataNumRoutes  = 0x18
	offMetadataRoutesBase = 0x1C

	routeEntrySize = 12
)

// Metadata is spec §6's "FPGA design metadata" tuple: `{
// dma_bridge_bar_index, dma_bridge_memory_size_bytes, design_id }`.
// MemorySizeBytes == 0 means the DMA bridge is an AXI-stream endpoint
// rather than a memory-mapped one.
type Metadata struct {
	DMABridgeBarIndex       uint32
	DMABridgeMemorySizeBytes uint64
	DesignID                uint32
}

// Route is one enabled AXI4-Stream Switch master/slave pairing: which H2C
// channel (master, card-to-host direction notwithstanding the switch's own
// naming) feeds which C2H channel in the fabric. The driver core only ever
// consumes the pair list, never the switch's own configuration registers.
type Route struct {
	MasterChannelID uint32
	SlaveChannelID  uint32
	IsH2CToC2H      bool
}

// ReadMetadata parses the fixed metadata header at the start of w, the way
// ParseHeader reads a HEF's magic-version-size triple before anything
// version-specific is interpreted.
func ReadMetadata(w *regio.Window) (Metadata, error) {
	if err := w.CheckSize(int(offMetadataRoutesBase)); err != nil {
		return Metadata{}, err
	}
	magic := w.Read32(offMetadataMagic)
	if magic != DesignMetadataMagic {
		return Metadata{}, qdmaerr.Newf(qdmaerr.KindInitRegisterMismatch,
			"design metadata magic = %#08x, want %#08x", magic, DesignMetadataMagic)
	}

	return Metadata{
		DMABridgeBarIndex:        w.Read32(offMetadataBarIndex),
		DMABridgeMemorySizeBytes: w.Read64(offMetadataMemorySize),
		DesignID:                 w.Read32(offMetadataDesignID),
	}, nil
}

// ReadStreamRoutes parses the optional length-prefixed route table that
// follows the fixed metadata header. A design with no AXI4-Stream Switch
// omits the table entirely (magic mismatch or a zero route count), and
// ReadStreamRoutes returns (nil, nil) rather than an error — the switch is
// genuinely optional per spec §6.
func ReadStreamRoutes(w *regio.Window) ([]Route, error) {
	if err := w.CheckSize(int(offMetadataRoutesBase)); err != nil {
		return nil, nil
	}
	if w.Read32(offMetadataMagic) != DesignMetadataMagic {
		return nil, nil
	}

	numRoutes := w.Read32(offMetadataNumRoutes)
	if numRoutes == 0 {
		return nil, nil
	}

	tableEnd := offMetadataRoutesBase + numRoutes*routeEntrySize
	if err := w.CheckSize(int(tableEnd)); err != nil {
		return nil, qdmaerr.Wrap(qdmaerr.KindInitRegisterMismatch, "stream route table exceeds window", err)
	}

	routes := make([]Route, 0, numRoutes)
	for i := uint32(0); i < numRoutes; i++ {
		base := offMetadataRoutesBase + i*routeEntrySize
		routes = append(routes, Route{
			MasterChannelID: w.Read32(base),
			SlaveChannelID:  w.Read32(base + 4),
			IsH2CToC2H:      w.Read32(base+8) != 0,
		})
	}
	return routes, nil
}

// writeRouteEntry is the test-side mirror of the layout ReadStreamRoutes
// decodes, kept next to it so the two never drift apart.
func writeRouteEntry(mem []byte, base uint32, r Route) {
	binary.LittleEndian.PutUint32(mem[base:], r.MasterChannelID)
	binary.LittleEndian.PutUint32(mem[base+4:], r.SlaveChannelID)
	flag := uint32(0)
	if r.IsH2CToC2H {
		flag = 1
	}
	binary.LittleEndian.PutUint32(mem[base+8:], flag)
}

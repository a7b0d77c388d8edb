package ring

import "github.com/Chester-Gillon/fpga-sio-sub000/internal/dmaarena"

// Direction identifies which way a channel moves bytes. It lives here,
// rather than in internal/channel, because ring construction needs it to
// decide which descriptor field carries the host IOVA and which carries the
// card-side address, and internal/channel imports this package.
type Direction int

const (
	H2C Direction = iota
	C2H
)

// Ring is the fixed-size array of descriptors plus its completion
// writeback and, for C2H-stream channels, its per-slot length writeback.
// Once built it is never reallocated; internal/channel mutates Desc and
// LengthWB in place through the accessor functions in descriptor.go.
type Ring struct {
	N           uint32
	IsC2HStream bool

	Desc     []byte
	DescIOVA uint64

	CompletionWB   []byte
	CompletionIOVA uint64

	// LengthWB is nil for non-stream or non-C2H rings.
	LengthWB     []byte
	LengthWBIOVA uint64
}

// BuildConfig carries everything ring construction needs to prefill the
// static and, for fixed-size buffers, the per-slot address fields of every
// descriptor.
type BuildConfig struct {
	NumDescriptors   uint32
	Direction        Direction
	EndpointIsStream bool
	IsC2HStream      bool // Direction == C2H && EndpointIsStream

	// FixedBytesPerBuffer is 0 for variable-length transfers, in which
	// case address fields other than the C2H-stream src_adr are left at
	// zero and populated per-transfer by internal/channel.
	FixedBytesPerBuffer uint32
	HostBufferIOVA      uint64
	CardBufferBase      uint64
}

// Build performs the four steps of §4.3 ring construction: allocate the
// descriptor array, optionally the C2H-stream length-writeback array, the
// completion writeback, then prefill every descriptor's static fields.
func Build(arena *dmaarena.Arena, cfg BuildConfig) (*Ring, error) {
	n := cfg.NumDescriptors

	arena.Align()
	descMem, descIOVA, err := arena.Allocate(uint64(n) * DescriptorSize)
	if err != nil {
		return nil, err
	}

	var lengthMem []byte
	var lengthIOVA uint64
	if cfg.IsC2HStream {
		arena.Align()
		lengthMem, lengthIOVA, err = arena.Allocate(uint64(n) * LengthWritebackSize)
		if err != nil {
			return nil, err
		}
	}

	arena.Align()
	completionMem, completionIOVA, err := arena.Allocate(CompletionWritebackSize)
	if err != nil {
		return nil, err
	}

	r := &Ring{
		N:              n,
		IsC2HStream:    cfg.IsC2HStream,
		Desc:           descMem,
		DescIOVA:       descIOVA,
		CompletionWB:   completionMem,
		CompletionIOVA: completionIOVA,
		LengthWB:       lengthMem,
		LengthWBIOVA:   lengthIOVA,
	}

	fixedH2CStream := cfg.FixedBytesPerBuffer > 0 && cfg.EndpointIsStream && cfg.Direction == H2C

	for i := uint32(0); i < n; i++ {
		control := ControlCOMPLETED
		if fixedH2CStream {
			control |= ControlEOP
		}
		nxtIOVA := descIOVA + uint64((i+1)%n)*DescriptorSize

		var src, dst uint64
		var length uint32

		if cfg.IsC2HStream {
			src = lengthIOVA + uint64(i)*LengthWritebackSize
		}

		if cfg.FixedBytesPerBuffer > 0 {
			length = cfg.FixedBytesPerBuffer
			hostIOVA := cfg.HostBufferIOVA + uint64(i)*uint64(cfg.FixedBytesPerBuffer)
			cardAddr := cfg.CardBufferBase + uint64(i)*uint64(cfg.FixedBytesPerBuffer)
			switch {
			case cfg.IsC2HStream:
				dst = hostIOVA
			case cfg.Direction == H2C:
				src = hostIOVA
				dst = cardAddr
			default: // C2H memory-mapped
				src = cardAddr
				dst = hostIOVA
			}
		}

		WriteDescriptor(r.Desc, i, control, length, src, dst, nxtIOVA)
	}

	return r, nil
}

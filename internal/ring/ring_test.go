//go:build unit

package ring

import (
	"testing"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/dmaarena"
	"github.com/Chester-Gillon/fpga-sio-sub000/testutil"
)

func newTestArena(size uint64) *dmaarena.Arena {
	return dmaarena.New(dmaarena.Mapping{HostMem: make([]byte, size), IOVABase: 0x2000_0000})
}

func TestBuildRingTopology(t *testing.T) {
	for _, n := range []uint32{1, 2, 7, 511} {
		n := n
		t.Run("", func(t *testing.T) {
			a := newTestArena(dmaarena.SizeNeededForRing(dmaarena.RingSizeConfig{NumDescriptors: n, IsC2HStream: false}))
			r, err := Build(a, BuildConfig{NumDescriptors: n, Direction: H2C})
			testutil.AssertNoError(t, err, "Build")
			for i := uint32(0); i < n; i++ {
				if got := ReadMagic(r.Desc, i); got != DescriptorMagic {
					t.Errorf("descriptor %d magic = 0x%x, want 0x%x", i, got, DescriptorMagic)
				}
				want := r.DescIOVA + uint64((i+1)%n)*DescriptorSize
				if got := ReadNxtAdr(r.Desc, i); got != want {
					t.Errorf("descriptor %d nxt_adr = 0x%x, want 0x%x", i, got, want)
				}
				if ReadControl(r.Desc, i)&ControlCOMPLETED == 0 {
					t.Errorf("descriptor %d missing COMPLETED bit", i)
				}
			}
		})
	}
}

func TestBuildRingFixedH2CStreamSetsEOPOnEverySlot(t *testing.T) {
	n := uint32(4)
	a := newTestArena(dmaarena.SizeNeededForRing(dmaarena.RingSizeConfig{NumDescriptors: n, IsC2HStream: false}))
	r, err := Build(a, BuildConfig{
		NumDescriptors:      n,
		Direction:           H2C,
		EndpointIsStream:    true,
		FixedBytesPerBuffer: 0x1000,
		HostBufferIOVA:      0x3000_0000,
	})
	testutil.AssertNoError(t, err, "Build")
	for i := uint32(0); i < n; i++ {
		if !EOPSet(r.Desc, i) {
			t.Errorf("descriptor %d missing EOP for fixed-size H2C stream ring", i)
		}
		if got := ReadLen(r.Desc, i); got != 0x1000 {
			t.Errorf("descriptor %d len = %d, want 0x1000", i, got)
		}
	}
}

func TestBuildRingVariableLengthLeavesEOPClear(t *testing.T) {
	n := uint32(4)
	a := newTestArena(dmaarena.SizeNeededForRing(dmaarena.RingSizeConfig{NumDescriptors: n, IsC2HStream: false}))
	r, err := Build(a, BuildConfig{NumDescriptors: n, Direction: H2C, EndpointIsStream: true})
	testutil.AssertNoError(t, err, "Build")
	for i := uint32(0); i < n; i++ {
		if EOPSet(r.Desc, i) {
			t.Errorf("descriptor %d has EOP set before any transfer populated it", i)
		}
	}
}

func TestBuildRingC2HStreamSrcPointsAtLengthWriteback(t *testing.T) {
	n := uint32(8)
	a := newTestArena(dmaarena.SizeNeededForRing(dmaarena.RingSizeConfig{NumDescriptors: n, IsC2HStream: true}))
	r, err := Build(a, BuildConfig{
		NumDescriptors:   n,
		Direction:        C2H,
		EndpointIsStream: true,
		IsC2HStream:      true,
	})
	testutil.AssertNoError(t, err, "Build")
	if r.LengthWB == nil {
		t.Fatal("expected length-writeback array to be allocated")
	}
	for i := uint32(0); i < n; i++ {
		want := r.LengthWBIOVA + uint64(i)*LengthWritebackSize
		if got := ReadSrcAdr(r.Desc, i); got != want {
			t.Errorf("descriptor %d src_adr = 0x%x, want 0x%x", i, got, want)
		}
	}
}

func TestBuildRingFixedSizeMemoryMappedPrefillsAddresses(t *testing.T) {
	n := uint32(4)
	a := newTestArena(dmaarena.SizeNeededForRing(dmaarena.RingSizeConfig{NumDescriptors: n, IsC2HStream: false}))
	const bufSize = 0x800
	r, err := Build(a, BuildConfig{
		NumDescriptors:      n,
		Direction:           H2C,
		FixedBytesPerBuffer: bufSize,
		HostBufferIOVA:      0x4000_0000,
		CardBufferBase:      0x1000,
	})
	testutil.AssertNoError(t, err, "Build")
	for i := uint32(0); i < n; i++ {
		wantSrc := uint64(0x4000_0000) + uint64(i)*bufSize
		wantDst := uint64(0x1000) + uint64(i)*bufSize
		if got := ReadSrcAdr(r.Desc, i); got != wantSrc {
			t.Errorf("descriptor %d src_adr = 0x%x, want 0x%x", i, got, wantSrc)
		}
		if got := ReadDstAdr(r.Desc, i); got != wantDst {
			t.Errorf("descriptor %d dst_adr = 0x%x, want 0x%x", i, got, wantDst)
		}
	}
}

func TestCompletionWordParsing(t *testing.T) {
	tests := []struct {
		word      uint32
		wantErr   bool
		wantCount uint32
	}{
		{0x00000005, false, 5},
		{0x80000007, true, 7},
		{0x00FFFFFF, false, 0x00FFFFFF},
	}
	for _, tt := range tests {
		gotErr, gotCount := ParseCompletionWord(tt.word)
		if gotErr != tt.wantErr || gotCount != tt.wantCount {
			t.Errorf("ParseCompletionWord(0x%x) = (%v, %d), want (%v, %d)", tt.word, gotErr, gotCount, tt.wantErr, tt.wantCount)
		}
	}
}

func TestStreamWritebackMagicAndEOP(t *testing.T) {
	mem := make([]byte, LengthWritebackSize*2)
	// Slot 0: magic ok, eop set, length 0x123.
	mem[2] = byte(StreamWritebackMagic)
	mem[3] = byte(StreamWritebackMagic >> 8)
	mem[0] = 1
	mem[4] = 0x23
	mem[5] = 0x01
	magicOK, eop, length := ReadStreamWriteback(mem, 0)
	if !magicOK || !eop || length != 0x123 {
		t.Errorf("ReadStreamWriteback(0) = (%v, %v, 0x%x), want (true, true, 0x123)", magicOK, eop, length)
	}
	// Slot 1 left zeroed: magic mismatch.
	magicOK, _, _ = ReadStreamWriteback(mem, 1)
	if magicOK {
		t.Error("expected magic mismatch for zeroed slot")
	}
}

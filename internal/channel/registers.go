package channel

import "github.com/Chester-Gillon/fpga-sio-sub000/internal/regio"

// ExpectedSubsystemID is the constant subsystem identity every one of a
// channel's three register blocks must report, per spec §4.4 step 2.
const ExpectedSubsystemID = 0x1FC

// Identity register, at channelBase(submodule, channelID)+0x00 of every
// block (channel, sgdma, sgdma-common — for the common block channelID is
// always 0).
const (
	offIdentity = 0x00

	identitySubsystemShift = 20
	identitySubsystemMask  = 0xFFF
	identitySubmoduleShift = 16
	identitySubmoduleMask  = 0xF
	identityStreamBit      = 1 << 15
	identityChannelShift   = 8
	identityChannelMask    = 0xF
)

func decodeIdentity(word uint32) (subsystemID, submoduleID uint32, stream bool, channelID uint32) {
	subsystemID = (word >> identitySubsystemShift) & identitySubsystemMask
	submoduleID = (word >> identitySubmoduleShift) & identitySubmoduleMask
	stream = word&identityStreamBit != 0
	channelID = (word >> identityChannelShift) & identityChannelMask
	return
}

// Channel block (submodule H2C/C2H-channels) registers, relative to
// channelBase(submodule, channelID).
const (
	offChannelControl    = 0x04
	offChannelControlW1S = 0x08
	offChannelControlW1C = 0x0C
	offChannelStatus     = 0x40
	offChannelStatusRC   = 0x44
	offChannelAlignments = 0x4C
	offChannelPollWBAddr = 0x88 // 64-bit, via Write64

	ctrlRun              uint32 = 1 << 0
	ctrlPollModeWBEnable uint32 = 1 << 26
	// ctrlErrorIEMask covers every IE_* bit named in spec §6's register
	// map: IE_DESCRIPTOR_COMPLETED(2), IE_ALIGN_MISMATCH(3),
	// IE_MAGIC_STOPPED(4), IE_INVALID_LENGTH(5), IE_READ_ERROR[13:9],
	// IE_WRITE_ERROR[18:14], IE_DESC_ERROR[23:19].
	ctrlErrorIEMask uint32 = 0xFFFE3C

	statusBusy uint32 = 1 << 0

	alignBitsShift = 0
	alignBitsMask  = 0xFF
	alignLenShift  = 8
	alignLenMask   = 0xFF
	alignAddrShift = 16
	alignAddrMask  = 0xFF
)

// SGDMA block (submodule H2C/C2H-sgdma) registers, relative to
// channelBase(submodule, channelID).
const (
	offSGDMADescAddr = 0x80 // 64-bit, via Write64
	offSGDMAAdjacent = 0x88
	offSGDMACredits  = 0x8C
)

// SGDMA-common block (submodule 6) registers. These are bit-indexed by
// channel id rather than per-channel base offsets: H2C channels occupy
// bits[3:0], C2H channels occupy bits[19:16].
const (
	offCommonDescControlW1S  = 0x14
	offCommonDescControlW1C  = 0x18
	offCommonCreditEnableW1S = 0x24
	offCommonCreditEnableW1C = 0x28
)

// channelBitShift computes the bit position of channelID within the common
// block's per-channel halt and credit-enable W1S/W1C registers, per
// direction.
func channelBitShift(direction Direction, channelID uint32) uint32 {
	if direction == DirectionC2H {
		return 16 + channelID
	}
	return channelID
}

// MaxCredits is the width of the credit register: X2X_SGDMA_MAX_DESCRIPTOR_CREDITS.
const MaxCredits = 511

// windowSet bundles the three register windows and their channel-relative
// base offsets, mirroring spec §3's "references to three register windows
// (channel, sgdma, sgdma-common)".
type windowSet struct {
	bar *regio.Window

	channelBase uint32
	sgdmaBase   uint32
	commonBase  uint32
}

func newWindowSet(bar *regio.Window, direction Direction, channelID uint32) windowSet {
	var chSub, sgdmaSub uint32
	if direction == DirectionC2H {
		chSub, sgdmaSub = regio.SubmoduleC2HChannels, regio.SubmoduleC2HSGDMA
	} else {
		chSub, sgdmaSub = regio.SubmoduleH2CChannels, regio.SubmoduleH2CSGDMA
	}
	return windowSet{
		bar:         bar,
		channelBase: regio.ChannelBase(chSub, channelID),
		sgdmaBase:   regio.ChannelBase(sgdmaSub, channelID),
		commonBase:  regio.SubmoduleBase(regio.SubmoduleSGDMACommon),
	}
}

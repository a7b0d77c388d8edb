package channel

import (
	"fmt"
	"time"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/dmaarena"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/qdmaerr"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/regio"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/ring"
)

const maxLen = (1 << 28) - 1

// Initialise performs the six steps of spec §4.4: BAR size check, identity
// validation on all three register blocks, alignment discovery,
// configuration validation, idle verification, and ring construction plus
// register programming. overallSuccess is the caller-owned flag every
// failure from this context (now or later) clears.
func Initialise(arena *dmaarena.Arena, bar *regio.Window, cfg Config, overallSuccess *bool) (*Context, error) {
	c := &Context{cfg: cfg, overallSuccess: overallSuccess}
	c.win = newWindowSet(bar, cfg.Direction, cfg.ChannelID)

	if err := bar.CheckSize(regio.MinBARSize); err != nil {
		return c, c.fail(qdmaerr.KindInitBarTooSmall, err.Error())
	}

	wantStream := cfg.Endpoint == EndpointStream

	var chSub, sgdmaSub uint32
	if cfg.Direction == DirectionC2H {
		chSub, sgdmaSub = regio.SubmoduleC2HChannels, regio.SubmoduleC2HSGDMA
	} else {
		chSub, sgdmaSub = regio.SubmoduleH2CChannels, regio.SubmoduleH2CSGDMA
	}

	if err := c.checkIdentity(c.win.channelBase, chSub, cfg.ChannelID, wantStream, true); err != nil {
		return c, err
	}
	if err := c.checkIdentity(c.win.sgdmaBase, sgdmaSub, cfg.ChannelID, wantStream, true); err != nil {
		return c, err
	}
	// The sgdma-common block is shared by every channel; its identity
	// register carries no per-channel or per-stream meaning, so only
	// subsystem/submodule are checked.
	if err := c.checkIdentity(c.win.commonBase, regio.SubmoduleSGDMACommon, 0, false, false); err != nil {
		return c, err
	}

	alignWord := bar.Read32(c.win.channelBase + offChannelAlignments)
	hwAddrAlignment := (alignWord >> alignAddrShift) & alignAddrMask
	c.lenGranularity = (alignWord >> alignLenShift) & alignLenMask
	c.numAddressBits = (alignWord >> alignBitsShift) & alignBitsMask
	c.addrAlignment = hwAddrAlignment
	if cfg.MinSizeAlignment > c.addrAlignment {
		c.addrAlignment = cfg.MinSizeAlignment
	}

	if err := c.validateConfig(); err != nil {
		return c, err
	}

	if !c.win.isIdle() {
		return c, c.fail(qdmaerr.KindInitChannelNotIdle, fmt.Sprintf("channel %d not idle at initialise", cfg.ChannelID))
	}
	if credits := bar.Read32(c.win.sgdmaBase + offSGDMACredits); credits != 0 {
		return c, c.fail(qdmaerr.KindInitResidualCredits, fmt.Sprintf("channel %d has %d residual credits at initialise", cfg.ChannelID, credits))
	}

	builtRing, err := ring.Build(arena, ring.BuildConfig{
		NumDescriptors:      cfg.NumDescriptors,
		Direction:           cfg.Direction,
		EndpointIsStream:    cfg.Endpoint == EndpointStream,
		IsC2HStream:         cfg.Direction == DirectionC2H && cfg.Endpoint == EndpointStream,
		FixedBytesPerBuffer: cfg.BytesPerBuffer,
		HostBufferIOVA:      cfg.HostMapping.IOVABase + cfg.HostBufferStartOffset,
		CardBufferBase:      cfg.CardBufferStartOffset,
	})
	if err != nil {
		return c, c.fail(qdmaerr.KindArenaOutOfSpace, err.Error())
	}
	c.ring = builtRing
	c.numDescriptorsPerTransfer = make([]uint32, cfg.NumDescriptors)

	bar.Write64(c.win.channelBase+offChannelPollWBAddr, builtRing.CompletionIOVA)
	bar.Write64(c.win.sgdmaBase+offSGDMADescAddr, builtRing.DescIOVA)
	bar.Write32(c.win.sgdmaBase+offSGDMAAdjacent, 0)
	bar.Write32(c.win.channelBase+offChannelControl, ctrlPollModeWBEnable|ctrlErrorIEMask)

	bit := channelBitShift(cfg.Direction, cfg.ChannelID)
	if cfg.C2HStreamContinuous {
		bar.Write32(c.win.commonBase+offCommonCreditEnableW1S, 1<<bit)
	} else {
		bar.Write32(c.win.commonBase+offCommonCreditEnableW1C, 1<<bit)
	}
	bar.Write32(c.win.commonBase+offCommonDescControlW1C, 1<<bit)

	bar.Write32(c.win.channelBase+offChannelControl, ctrlPollModeWBEnable|ctrlErrorIEMask|ctrlRun)

	c.state = stateRunning

	if cfg.C2HStreamContinuous {
		for i := range c.numDescriptorsPerTransfer {
			c.numDescriptorsPerTransfer[i] = 1
		}
		c.numInUseDescriptors = cfg.NumDescriptors
		n := cfg.NumDescriptors
		c.numDescriptorsStarted = n % (1 << 24)
		c.nextStartedDescriptorIndex = 0
		bar.Write32(c.win.sgdmaBase+offSGDMACredits, n)
	}

	return c, nil
}

// checkIdentity reads the identity register at base and validates it
// against the expected submodule and, when checkChannel is true, the
// expected channel id and stream bit.
func (c *Context) checkIdentity(base, wantSubmodule, wantChannel uint32, wantStream, checkChannel bool) error {
	word := c.win.bar.Read32(base + offIdentity)
	subsystemID, submoduleID, stream, channelID := decodeIdentity(word)
	if subsystemID != ExpectedSubsystemID || submoduleID != wantSubmodule {
		return c.fail(qdmaerr.KindInitRegisterMismatch, fmt.Sprintf(
			"identity at 0x%x: subsystem=0x%x submodule=0x%x, want subsystem=0x%x submodule=0x%x",
			base, subsystemID, submoduleID, ExpectedSubsystemID, wantSubmodule))
	}
	if checkChannel && channelID != wantChannel {
		return c.fail(qdmaerr.KindInitRegisterMismatch, fmt.Sprintf(
			"identity at 0x%x: channel id=%d, want %d", base, channelID, wantChannel))
	}
	if checkChannel && stream != wantStream {
		return c.fail(qdmaerr.KindInitRegisterMismatch, fmt.Sprintf(
			"identity at 0x%x: stream bit=%v, want %v", base, stream, wantStream))
	}
	return nil
}

func (c *Context) validateConfig() error {
	cfg := c.cfg
	if cfg.NumDescriptors < 1 {
		return c.fail(qdmaerr.KindConfigInvalid, "num_descriptors must be >= 1")
	}
	continuous := cfg.C2HStreamContinuous
	if cfg.NumDescriptors > MaxCredits && !continuous {
		return c.fail(qdmaerr.KindConfigInvalid, fmt.Sprintf("num_descriptors %d exceeds credit register max %d", cfg.NumDescriptors, MaxCredits))
	}
	if cfg.BytesPerBuffer > maxLen {
		return c.fail(qdmaerr.KindConfigInvalid, fmt.Sprintf("bytes_per_buffer %d exceeds %d", cfg.BytesPerBuffer, maxLen))
	}
	if cfg.BytesPerBuffer > 0 {
		if c.addrAlignment > 0 && cfg.BytesPerBuffer%c.addrAlignment != 0 {
			return c.fail(qdmaerr.KindConfigInvalid, fmt.Sprintf("bytes_per_buffer %d not a multiple of addr_alignment %d", cfg.BytesPerBuffer, c.addrAlignment))
		}
		need := cfg.HostBufferStartOffset + uint64(cfg.NumDescriptors)*uint64(cfg.BytesPerBuffer)
		if need > uint64(len(cfg.HostMapping.HostMem)) {
			return c.fail(qdmaerr.KindConfigInvalid, fmt.Sprintf("host mapping too small: need %d, have %d", need, len(cfg.HostMapping.HostMem)))
		}
		if cfg.Endpoint == EndpointMemory {
			cardNeed := cfg.CardBufferStartOffset + uint64(cfg.NumDescriptors)*uint64(cfg.BytesPerBuffer)
			if cardNeed > cfg.CardMemorySize {
				return c.fail(qdmaerr.KindConfigInvalid, fmt.Sprintf("card memory too small: need %d, have %d", cardNeed, cfg.CardMemorySize))
			}
		}
	}
	if continuous && (cfg.BytesPerBuffer == 0 || cfg.Endpoint != EndpointStream || cfg.Direction != DirectionC2H) {
		return c.fail(qdmaerr.KindConfigInvalid, "continuous C2H stream mode requires bytes_per_buffer > 0, stream endpoint, and C2H direction")
	}
	return nil
}

// Finalise performs the three steps of spec §4.4's finalise: clear RUN,
// bounded-wait for BUSY to drop, then mark the context stopped. A
// finalise-deadline breach is recorded as a secondary signal and never
// flips overallSuccess to false.
func (c *Context) Finalise() {
	if c.state == stateStopped {
		return
	}
	c.win.bar.Write32(c.win.channelBase+offChannelControlW1C, ctrlRun)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		status := c.win.bar.Read32(c.win.channelBase + offChannelStatus)
		if status&statusBusy == 0 {
			c.state = stateStopped
			return
		}
		time.Sleep(time.Millisecond)
	}
	status := c.win.bar.Read32(c.win.channelBase + offChannelStatus)
	if status&statusBusy != 0 {
		timeoutMsg := fmt.Sprintf("timeout_awaiting_idle_at_finalisation: channel %d still busy after 1s", c.cfg.ChannelID)
		if c.message != "" {
			c.message += "; " + timeoutMsg
		} else {
			c.message = timeoutMsg
		}
	}
	c.state = stateStopped
}

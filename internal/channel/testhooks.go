//go:build unit

package channel

import (
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/regio"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/ring"
)

// Ring exposes the underlying descriptor ring for white-box testing from
// sibling packages under the unit build tag. Never compiled into a
// production build.
func (c *Context) Ring() *ring.Ring {
	return c.ring
}

// NewFakeBARForTest builds an in-memory register window with correctly
// populated identity and alignment registers for one channel, so sibling
// packages (internal/stream) can drive a real Initialise without hardware.
func NewFakeBARForTest(direction Direction, channelID uint32, stream bool, addrAlignment uint32) *regio.Window {
	return newFakeBAR(direction, channelID, stream, addrAlignment)
}

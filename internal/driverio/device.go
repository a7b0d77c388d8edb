package driverio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/qdmaerr"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/regio"
)

// Device is one VFIO-bound PCIe endpoint fd, obtained from
// Container.OpenDevice.
type Device struct {
	fd         int
	pciAddress string
}

// Close releases the device fd.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}

// String returns a device-identity string for diagnostics, per spec §6's
// "(d) a device-identity string".
func (d *Device) String() string {
	return d.pciAddress
}

// MapBAR queries region info for BAR index and mmaps it, returning it as a
// regio.Window ready for internal/channel's initialise step.
func (d *Device) MapBAR(index int) (*regio.Window, error) {
	var info regionInfo
	info.ArgSz = uint32(unsafe.Sizeof(info))
	info.Index = uint32(index)
	if err := doIoctl(d.fd, vfioDeviceGetRegionInfo, unsafe.Pointer(&info), fmt.Sprintf("VFIO_DEVICE_GET_REGION_INFO(%d)", index)); err != nil {
		return nil, err
	}
	if info.Flags&regionInfoFlagMmap == 0 {
		return nil, qdmaerr.Newf(qdmaerr.KindInitRegisterMismatch, "BAR %d is not mmap-capable", index)
	}

	mem, err := unix.Mmap(d.fd, int64(info.Offset), int(info.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, qdmaerr.Wrap(qdmaerr.KindInitBarTooSmall, fmt.Sprintf("mmap BAR %d", index), err)
	}
	return regio.NewWindow(mem), nil
}

// Reset issues VFIO_DEVICE_RESET, the secondary-bus-reset equivalent for a
// VFIO-bound function.
func (d *Device) Reset() error {
	return doIoctl(d.fd, vfioDeviceReset, nil, "VFIO_DEVICE_RESET")
}

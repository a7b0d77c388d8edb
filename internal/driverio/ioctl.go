// Package driverio is the concrete implementation of spec §6's PCI-device
// access external collaborator: VFIO (IOMMU-group–based user-space
// pass-through) group/container opening, BAR mapping, and the IOMMU-backed
// host-buffer allocator. internal/channel and internal/ring never import
// this package directly — they only depend on the regio.Window and
// dmaarena.Mapping values it produces.
package driverio

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/qdmaerr"
)

// IOCTL direction flags for the _IOC encoding, reused verbatim from the
// driver-ioctl idiom: every Linux ioctl number is built the same way
// regardless of the driver family behind it.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

const (
	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, iocType, nr, size int) uint32 {
	return uint32((dir << iocDirShift) | (iocType << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift))
}

func ioW(iocType, nr, size int) uint32  { return ioc(iocWrite, iocType, nr, size) }
func ioR(iocType, nr, size int) uint32  { return ioc(iocRead, iocType, nr, size) }
func ioWR(iocType, nr, size int) uint32 { return ioc(iocRead|iocWrite, iocType, nr, size) }
func io(iocType, nr int) uint32         { return ioc(iocNone, iocType, nr, 0) }

// VFIO_TYPE and VFIO_BASE per <linux/vfio.h>: the ioctl type character is
// ';' and every VFIO ioctl number is VFIO_BASE + a small index.
const (
	vfioType = int(';')
	vfioBase = 100
)

var (
	vfioGetAPIVersion       = io(vfioType, vfioBase+0)
	vfioCheckExtension      = io(vfioType, vfioBase+1)
	vfioSetIOMMU            = io(vfioType, vfioBase+2)
	vfioGroupGetStatus      = ioR(vfioType, vfioBase+3, int(unsafe.Sizeof(groupStatus{})))
	vfioGroupSetContainer   = ioW(vfioType, vfioBase+4, int(unsafe.Sizeof(int32(0))))
	vfioGroupUnsetContainer = io(vfioType, vfioBase+5)
	vfioGroupGetDeviceFD    = io(vfioType, vfioBase+6)
	vfioDeviceGetInfo       = ioR(vfioType, vfioBase+7, int(unsafe.Sizeof(deviceInfo{})))
	vfioDeviceGetRegionInfo = ioWR(vfioType, vfioBase+8, int(unsafe.Sizeof(regionInfo{})))
	vfioDeviceReset         = io(vfioType, vfioBase+11)
	vfioIOMMUGetInfo        = ioR(vfioType, vfioBase+12, int(unsafe.Sizeof(iommuInfo{})))
	vfioIOMMUMapDMA         = ioW(vfioType, vfioBase+13, int(unsafe.Sizeof(iommuDMAMap{})))
	vfioIOMMUUnmapDMA       = ioWR(vfioType, vfioBase+14, int(unsafe.Sizeof(iommuDMAUnmap{})))
)

// doIoctl performs a raw ioctl(2) syscall, wrapping any errno in the
// shared driver error taxonomy.
func doIoctl(fd int, cmd uint32, arg unsafe.Pointer, context string) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(cmd), uintptr(arg))
	if errno != 0 {
		return qdmaerr.FromErrno(errno, context)
	}
	return nil
}

package driverio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/dmaarena"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/qdmaerr"
)

// Container owns one VFIO container fd and one joined IOMMU group fd.
// spec §6 describes its contract as "a handle providing ... an
// IOMMU-backed allocator"; Container.Allocate is that allocator.
type Container struct {
	containerFd int
	groupFd     int
	groupID     int
}

// OpenGroup opens /dev/vfio/vfio, joins the given IOMMU group, checks it is
// viable, and sets the container's IOMMU model to Type1.
func OpenGroup(groupID int) (*Container, error) {
	containerFd, err := unix.Open("/dev/vfio/vfio", unix.O_RDWR, 0)
	if err != nil {
		return nil, qdmaerr.Wrap(qdmaerr.KindUnknown, "opening /dev/vfio/vfio", err)
	}

	groupPath := fmt.Sprintf("/dev/vfio/%d", groupID)
	groupFd, err := unix.Open(groupPath, unix.O_RDWR, 0)
	if err != nil {
		unix.Close(containerFd)
		return nil, qdmaerr.Wrap(qdmaerr.KindUnknown, "opening "+groupPath, err)
	}

	var status groupStatus
	status.ArgSz = uint32(unsafe.Sizeof(status))
	if err := doIoctl(groupFd, vfioGroupGetStatus, unsafe.Pointer(&status), "VFIO_GROUP_GET_STATUS"); err != nil {
		unix.Close(groupFd)
		unix.Close(containerFd)
		return nil, err
	}
	if status.Flags&groupFlagsViable == 0 {
		unix.Close(groupFd)
		unix.Close(containerFd)
		return nil, qdmaerr.New(qdmaerr.KindInitRegisterMismatch, fmt.Sprintf("iommu group %d is not viable (not all devices bound to vfio-pci)", groupID))
	}

	cfd := int32(containerFd)
	if err := doIoctl(groupFd, vfioGroupSetContainer, unsafe.Pointer(&cfd), "VFIO_GROUP_SET_CONTAINER"); err != nil {
		unix.Close(groupFd)
		unix.Close(containerFd)
		return nil, err
	}
	if err := doIoctl(containerFd, vfioSetIOMMU, unsafe.Pointer(uintptr(VFIOType1IOMMU)), "VFIO_SET_IOMMU"); err != nil {
		unix.Close(groupFd)
		unix.Close(containerFd)
		return nil, err
	}

	return &Container{containerFd: containerFd, groupFd: groupFd, groupID: groupID}, nil
}

// Close releases the group and container file descriptors.
func (c *Container) Close() error {
	unix.Close(c.groupFd)
	return unix.Close(c.containerFd)
}

// OpenDevice resolves pciAddress (a BDF string like "0000:01:00.0") within
// the joined group to a device fd via VFIO_GROUP_GET_DEVICE_FD.
func (c *Container) OpenDevice(pciAddress string) (*Device, error) {
	nameBytes, err := unix.BytePtrFromString(pciAddress)
	if err != nil {
		return nil, qdmaerr.Wrap(qdmaerr.KindConfigInvalid, "encoding PCI address", err)
	}
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.groupFd), uintptr(vfioGroupGetDeviceFD), uintptr(unsafe.Pointer(nameBytes)))
	if errno != 0 {
		return nil, qdmaerr.FromErrno(errno, "VFIO_GROUP_GET_DEVICE_FD for "+pciAddress)
	}
	return &Device{fd: int(ret), pciAddress: pciAddress}, nil
}

// Allocate implements spec §6's IOMMU-backed allocator: given a byte size,
// an access direction, and a backing kind, it returns a host/IOVA-paired
// mapping suitable for internal/dmaarena to sub-divide. Generalizes the
// teacher's single mmap-plus-VdmaBufferMap pairing
// (pkg/stream/buffer.go's AllocateBuffer) to three backing kinds.
func (c *Container) Allocate(size uint64, dir AccessDirection, backing BackingKind) (dmaarena.Mapping, error) {
	prot := 0
	if dir&AccessRead != 0 {
		prot |= unix.PROT_READ
	}
	if dir&AccessWrite != 0 {
		prot |= unix.PROT_WRITE
	}

	var mem []byte
	var err error
	switch backing {
	case BackingHeap:
		mem, err = unix.Mmap(-1, 0, int(size), prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	case BackingHugePages:
		mem, err = unix.Mmap(-1, 0, int(size), prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
	case BackingSharedMemory:
		fd, ferr := unix.MemfdCreate("qdmactl-dma", 0)
		if ferr != nil {
			return dmaarena.Mapping{}, qdmaerr.Wrap(qdmaerr.KindArenaOutOfSpace, "memfd_create", ferr)
		}
		defer unix.Close(fd)
		if ferr := unix.Ftruncate(fd, int64(size)); ferr != nil {
			return dmaarena.Mapping{}, qdmaerr.Wrap(qdmaerr.KindArenaOutOfSpace, "ftruncate shared mapping", ferr)
		}
		mem, err = unix.Mmap(fd, 0, int(size), prot, unix.MAP_SHARED)
	default:
		return dmaarena.Mapping{}, qdmaerr.Newf(qdmaerr.KindConfigInvalid, "unknown backing kind %d", backing)
	}
	if err != nil {
		return dmaarena.Mapping{}, qdmaerr.Wrap(qdmaerr.KindArenaOutOfSpace, "mmap", err)
	}

	dmaMap := iommuDMAMap{
		ArgSz: uint32(unsafe.Sizeof(iommuDMAMap{})),
		Vaddr: uint64(uintptr(unsafe.Pointer(&mem[0]))),
		Iova:  uint64(uintptr(unsafe.Pointer(&mem[0]))),
		Size:  size,
	}
	if dir&AccessRead != 0 {
		dmaMap.Flags |= dmaMapFlagRead
	}
	if dir&AccessWrite != 0 {
		dmaMap.Flags |= dmaMapFlagWrite
	}
	if err := doIoctl(c.containerFd, vfioIOMMUMapDMA, unsafe.Pointer(&dmaMap), "VFIO_IOMMU_MAP_DMA"); err != nil {
		unix.Munmap(mem)
		return dmaarena.Mapping{}, err
	}

	return dmaarena.Mapping{HostMem: mem, IOVABase: dmaMap.Iova}, nil
}

// Unmap reverses Allocate: unmaps the IOVA, then munmaps the host view.
func (c *Container) Unmap(m dmaarena.Mapping) error {
	unmap := iommuDMAUnmap{
		ArgSz: uint32(unsafe.Sizeof(iommuDMAUnmap{})),
		Iova:  m.IOVABase,
		Size:  uint64(len(m.HostMem)),
	}
	if err := doIoctl(c.containerFd, vfioIOMMUUnmapDMA, unsafe.Pointer(&unmap), "VFIO_IOMMU_UNMAP_DMA"); err != nil {
		return err
	}
	return unix.Munmap(m.HostMem)
}

package driverio

import (
	"os"
	"path/filepath"
	"strconv"
)

// GroupInfo identifies one VFIO-bound IOMMU group and the PCI functions it
// contains.
type GroupInfo struct {
	GroupID      int
	PCIAddresses []string
}

// sysfsIOMMUGroupsPath and devVFIOPath are package vars, not constants, so
// tests can point ScanGroups at a scratch directory instead of the real
// host's sysfs/devfs trees.
var (
	sysfsIOMMUGroupsPath = "/sys/kernel/iommu_groups"
	devVFIOPath          = "/dev/vfio"
)

// ScanGroups enumerates /sys/kernel/iommu_groups/*/devices/* the way
// pkg/device/scanner.go's DeviceScanner.Scan walks /sys/class/hailo_chardev,
// falling back to directly probing /dev/vfio/0.."15 the way the teacher
// falls back to probing /dev/hailo0..15 when the sysfs path yields nothing.
func ScanGroups() ([]GroupInfo, error) {
	var groups []GroupInfo
	entries, err := os.ReadDir(sysfsIOMMUGroupsPath)
	if err == nil {
		for _, entry := range entries {
			groupID, convErr := strconv.Atoi(entry.Name())
			if convErr != nil {
				continue
			}
			if _, statErr := os.Stat(filepath.Join(devVFIOPath, strconv.Itoa(groupID))); statErr != nil {
				continue
			}
			devicesDir := filepath.Join(sysfsIOMMUGroupsPath, entry.Name(), "devices")
			deviceEntries, dirErr := os.ReadDir(devicesDir)
			if dirErr != nil {
				continue
			}
			info := GroupInfo{GroupID: groupID}
			for _, d := range deviceEntries {
				info.PCIAddresses = append(info.PCIAddresses, d.Name())
			}
			groups = append(groups, info)
		}
	}

	if len(groups) == 0 {
		for i := 0; i < 16; i++ {
			if _, statErr := os.Stat(filepath.Join(devVFIOPath, strconv.Itoa(i))); statErr == nil {
				groups = append(groups, GroupInfo{GroupID: i})
			}
		}
	}

	return groups, nil
}

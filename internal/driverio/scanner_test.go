//go:build unit

package driverio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIoctlNumberEncoding(t *testing.T) {
	// VFIO_GET_API_VERSION is a pure _IO(';', 100) with no argument.
	if vfioGetAPIVersion != io(vfioType, vfioBase) {
		t.Fatalf("vfioGetAPIVersion = %#x, want %#x", vfioGetAPIVersion, io(vfioType, vfioBase))
	}

	// Direction bits must land above size bits, which must land above type
	// bits, which must land above the number itself.
	r := ioR(vfioType, vfioBase+3, 8)
	w := ioW(vfioType, vfioBase+4, 4)
	rw := ioWR(vfioType, vfioBase+8, 24)

	if r == w || r == rw || w == rw {
		t.Fatalf("distinct direction/size/nr combinations collided: r=%#x w=%#x rw=%#x", r, w, rw)
	}
	if (r >> iocDirShift) != iocRead {
		t.Errorf("ioR direction bits = %#x, want %#x", r>>iocDirShift, iocRead)
	}
	if (w >> iocDirShift) != iocWrite {
		t.Errorf("ioW direction bits = %#x, want %#x", w>>iocDirShift, iocWrite)
	}
	if (rw >> iocDirShift) != (iocRead | iocWrite) {
		t.Errorf("ioWR direction bits = %#x, want %#x", rw>>iocDirShift, iocRead|iocWrite)
	}
}

func TestScanGroupsReadsSysfsAndFiltersToLiveNodes(t *testing.T) {
	root := t.TempDir()
	sysfsRoot := filepath.Join(root, "iommu_groups")
	devRoot := filepath.Join(root, "vfio")
	if err := os.MkdirAll(filepath.Join(sysfsRoot, "0", "devices"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(sysfsRoot, "1", "devices"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(devRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	// Group 0 has a live /dev/vfio/0 node and one PCI function; group 1 has
	// no device node and must be skipped.
	if err := os.WriteFile(filepath.Join(devRoot, "0"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sysfsRoot, "0", "devices", "0000:01:00.0"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	savedSysfs, savedDev := sysfsIOMMUGroupsPath, devVFIOPath
	sysfsIOMMUGroupsPath, devVFIOPath = sysfsRoot, devRoot
	defer func() { sysfsIOMMUGroupsPath, devVFIOPath = savedSysfs, savedDev }()

	groups, err := ScanGroups()
	if err != nil {
		t.Fatalf("ScanGroups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1: %+v", len(groups), groups)
	}
	if groups[0].GroupID != 0 {
		t.Errorf("GroupID = %d, want 0", groups[0].GroupID)
	}
	if len(groups[0].PCIAddresses) != 1 || groups[0].PCIAddresses[0] != "0000:01:00.0" {
		t.Errorf("PCIAddresses = %v, want [0000:01:00.0]", groups[0].PCIAddresses)
	}
}

func TestScanGroupsFallsBackToProbingDevVFIOWhenSysfsEmpty(t *testing.T) {
	root := t.TempDir()
	sysfsRoot := filepath.Join(root, "iommu_groups")
	devRoot := filepath.Join(root, "vfio")
	if err := os.MkdirAll(sysfsRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(devRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(devRoot, "3"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	savedSysfs, savedDev := sysfsIOMMUGroupsPath, devVFIOPath
	sysfsIOMMUGroupsPath, devVFIOPath = sysfsRoot, devRoot
	defer func() { sysfsIOMMUGroupsPath, devVFIOPath = savedSysfs, savedDev }()

	groups, err := ScanGroups()
	if err != nil {
		t.Fatalf("ScanGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].GroupID != 3 {
		t.Fatalf("got %+v, want one group with GroupID 3", groups)
	}
}

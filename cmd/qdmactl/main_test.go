//go:build unit

package main

import (
	"testing"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/driverio"
)

func TestBackingKindMapsKnownNames(t *testing.T) {
	cases := map[string]driverio.BackingKind{
		"shared_memory": driverio.BackingSharedMemory,
		"huge_pages":    driverio.BackingHugePages,
		"heap":          driverio.BackingHeap,
		"":              driverio.BackingHeap,
		"unknown":       driverio.BackingHeap,
	}
	for name, want := range cases {
		if got := backingKind(name); got != want {
			t.Errorf("backingKind(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestPercentileIndexesSortedSlice(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}
	if got := percentile(sorted, 0); got != 10 {
		t.Errorf("p0 = %v, want 10", got)
	}
	if got := percentile(sorted, 1); got != 50 {
		t.Errorf("p100 = %v, want 50", got)
	}
	if got := percentile(sorted, 0.5); got != 30 {
		t.Errorf("p50 = %v, want 30", got)
	}
}

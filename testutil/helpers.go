// Package testutil collects test helpers shared across this repository's
// packages: a hardware-presence skip for integration tests, temp-file
// scaffolding, and generic assertion helpers. No mocking framework appears
// anywhere in the retrieved example pack, so this stays hand-rolled.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SkipIfNoDevice skips an integration test when no VFIO container device is
// present, the precondition every internal/driverio integration test needs
// before it can open a real IOMMU group.
func SkipIfNoDevice(t *testing.T) string {
	t.Helper()

	const vfioContainer = "/dev/vfio/vfio"
	if _, err := os.Stat(vfioContainer); err != nil {
		t.Skip("no /dev/vfio/vfio present, skipping integration test")
	}
	return vfioContainer
}

// TempDir creates a temporary directory for test artifacts.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// TempFile creates a temporary file with given content.
func TempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, content, 0644)
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

// MakeRandomBytes creates deterministic, non-random filler bytes for tests
// that need payload content but not cryptographic randomness.
func MakeRandomBytes(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*17 + 11) % 256)
	}
	return data
}

// AssertNoError fails if error is not nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// AssertError fails if error is nil.
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected error, got nil", msg)
	}
}

// AssertBytesEqual compares byte slices.
func AssertBytesEqual(t *testing.T, got, want []byte, msg string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s: length mismatch: got %d, want %d", msg, len(got), len(want))
		return
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("%s: mismatch at index %d: got %d, want %d", msg, i, got[i], want[i])
			return
		}
	}
}

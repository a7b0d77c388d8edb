package regio

import "unsafe"

// atomicPointer returns a pointer to a width-byte-aligned word inside mem at
// the given offset, suitable for passing to sync/atomic. Callers never hold
// this pointer across a reslice of mem.
func atomicPointer(mem []byte, offset uint32, width int) unsafe.Pointer {
	if int(offset)+width > len(mem) {
		panic("regio: offset out of range")
	}
	return unsafe.Pointer(&mem[offset])
}

//go:build unix

package prim

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unixPrim backs the Prim contract with mmap/munmap/mprotect/madvise, the
// same primitives original_source/src/prim/unix/prim.c layers its
// portability shims over.
type unixPrim struct{}

func newDefault() Prim { return unixPrim{} }

func (unixPrim) AllocAligned(size, align uintptr, commit, allowLarge bool) (unsafe.Pointer, MemID, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_PRIVATE | unix.MAP_ANON

	if allowLarge {
		if ptr, ok := tryHugeMmap(size, align, prot, flags); ok {
			return ptr, MemID{IsLarge: true, IsPinned: true}, nil
		}
	}

	// mmap doesn't take an arbitrary alignment on Linux, so over-allocate
	// by `align` and trim the slack on either side, exactly as spec.md §9
	// ("Segment recovery by address masking") prescribes for platforms
	// without a native aligned-allocation primitive.
	raw, err := unix.Mmap(-1, 0, int(size+align), prot, flags)
	if err != nil {
		return nil, MemID{}, fmt.Errorf("prim: mmap %d bytes: %w", size, err)
	}
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + align - 1) &^ (align - 1)
	if lead := aligned - base; lead > 0 {
		_ = unix.Munmap(raw[:lead])
	}
	trimStart := aligned - base + size
	if trimStart < uintptr(len(raw)) {
		_ = unix.Munmap(raw[trimStart:])
	}
	ptr := unsafe.Pointer(aligned)
	if !commit {
		unix.Madvise(unsafe.Slice((*byte)(ptr), int(size)), unix.MADV_DONTNEED)
	}
	return ptr, MemID{}, nil
}

// tryHugeMmap attempts a huge-page-backed anonymous mapping. Failure is
// routine (no huge pages configured, insufficient privilege) and simply
// falls back to the regular path.
func tryHugeMmap(size, align uintptr, prot, flags int) (unsafe.Pointer, bool) {
	raw, err := unix.Mmap(-1, 0, int(size), prot, flags|unix.MAP_HUGETLB)
	if err != nil {
		return nil, false
	}
	base := uintptr(unsafe.Pointer(&raw[0]))
	if base&(align-1) != 0 {
		_ = unix.Munmap(raw)
		return nil, false
	}
	return unsafe.Pointer(base), true
}

func (unixPrim) Free(ptr unsafe.Pointer, size uintptr, _ MemID) error {
	return unix.Munmap(unsafe.Slice((*byte)(ptr), int(size)))
}

func (unixPrim) Commit(ptr unsafe.Pointer, size uintptr) (ok, wasZero bool) {
	err := unix.Mprotect(unsafe.Slice((*byte)(ptr), int(size)), unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return false, false
	}
	return true, true
}

func (unixPrim) Decommit(ptr unsafe.Pointer, size uintptr) (needsRecommit bool) {
	buf := unsafe.Slice((*byte)(ptr), int(size))
	_ = unix.Madvise(buf, unix.MADV_DONTNEED)
	_ = unix.Mprotect(buf, unix.PROT_NONE)
	return true
}

func (unixPrim) Purge(ptr unsafe.Pointer, size uintptr) (needsRecommit bool) {
	buf := unsafe.Slice((*byte)(ptr), int(size))
	if err := unix.Madvise(buf, unix.MADV_FREE); err != nil {
		_ = unix.Madvise(buf, unix.MADV_DONTNEED)
	}
	return false
}

func (unixPrim) Protect(ptr unsafe.Pointer, size uintptr, noAccess bool) error {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if noAccess {
		prot = unix.PROT_NONE
	}
	return unix.Mprotect(unsafe.Slice((*byte)(ptr), int(size)), prot)
}

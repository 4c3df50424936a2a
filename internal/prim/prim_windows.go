//go:build windows

package prim

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsPrim backs the Prim contract with VirtualAlloc/VirtualFree/
// VirtualProtect, the same family of calls the teacher reaches for
// kernel32 syscalls through in flock/mutex_windows.go.
type windowsPrim struct{}

func newDefault() Prim { return windowsPrim{} }

func (windowsPrim) AllocAligned(size, align uintptr, commit, allowLarge bool) (unsafe.Pointer, MemID, error) {
	allocType := uint32(windows.MEM_RESERVE)
	if commit {
		allocType |= windows.MEM_COMMIT
	}
	if allowLarge {
		if ptr, err := windows.VirtualAlloc(0, size, allocType|windows.MEM_LARGE_PAGES, windows.PAGE_READWRITE); err == nil {
			if uintptr(ptr)&(align-1) == 0 {
				return unsafe.Pointer(ptr), MemID{IsLarge: true, IsPinned: true}, nil
			}
			_ = windows.VirtualFree(ptr, 0, windows.MEM_RELEASE)
		}
	}

	// VirtualAlloc has no alignment parameter; over-allocate and trim the
	// way spec.md §9 prescribes, but unlike mmap, VirtualFree must later
	// be called with the exact original base, so that base is retained
	// in MemID rather than released immediately.
	base, err := windows.VirtualAlloc(0, size+align, allocType, windows.PAGE_READWRITE)
	if err != nil {
		return nil, MemID{}, fmt.Errorf("prim: VirtualAlloc %d bytes: %w", size, err)
	}
	aligned := (uintptr(base) + align - 1) &^ (align - 1)
	return unsafe.Pointer(aligned), MemID{base: unsafe.Pointer(base)}, nil
}

func (windowsPrim) Free(ptr unsafe.Pointer, size uintptr, memid MemID) error {
	base := ptr
	if memid.base != nil {
		base = memid.base
	}
	return windows.VirtualFree(uintptr(base), 0, windows.MEM_RELEASE)
}

func (windowsPrim) Commit(ptr unsafe.Pointer, size uintptr) (ok, wasZero bool) {
	_, err := windows.VirtualAlloc(uintptr(ptr), size, windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return false, false
	}
	return true, true
}

func (windowsPrim) Decommit(ptr unsafe.Pointer, size uintptr) (needsRecommit bool) {
	_ = windows.VirtualFree(uintptr(ptr), size, windows.MEM_DECOMMIT)
	return true
}

func (windowsPrim) Purge(ptr unsafe.Pointer, size uintptr) (needsRecommit bool) {
	// Windows has no cheaper advisory reset than decommit; MEM_RESET
	// marks pages as discardable without releasing the mapping, which
	// still requires a recommit before their next touch.
	_ = windows.VirtualAlloc(uintptr(ptr), size, windows.MEM_RESET, windows.PAGE_READWRITE)
	return true
}

func (windowsPrim) Protect(ptr unsafe.Pointer, size uintptr, noAccess bool) error {
	prot := uint32(windows.PAGE_READWRITE)
	if noAccess {
		prot = windows.PAGE_NOACCESS
	}
	var old uint32
	return windows.VirtualProtect(uintptr(ptr), size, prot, &old)
}

// Package prim is the allocator's only point of contact with the
// operating system: reserving address space, committing/decommitting
// physical pages, and advising the kernel that a range is unused.
//
// spec.md §1 lists these as platform primitives "whose contracts are
// only referenced" by the core engine; this package is that contract
// (the Prim interface) plus one concrete implementation per GOOS, kept
// narrow and swappable the way the teacher isolates its cross-process
// file lock behind flock.RWMutex with one file per platform.
package prim

import "unsafe"

// MemID records how a raw OS region was obtained, enough for Free,
// Commit and Decommit to behave correctly without re-deriving it:
// large/huge-page-backed regions are always committed and can never be
// decommitted in place.
type MemID struct {
	IsLarge  bool           // backed by large/huge OS pages
	IsPinned bool           // backing is fixed; Decommit/Purge are no-ops
	base     unsafe.Pointer // true allocation base, when it differs from ptr
}

// Prim is the platform primitive contract of spec.md §6.1.
type Prim interface {
	// AllocAligned reserves size bytes aligned to align, optionally
	// committing it immediately and optionally requesting large/huge
	// page backing. allowLarge is a request, not a guarantee; callers
	// must consult the returned MemID.
	AllocAligned(size, align uintptr, commit, allowLarge bool) (ptr unsafe.Pointer, memid MemID, err error)

	// Free releases a region obtained from AllocAligned in full.
	Free(ptr unsafe.Pointer, size uintptr, memid MemID) error

	// Commit makes [ptr, ptr+size) readable/writable. wasZero reports
	// whether the platform guarantees the range reads as zero.
	Commit(ptr unsafe.Pointer, size uintptr) (ok, wasZero bool)

	// Decommit releases the physical backing of a committed range.
	// needsRecommit reports whether a future Commit is required before
	// the range can be touched again.
	Decommit(ptr unsafe.Pointer, size uintptr) (needsRecommit bool)

	// Purge advises the kernel the range is unused without necessarily
	// releasing physical pages synchronously; softer than Decommit.
	Purge(ptr unsafe.Pointer, size uintptr) (needsRecommit bool)

	// Protect toggles a range between read-write and no-access.
	Protect(ptr unsafe.Pointer, size uintptr, noAccess bool) error
}

// Default is the process-wide Prim selected for the running GOOS.
var Default Prim = newDefault()

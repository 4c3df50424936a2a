//go:build !unix && !windows

package prim

import (
	"sync"
	"unsafe"
)

// otherPrim is a pure-Go fallback for GOOS values without a syscall
// binding above. It never reports large-page support and backs
// commit/decommit with ordinary heap memory, so cross-compiled builds
// and `go vet` still have a Prim to link against. Backing slices are
// pinned in pinned until Free, since the returned pointer is an
// interior pointer the garbage collector wouldn't otherwise keep live.
type otherPrim struct{}

var pinned sync.Map // uintptr(aligned ptr) -> []byte

func newDefault() Prim { return otherPrim{} }

func (otherPrim) AllocAligned(size, align uintptr, commit, allowLarge bool) (unsafe.Pointer, MemID, error) {
	buf := make([]byte, size+align)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + align - 1) &^ (align - 1)
	pinned.Store(aligned, buf)
	return unsafe.Pointer(aligned), MemID{}, nil
}

func (otherPrim) Free(ptr unsafe.Pointer, size uintptr, memid MemID) error {
	pinned.Delete(uintptr(ptr))
	return nil
}

func (otherPrim) Commit(ptr unsafe.Pointer, size uintptr) (ok, wasZero bool) {
	return true, true
}

func (otherPrim) Decommit(ptr unsafe.Pointer, size uintptr) (needsRecommit bool) {
	return true
}

func (otherPrim) Purge(ptr unsafe.Pointer, size uintptr) (needsRecommit bool) {
	return false
}

func (otherPrim) Protect(ptr unsafe.Pointer, size uintptr, noAccess bool) error {
	return nil
}

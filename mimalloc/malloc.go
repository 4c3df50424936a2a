package mimalloc

import (
	"sync"
	"unsafe"

	"github.com/the-die/mimalloc/internal/segment"
)

// Malloc, Calloc, Realloc, Free, AlignedAlloc, PosixMemalign,
// MallocUsableSize, Strdup, Strndup and Reallocarray are the public
// allocator surface of spec.md §6.2, operating on the process-wide
// default heap via a mutex-guarded shared Heap (see heap.go). They
// exist so a Go program can use this allocator the way a C program
// uses mimalloc's own top-level convenience functions, without first
// creating an explicit Heap.

// Malloc allocates size bytes, or returns nil on failure.
func Malloc(size int) unsafe.Pointer {
	defaultHeapMu.Lock()
	defer defaultHeapMu.Unlock()
	return sharedDefaultHeap().Malloc(size)
}

// Calloc allocates count*size bytes, zeroed, or returns nil on failure
// or on a count*size overflow.
func Calloc(count, size int) unsafe.Pointer {
	if count < 0 || size < 0 {
		return nil
	}
	total := count * size
	if size != 0 && total/size != count {
		reportError(ErrorMisaligned, ErrMisaligned)
		return nil
	}
	ptr := Malloc(total)
	if ptr == nil {
		return nil
	}
	zero(ptr, int64(total))
	return ptr
}

// Realloc resizes the allocation at ptr to newSize bytes, preserving
// the lesser of the old and new sizes' worth of content. ptr==nil
// behaves like Malloc(newSize); newSize==0 behaves like Free(ptr)
// followed by returning nil.
func Realloc(ptr unsafe.Pointer, newSize int) unsafe.Pointer {
	if ptr == nil {
		return Malloc(newSize)
	}
	if newSize <= 0 {
		Free(ptr)
		return nil
	}
	oldSize := usableSize(ptr)
	if int64(newSize) <= oldSize {
		return ptr
	}
	next := Malloc(newSize)
	if next == nil {
		return nil
	}
	copyBytes(next, ptr, oldSize)
	Free(ptr)
	return next
}

// Reallocarray is Realloc with an explicit count*size overflow check,
// mirroring the BSD reallocarray extension spec.md §6.2 names.
func Reallocarray(ptr unsafe.Pointer, count, size int) unsafe.Pointer {
	if count < 0 || size < 0 {
		return nil
	}
	total := count * size
	if size != 0 && total/size != count {
		reportError(ErrorMisaligned, ErrMisaligned)
		return nil
	}
	return Realloc(ptr, total)
}

// Free returns ptr to the default heap. A nil ptr is a no-op.
func Free(ptr unsafe.Pointer) {
	defaultHeapMu.Lock()
	defer defaultHeapMu.Unlock()
	if aligned, ok := alignedOriginal(ptr); ok {
		sharedDefaultHeap().Free(aligned)
		return
	}
	sharedDefaultHeap().Free(ptr)
}

// alignedBlocks remembers, for every pointer handed back by
// AlignedAlloc/PosixMemalign, the real block address Free must pass to
// the heap: the aligned address returned to the caller is, in general,
// partway into a larger over-allocated block (see AlignedAlloc), so it
// is not itself a valid free-list entry.
var alignedBlocks sync.Map // aligned unsafe.Pointer -> original unsafe.Pointer

func alignedOriginal(ptr unsafe.Pointer) (unsafe.Pointer, bool) {
	v, ok := alignedBlocks.Load(ptr)
	if !ok {
		return nil, false
	}
	alignedBlocks.Delete(ptr)
	return v.(unsafe.Pointer), true
}

// AlignedAlloc allocates size bytes aligned to alignment, which must be
// a power of two. Implemented by over-allocating size+alignment-1 bytes
// from the normal size-class path and returning the first
// alignment-aligned address within it, since the page layer's own
// block addresses are only guaranteed aligned to their size class, not
// to an arbitrary caller-requested power of two.
func AlignedAlloc(size int, alignment int) unsafe.Pointer {
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		reportError(ErrorMisaligned, ErrMisaligned)
		return nil
	}
	if size <= 0 {
		size = 1
	}
	raw := Malloc(size + alignment - 1)
	if raw == nil {
		return nil
	}
	mask := uintptr(alignment - 1)
	aligned := unsafe.Pointer((uintptr(raw) + mask) &^ mask)
	if aligned == raw {
		return raw
	}
	alignedBlocks.Store(aligned, raw)
	return aligned
}

// PosixMemalign is AlignedAlloc's posix_memalign-shaped counterpart:
// writes the allocated pointer through memptr and returns an errno-like
// status (0 on success), rather than returning the pointer directly.
func PosixMemalign(memptr *unsafe.Pointer, alignment int, size int) int {
	ptr := AlignedAlloc(size, alignment)
	if ptr == nil {
		return 12 // ENOMEM
	}
	*memptr = ptr
	return 0
}

// MallocUsableSize reports the real capacity backing ptr, which may
// exceed what was originally requested (spec.md §6.2).
func MallocUsableSize(ptr unsafe.Pointer) int {
	return int(usableSize(ptr))
}

// Strdup allocates a copy of s, NUL-terminated like the C original,
// from the default heap.
func Strdup(s string) unsafe.Pointer {
	return strndupInto(s, len(s))
}

// Strndup allocates a copy of at most n bytes of s, NUL-terminated.
func Strndup(s string, n int) unsafe.Pointer {
	if n < len(s) {
		s = s[:n]
	}
	return strndupInto(s, n)
}

func strndupInto(s string, n int) unsafe.Pointer {
	ptr := Malloc(n + 1)
	if ptr == nil {
		return nil
	}
	dst := unsafe.Slice((*byte)(ptr), n+1)
	copy(dst, s)
	dst[len(s)] = 0
	return ptr
}

func usableSize(ptr unsafe.Pointer) int64 {
	if ptr == nil {
		return 0
	}
	seg, ok := segment.Of(ptr)
	if !ok {
		reportError(ErrorInvalidPointer, ErrInvalidPointer)
		return 0
	}
	return seg.PageAt(ptr).BlockSize()
}

func zero(ptr unsafe.Pointer, n int64) {
	dst := unsafe.Slice((*byte)(ptr), n)
	for i := range dst {
		dst[i] = 0
	}
}

func copyBytes(dst, src unsafe.Pointer, n int64) {
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}

package segment

import (
	"sync/atomic"
	"unsafe"
)

// Page is one size-class-homogeneous run of blocks within a Segment
// (spec.md §3.2 "Page"). Its owner-only half (free, local_free, used)
// is touched exclusively by the thread that currently owns the parent
// segment; its shared half (thread_free, thread_freed) may be written
// by any thread. Keeping the two halves as separate fields, rather than
// one combined free list, is what lets the fast path run without a
// single atomic instruction (spec.md §4.1).
type Page struct {
	segment *Segment
	index   int

	areaStart unsafe.Pointer
	areaSize  int64

	sizeClassIdx int // -1 until a size class is assigned on first use
	blockSize    int64
	capacity     int32

	// Owner-only: no atomics, see spec.md §5 "Page free, local_free,
	// used: owner only; no atomics."
	used      int32
	free      freelist
	localFree freelist

	// Shared: written by any thread, read/drained by the owner.
	threadFree  atomicFreelist
	threadFreed atomic.Int32

	// Heap queue links (owner-only): the size-class queue this page
	// currently sits in, spec.md §3.3.
	prev, next *Page
}

// LargeHugeClassIdx marks a page carved for a large/huge segment's sole
// block: "assigned" like any small/medium page, but not a real index
// into the Classes table, since large/huge pages are never requeued by
// size class (spec.md §3.1, "one page fills the segment").
const LargeHugeClassIdx = -2

// emptySentinel is the "empty page sentinel" of spec.md line 69: its
// free list is permanently empty, so AllocFast always reports failure
// and the fast path falls straight through to the generic routine. The
// zero value already satisfies this, since an unassigned Page has a nil
// free list.
var emptySentinel = &Page{sizeClassIdx: -1}

// EmptySentinel returns the shared empty-page sentinel every heap's
// pages_direct table is initialised to point at.
func EmptySentinel() *Page { return emptySentinel }

func (p *Page) init(seg *Segment, index int, areaStart unsafe.Pointer, areaSize int64) {
	p.segment = seg
	p.index = index
	p.areaStart = areaStart
	p.areaSize = areaSize
	p.sizeClassIdx = -1
}

// Assigned reports whether this page slot currently backs a size class.
// Fresh and released pages are unassigned until the generic routine
// carves them for a waiting size class (spec.md line 53, "pages are
// created on demand").
func (p *Page) Assigned() bool { return p.sizeClassIdx >= 0 }

// Assign carves this page for classIdx/blockSize, building its initial
// free list by threading every block in the page's area onto it.
func (p *Page) Assign(classIdx int, blockSize int64) {
	p.sizeClassIdx = classIdx
	p.blockSize = blockSize
	p.capacity = int32(p.areaSize / blockSize)
	p.used = 0
	p.free = freelist{}
	p.localFree = freelist{}
	for i := int32(p.capacity) - 1; i >= 0; i-- {
		p.free.push(p.blockAt(i))
	}
}

func (p *Page) blockAt(i int32) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p.areaStart) + uintptr(i)*uintptr(p.blockSize))
}

// Release returns an empty, unassigned page to its segment (spec.md
// line 53, "released to the segment when used==0"). thread_free must
// already be drained by the caller's Collect before this is safe.
func (p *Page) Release() {
	p.sizeClassIdx = -1
	p.blockSize = 0
	p.capacity = 0
	p.used = 0
	p.free = freelist{}
	p.localFree = freelist{}
	p.threadFreed.Store(0)
	p.prev, p.next = nil, nil
}

// AllocFast is the owner fast path of spec.md §4.1 steps 2-3: pop a
// block off free and bump used. It never touches local_free or
// thread_free and never takes a lock or atomic.
func (p *Page) AllocFast() (unsafe.Pointer, bool) {
	ptr := p.free.pop()
	if ptr == nil {
		return nil, false
	}
	p.used++
	return ptr, true
}

// FreeLocal is the owning thread's free path (spec.md §4.1 lines 73-75):
// push onto local_free rather than free, so the block doesn't
// immediately reappear on the fast path, and report whether the page
// has become empty and should be scheduled for collection.
func (p *Page) FreeLocal(ptr unsafe.Pointer) (needsCollect bool) {
	p.localFree.push(ptr)
	p.used--
	return p.NeedsCollect()
}

// FreeThreadSafe is the non-owning free path (spec.md §4.1 lines 77-80):
// CAS-push onto thread_free, then bump thread_freed. Safe from any
// thread, including the owner.
func (p *Page) FreeThreadSafe(ptr unsafe.Pointer) {
	p.threadFree.push(ptr)
	p.threadFreed.Add(1)
}

// NeedsCollect implements the racy emptiness probe of spec.md line 82:
// read without a barrier, misses are benign because the fast path falls
// through to the generic routine whenever free empties anyway.
func (p *Page) NeedsCollect() bool {
	return p.used-p.threadFreed.Load() == 0
}

// Collect folds local_free and thread_free back into free, the generic
// routine's Collect step (spec.md lines 90-92): local_free is spliced in
// front of free, thread_free is atomically swapped out and spliced in
// front of that, and the thread_freed count is subtracted from used.
func (p *Page) Collect() {
	p.free.appendList(p.localFree.takeAll())
	swapped := p.threadFree.swap()
	freed := p.threadFreed.Swap(0)
	p.free.appendList(swapped)
	p.used -= freed
}

// IsEmpty reports the quiescent form of the §3.2 invariant: used==0,
// checked only after Collect has folded in every pending free.
func (p *Page) IsEmpty() bool { return p.used == 0 }

// FreeListEmpty reports whether the fast path's free list is exhausted;
// the generic routine skips allocating from such a page. Exhausted
// pages stay in their size-class queue.
func (p *Page) FreeListEmpty() bool { return p.free.empty() }

func (p *Page) SizeClassIdx() int { return p.sizeClassIdx }
func (p *Page) BlockSize() int64  { return p.blockSize }
func (p *Page) Capacity() int32   { return p.capacity }
func (p *Page) Used() int32       { return p.used }
func (p *Page) Segment() *Segment { return p.segment }
func (p *Page) Index() int        { return p.index }

// Next/Prev/SetNext/SetPrev expose the owner-only queue links for the
// heap layer's size-class queues.
func (p *Page) Next() *Page     { return p.next }
func (p *Page) Prev() *Page     { return p.prev }
func (p *Page) SetNext(n *Page) { p.next = n }
func (p *Page) SetPrev(n *Page) { p.prev = n }

// checkConservation is the §8.1 universal invariant |free|+|local_free|+
// |thread_free|+used == capacity, exposed for tests via the package's
// internal test helpers.
func (p *Page) checkConservation() bool {
	total := listLen(p.free.head) + listLen(p.localFree.head) + listLen(p.threadFree.peek()) + int64(p.used)
	return total == int64(p.capacity)
}

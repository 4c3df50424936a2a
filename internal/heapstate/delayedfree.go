package heapstate

import (
	"sync/atomic"
	"unsafe"

	"github.com/the-die/mimalloc/internal/segment"
)

// delayedNode is a thread-delayed-free list entry. Unlike the page-level
// thread_free inbox (internal/segment's atomicFreelist, which threads
// its links through the freed block's own memory), entries here get
// their own small heap allocation: this list only exists for the
// batched-free case (spec.md §4.4, "operations that free many blocks at
// once"), not the per-block fast path, so the extra allocation is off
// the path this design is optimising.
type delayedNode struct {
	next *delayedNode
	ptr  unsafe.Pointer
}

// delayedFreeList is the per-heap thread-delayed-free list of spec.md
// §4.4: any thread may push, the owner drains it at generic-routine
// step 2.
type delayedFreeList struct {
	head atomic.Pointer[delayedNode]
}

func (d *delayedFreeList) push(ptr unsafe.Pointer) {
	n := &delayedNode{ptr: ptr}
	for {
		old := d.head.Load()
		n.next = old
		if d.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// drain atomically detaches the whole list and returns its pointers in
// push order reversed (LIFO), which is fine: spec.md promises no
// ordering across distinct frees.
func (d *delayedFreeList) drain() []unsafe.Pointer {
	old := d.head.Swap(nil)
	var out []unsafe.Pointer
	for n := old; n != nil; n = n.next {
		out = append(out, n.ptr)
	}
	return out
}

func (h *Heap) drainDelayedFree() {
	for _, ptr := range h.delayed.drain() {
		h.routeNonOwningFree(ptr)
	}
}

// routeNonOwningFree implements spec.md line 89: "route each block to
// its actual page via the non-owning free path", regardless of who
// actually owns the page now — the delayed-free list exists precisely
// because the original free couldn't synchronise with the owner.
func (h *Heap) routeNonOwningFree(ptr unsafe.Pointer) {
	if seg, ok := segment.Of(ptr); ok {
		seg.PageAt(ptr).FreeThreadSafe(ptr)
	}
}

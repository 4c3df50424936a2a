package segment

import (
	"sync/atomic"
	"unsafe"
)

// block is a free block's header, living in the block's own memory
// while it's free and opaque to the allocator once handed out (spec.md
// §3.2 "Block"). next is read/written through unsafe.Pointer rather
// than a typed *block so the same bytes can later be reinterpreted as
// user data.
type block struct {
	next unsafe.Pointer
}

func blockAt(ptr unsafe.Pointer) *block {
	return (*block)(ptr)
}

// freelist is a plain, non-atomic singly-linked LIFO, used for the
// owner-only `free` and `local_free` lists of spec.md §4.1. Callers
// must guarantee single-threaded access.
type freelist struct {
	head unsafe.Pointer
}

func (f *freelist) push(ptr unsafe.Pointer) {
	blockAt(ptr).next = f.head
	f.head = ptr
}

func (f *freelist) pop() unsafe.Pointer {
	if f.head == nil {
		return nil
	}
	ptr := f.head
	f.head = blockAt(ptr).next
	return ptr
}

func (f *freelist) empty() bool {
	return f.head == nil
}

// takeAll detaches the entire list, leaving f empty, and returns its
// former head. Used when folding local_free into free (spec.md §4.2).
func (f *freelist) takeAll() unsafe.Pointer {
	head := f.head
	f.head = nil
	return head
}

// appendList walks `other` to find its tail and splices it onto the
// head of f, preserving LIFO order of each sub-list (push-order within
// `other` is preserved relative to itself; the two lists are simply
// concatenated head-to-tail).
func (f *freelist) appendList(other unsafe.Pointer) {
	if other == nil {
		return
	}
	if f.head == nil {
		f.head = other
		return
	}
	tail := other
	for blockAt(tail).next != nil {
		tail = blockAt(tail).next
	}
	blockAt(tail).next = f.head
	f.head = other
}

// atomicFreelist is the cross-thread `thread_free` inbox of spec.md
// §3.2/§4.1: any thread may push; only the owner ever pops (by way of
// swap, in the generic routine).
type atomicFreelist struct {
	head atomic.Pointer[block]
}

// push CAS-loops a block onto the head, the non-owning free contract of
// spec.md §4.1 step 2.
func (f *atomicFreelist) push(ptr unsafe.Pointer) {
	b := blockAt(ptr)
	for {
		old := f.head.Load()
		b.next = unsafe.Pointer(old)
		if f.head.CompareAndSwap(old, b) {
			return
		}
	}
}

// swap atomically detaches the whole list and returns its former head,
// used by the generic routine's Collect step (spec.md §4.2).
func (f *atomicFreelist) swap() unsafe.Pointer {
	old := f.head.Swap(nil)
	return unsafe.Pointer(old)
}

// peek reads the current head without detaching it. Off the fast path
// only: diagnostics and the conservation-invariant test helper.
func (f *atomicFreelist) peek() unsafe.Pointer {
	return unsafe.Pointer(f.head.Load())
}

// listLen walks a raw block-list and counts its length. Only used off
// the fast path (generic routine accounting, tests).
func listLen(head unsafe.Pointer) int64 {
	var n int64
	for p := head; p != nil; p = blockAt(p).next {
		n++
	}
	return n
}

// Package heapstate implements the heap layer of spec.md §3.2/§4.2: the
// per-thread structure that drives the fast-path allocation contract,
// the per-size-class page queues, and the generic slow-path routine
// that keeps them supplied.
package heapstate

import (
	"fmt"
	"math/rand"
	"unsafe"

	"github.com/the-die/mimalloc/internal/arena"
	"github.com/the-die/mimalloc/internal/mlog"
	"github.com/the-die/mimalloc/internal/segment"
)

// pageQueue is the doubly-linked queue of pages for one size class. A
// page whose free list has emptied stays in its class queue; there is
// no separate full queue.
type pageQueue struct {
	first, last *segment.Page
}

func (q *pageQueue) pushFront(p *segment.Page) {
	p.SetPrev(nil)
	p.SetNext(q.first)
	if q.first != nil {
		q.first.SetPrev(p)
	}
	q.first = p
	if q.last == nil {
		q.last = p
	}
}

func (q *pageQueue) remove(p *segment.Page) {
	if prev := p.Prev(); prev != nil {
		prev.SetNext(p.Next())
	} else if q.first == p {
		q.first = p.Next()
	}
	if next := p.Next(); next != nil {
		next.SetPrev(p.Prev())
	} else if q.last == p {
		q.last = p.Prev()
	}
	p.SetPrev(nil)
	p.SetNext(nil)
}

func (q *pageQueue) empty() bool { return q.first == nil }

// Heap is a per-thread allocation context (spec.md §3.2 "Heap"). Every
// field below except the delayed-free list and thread-free lists of its
// pages is owner-only: no synchronisation is needed because only the
// owning thread ever calls into its own heap.
type Heap struct {
	threadID       uint64
	numaNode       int
	arenaID        int32
	exclusiveArena bool

	registry *arena.Registry

	pagesDirect [segment.DirectSlots]*segment.Page
	queues      []pageQueue // indexed by size-class index

	currentSmallSegment  *segment.Segment
	currentMediumSegment *segment.Segment
	segments             []*segment.Segment // every segment this heap currently owns

	delayed delayedFreeList

	rng *rand.Rand

	deferredFree   func()
	inDeferredFree bool
}

// New creates a heap for threadID, affine to numaNode, driven by
// registry for all segment-sized memory (spec.md §3.3's lazy arena
// creation, §4.7's abandoned-segment adoption).
func New(threadID uint64, registry *arena.Registry, numaNode int, seed int64) *Heap {
	h := &Heap{
		threadID: threadID,
		numaNode: numaNode,
		registry: registry,
		queues:   make([]pageQueue, len(segment.Classes)),
		rng:      rand.New(rand.NewSource(seed)),
	}
	for i := range h.pagesDirect {
		h.pagesDirect[i] = segment.EmptySentinel()
	}
	return h
}

// SetArenaAffinity restricts this heap's segment allocations to a
// specific arena (spec.md §6.3's arena-id/exclusive options).
func (h *Heap) SetArenaAffinity(arenaID int32, exclusive bool) {
	h.arenaID = arenaID
	h.exclusiveArena = exclusive
}

// SetDeferredFreeCallback installs the user callback invoked at step 1
// of the generic routine (spec.md §9 "Deferred-free callback").
func (h *Heap) SetDeferredFreeCallback(fn func()) {
	h.deferredFree = fn
}

func (h *Heap) queueFor(classIdx int) *pageQueue {
	return &h.queues[classIdx]
}

// Alloc implements the fast-path allocation contract of spec.md §4.1
// (for n ≤ 1024, via pages_direct) generalized to every category: the
// medium path checks its size class's queue head before falling
// through, and large/huge always take a dedicated fresh segment, since
// they are never reused across requests.
func (h *Heap) Alloc(n int64) (unsafe.Pointer, error) {
	category := segment.CategoryFor(n, segment.SegmentAlign)
	if category == segment.CategoryLarge || category == segment.CategoryHuge {
		return h.allocLargeOrHuge(category, n)
	}

	if n <= segment.SmallMax {
		if ptr, ok := h.allocDirect(n); ok {
			return ptr, nil
		}
	} else {
		idx := segment.ClassIndexFor(n)
		if q := h.queueFor(idx); q.first != nil {
			if ptr, ok := q.first.AllocFast(); ok {
				return ptr, nil
			}
		}
	}
	return h.generic(n)
}

func (h *Heap) allocDirect(n int64) (unsafe.Pointer, bool) {
	slot := int((n+7)>>3) - 1
	return h.pagesDirect[slot].AllocFast()
}

func (h *Heap) refreshDirect(n int64, page *segment.Page) {
	if n > segment.SmallMax {
		return
	}
	slot := int((n+7)>>3) - 1
	h.pagesDirect[slot] = page
}

func (h *Heap) allocLargeOrHuge(category segment.Category, n int64) (unsafe.Pointer, error) {
	page, err := h.freshLargeOrHugePage(category, n)
	if err != nil {
		return nil, err
	}
	ptr, ok := page.AllocFast()
	if !ok {
		return nil, fmt.Errorf("heapstate: fresh large/huge page has no block")
	}
	return ptr, nil
}

// Free implements spec.md line 20's deallocation contract: recover the
// segment by address mask, the page by offset, then push onto
// local_free if this heap owns the segment, else onto the page's
// atomic thread_free.
func (h *Heap) Free(ptr unsafe.Pointer) error {
	seg, ok := segment.Of(ptr)
	if !ok {
		return fmt.Errorf("heapstate: free of pointer not owned by this allocator")
	}
	page := seg.PageAt(ptr)
	if seg.OwnerThreadID() != h.threadID {
		page.FreeThreadSafe(ptr)
		return nil
	}
	if page.FreeLocal(ptr) {
		return h.collectAndMaybeRelease(seg, page)
	}
	return nil
}

// DelayedFree implements the batching path of spec.md §4.4: push onto
// this heap's thread-delayed-free list rather than the target page's
// thread_free directly, to be drained in one pass by the generic
// routine.
func (h *Heap) DelayedFree(ptr unsafe.Pointer) {
	h.delayed.push(ptr)
}

func (h *Heap) collectAndMaybeRelease(seg *segment.Segment, page *segment.Page) error {
	page.Collect()
	if !page.IsEmpty() {
		return nil
	}
	if classIdx := page.SizeClassIdx(); classIdx >= 0 {
		h.queueFor(classIdx).remove(page)
		h.clearDirectPointingAt(page)
	}
	page.Release()
	seg.DecUsedPages()
	if seg.UsedPages() == 0 {
		return h.releaseSegment(seg)
	}
	return nil
}

func (h *Heap) clearDirectPointingAt(page *segment.Page) {
	for i, p := range h.pagesDirect {
		if p == page {
			h.pagesDirect[i] = segment.EmptySentinel()
		}
	}
}

func (h *Heap) releaseSegment(seg *segment.Segment) error {
	seg.Release()
	if h.currentSmallSegment == seg {
		h.currentSmallSegment = nil
	}
	if h.currentMediumSegment == seg {
		h.currentMediumSegment = nil
	}
	h.forgetSegment(seg)
	return h.registry.Free(seg.Start(), seg.MemID(), arena.NowMsecs())
}

func (h *Heap) rememberSegment(seg *segment.Segment) {
	h.segments = append(h.segments, seg)
}

func (h *Heap) forgetSegment(seg *segment.Segment) {
	for i, s := range h.segments {
		if s == seg {
			h.segments = append(h.segments[:i], h.segments[i+1:]...)
			return
		}
	}
}

// Teardown implements spec.md line 158's thread-exit contract: drain
// the delayed-free list, abandon every still-live segment this heap
// owns (marking it in the arena's abandoned bitmap, or bumping the
// non-arena abandoned counter), and release any segment that happens
// to already be empty straight back to its arena.
func (h *Heap) Teardown() error {
	h.drainDelayedFree()

	segs := h.segments
	h.segments = nil
	for _, seg := range segs {
		if seg.UsedPages() == 0 {
			seg.Release()
			if err := h.registry.Free(seg.Start(), seg.MemID(), arena.NowMsecs()); err != nil {
				return err
			}
			continue
		}
		seg.Abandon()
		memid := seg.MemID()
		if memid.Kind == arena.MemArena {
			h.registry.MarkAbandoned(memid.ArenaIdx, memid.BlockAt)
		} else {
			h.registry.IncNonArenaAbandoned()
		}
	}

	for i := range h.pagesDirect {
		h.pagesDirect[i] = segment.EmptySentinel()
	}
	h.queues = make([]pageQueue, len(segment.Classes))
	h.currentSmallSegment, h.currentMediumSegment = nil, nil
	return nil
}

func (h *Heap) ThreadID() uint64 { return h.threadID }

func (h *Heap) warnf(format string, args ...interface{}) {
	mlog.Get().Warnf(format, args...)
}

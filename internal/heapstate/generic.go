package heapstate

import (
	"fmt"
	"unsafe"

	"github.com/the-die/mimalloc/internal/arena"
	"github.com/the-die/mimalloc/internal/segment"
)

// generic implements spec.md §4.2's five-step slow path, reached once
// the fast path (and, for medium, the size-class queue's head page)
// have both missed. Large/huge requests never reach here — see
// allocLargeOrHuge in heap.go — because they are never reused across
// calls.
func (h *Heap) generic(n int64) (unsafe.Pointer, error) {
	h.deferredFreeStep()
	h.drainDelayedFree()

	if ptr, ok := h.reclaimFromQueue(n); ok {
		return ptr, nil
	}

	page, err := h.freshPage(n)
	if err != nil {
		return nil, err
	}
	h.refreshDirect(n, page)
	ptr, ok := page.AllocFast()
	if !ok {
		return nil, fmt.Errorf("heapstate: freshly carved page returned no block")
	}
	return ptr, nil
}

// deferredFreeStep is generic-routine step 1 (spec.md §9 "Deferred-free
// callback"): invoke the user callback under a recursion guard, since
// the callback must not itself call back into this allocator.
func (h *Heap) deferredFreeStep() {
	if h.inDeferredFree || h.deferredFree == nil {
		return
	}
	h.inDeferredFree = true
	defer func() { h.inDeferredFree = false }()
	h.deferredFree()
}

// reclaimFromQueue is generic-routine step 3: walk the size class's
// queue, folding each page's local_free and thread_free back into free
// (spec.md lines 90-92), releasing any page that turns out empty, and
// returning the first block any page can still serve.
func (h *Heap) reclaimFromQueue(n int64) (unsafe.Pointer, bool) {
	idx := segment.ClassIndexFor(n)
	q := h.queueFor(idx)

	p := q.first
	for p != nil {
		next := p.Next()
		p.Collect()
		switch {
		case p.IsEmpty():
			q.remove(p)
			seg := p.Segment()
			p.Release()
			seg.DecUsedPages()
			if seg.UsedPages() == 0 {
				if err := h.releaseSegment(seg); err != nil {
					h.warnf("heapstate: releasing drained segment: %v", err)
				}
			}
		case !p.FreeListEmpty():
			if ptr, ok := p.AllocFast(); ok {
				h.refreshDirect(n, p)
				return ptr, true
			}
		}
		p = next
	}
	return nil, false
}

// freshPage is generic-routine step 4 for small/medium requests: try to
// adopt one abandoned segment opportunistically, then carve (or create)
// a page of the right size class.
func (h *Heap) freshPage(n int64) (*segment.Page, error) {
	category := segment.CategoryFor(n, segment.SegmentAlign)
	classIdx := segment.ClassIndexFor(n)
	blockSize := segment.ClassOf(classIdx)

	if adopted, ok := h.tryAdoptAbandoned(); ok {
		h.adoptSegment(adopted)
		wantKind := segment.KindSmall
		if category == segment.CategoryMedium {
			wantKind = segment.KindMedium
		}
		if adopted.Kind() == wantKind {
			if pg := firstUnassigned(adopted); pg != nil {
				pg.Assign(classIdx, blockSize)
				adopted.IncUsedPages()
				h.queueFor(classIdx).pushFront(pg)
				return pg, nil
			}
		}
	}

	seg := h.currentSmallSegment
	if category == segment.CategoryMedium {
		seg = h.currentMediumSegment
	}
	if seg == nil || firstUnassigned(seg) == nil {
		fresh, err := h.newUniformSegment(category)
		if err != nil {
			return nil, err
		}
		seg = fresh
		if category == segment.CategorySmall {
			h.currentSmallSegment = seg
		} else {
			h.currentMediumSegment = seg
		}
	}
	pg := firstUnassigned(seg)
	pg.Assign(classIdx, blockSize)
	seg.IncUsedPages()
	h.queueFor(classIdx).pushFront(pg)
	return pg, nil
}

func firstUnassigned(seg *segment.Segment) *segment.Page {
	pages := seg.Pages()
	for i := range pages {
		if !pages[i].Assigned() {
			return &pages[i]
		}
	}
	return nil
}

func (h *Heap) newUniformSegment(category segment.Category) (*segment.Segment, error) {
	req := arena.Request{
		Blocks:    1,
		NUMANode:  h.numaNode,
		ArenaID:   h.arenaID,
		Exclusive: h.exclusiveArena,
		Commit:    true,
	}
	ptr, memid, err := h.registry.Allocate(req)
	if err != nil {
		return nil, err
	}
	var seg *segment.Segment
	if category == segment.CategorySmall {
		seg = segment.NewSmall(ptr, memid)
	} else {
		seg = segment.NewMedium(ptr, memid)
	}
	seg.SetOwner(h.threadID)
	h.rememberSegment(seg)
	return seg, nil
}

// freshLargeOrHugePage backs allocLargeOrHuge: one segment, one page,
// sized exactly to the request rounded up to the arena's block
// granularity (spec.md §3.1, "one page fills the segment").
func (h *Heap) freshLargeOrHugePage(category segment.Category, n int64) (*segment.Page, error) {
	blocks := (n + arena.BlockSize - 1) / arena.BlockSize
	req := arena.Request{
		Blocks:     blocks,
		NUMANode:   h.numaNode,
		ArenaID:    h.arenaID,
		Exclusive:  h.exclusiveArena,
		AllowLarge: category == segment.CategoryHuge,
		Commit:     true,
	}
	ptr, memid, err := h.registry.Allocate(req)
	if err != nil {
		return nil, err
	}
	size := blocks * arena.BlockSize
	kind := segment.KindLarge
	if category == segment.CategoryHuge {
		kind = segment.KindHuge
	}
	seg := segment.NewLargeOrHuge(kind, ptr, size, memid)
	seg.SetOwner(h.threadID)
	h.rememberSegment(seg)

	page := &seg.Pages()[0]
	page.Assign(segment.LargeHugeClassIdx, size)
	seg.IncUsedPages()
	return page, nil
}

// tryAdoptAbandoned implements spec.md §4.7: scan the arena registry's
// abandoned bitmaps from a random starting point and claim the first
// segment found.
func (h *Heap) tryAdoptAbandoned() (*segment.Segment, bool) {
	arenaIdx, at, ok := h.registry.ScanAbandoned(h.rng)
	if !ok {
		return nil, false
	}
	arenas := h.registry.Arenas()
	if arenaIdx < 0 || arenaIdx >= len(arenas) {
		return nil, false
	}
	ptr := arenas[arenaIdx].PointerAt(at)
	seg, ok := segment.Of(ptr)
	if !ok || !seg.Adopt(h.threadID) {
		return nil, false
	}
	h.rememberSegment(seg)
	return seg, true
}

// adoptSegment folds every already-assigned page of a newly adopted
// segment into this heap: pages that turn out empty after a Collect are
// released, and the rest rejoin their size-class queue so they keep
// serving requests under the new owner (spec.md §4.7, "return it to the
// caller's heap for re-entry into its size-class queues").
func (h *Heap) adoptSegment(seg *segment.Segment) {
	pages := seg.Pages()
	for i := range pages {
		p := &pages[i]
		if !p.Assigned() {
			continue
		}
		p.Collect()
		if p.IsEmpty() {
			p.Release()
			seg.DecUsedPages()
			continue
		}
		if classIdx := p.SizeClassIdx(); classIdx >= 0 {
			h.queueFor(classIdx).pushFront(p)
		}
	}
	if seg.UsedPages() == 0 {
		if err := h.releaseSegment(seg); err != nil {
			h.warnf("heapstate: releasing freshly adopted but empty segment: %v", err)
		}
	}
}

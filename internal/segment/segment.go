// Package segment implements the segment and page layers of spec.md
// §4.1/§4.3: a segment is one arena-block-aligned chunk carrying an
// array of pages, and a page is the size-class-homogeneous free-list
// triple that is the heart of the allocator's fast path. Page lives in
// this package rather than its own, because a segment owns its pages
// inline and every page carries a back-pointer to its segment — the
// same tight coupling the original source keeps between segment.c and
// page.c.
package segment

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/the-die/mimalloc/internal/arena"
)

// SegmentAlign is the address alignment every segment is reserved at.
// spec.md §3.2 describes two distinct pointer-to-segment recoveries —
// a mask for fixed-size small/medium segments, an arena-bitmap reverse
// lookup for variable-size large/huge ones — that collapse to the same
// mechanism here: Go cannot place a live header struct at a raw OS
// address, so both paths resolve through the package-level index below,
// keyed by the address each segment is guaranteed to start at. Aligning
// every category to the arena's own block granularity keeps the index
// key a single mask-and-lookup regardless of category, and an arena
// block always carries a whole number of segments' worth of bytes.
const SegmentAlign = arena.BlockSize

// Kind classifies a segment by the size category of blocks it serves
// (spec.md §3.1's table).
type Kind int

const (
	KindSmall Kind = iota
	KindMedium
	KindLarge
	KindHuge
)

func (k Kind) String() string {
	switch k {
	case KindSmall:
		return "small"
	case KindMedium:
		return "medium"
	case KindLarge:
		return "large"
	case KindHuge:
		return "huge"
	default:
		return "unknown"
	}
}

// Small and medium segments are always exactly SegmentAlign bytes, split
// into a fixed number of fixed-size pages (spec.md §3.1 table).
const (
	SmallPageSize    = 64 * 1024
	SmallPageCount   = SegmentAlign / SmallPageSize
	MediumPageSize   = 512 * 1024
	MediumPageCount  = SegmentAlign / MediumPageSize
)

// Segment is one arena-block-aligned chunk of memory carrying an array
// of Pages (spec.md §3.2 "Segment"). Small and medium segments hold
// many fixed-size pages; large and huge segments hold exactly one page
// that fills the whole reservation.
type Segment struct {
	kind Kind

	start     unsafe.Pointer
	size      int64
	pageShift uint // valid (nonzero pages) only for uniform small/medium segments

	pages []Page

	ownerThreadID atomic.Uint64 // 0 means abandoned, spec.md §3.2

	usedPages      int32 // owner-only: count of pages with used>0
	abandonedPages int32 // snapshot taken at Abandon, for the adopting thread

	memid arena.MemID
}

var index sync.Map // uintptr(segment-aligned address) -> *Segment

func register(s *Segment)   { index.Store(uintptr(s.start), s) }
func unregister(s *Segment) { index.Delete(uintptr(s.start)) }

// Of recovers the segment owning ptr, for any ptr this package has
// previously handed out as a block address. See SegmentAlign for why
// this single lookup stands in for both of spec.md §3.2's recovery
// paths.
func Of(ptr unsafe.Pointer) (*Segment, bool) {
	key := uintptr(ptr) &^ uintptr(SegmentAlign-1)
	v, ok := index.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Segment), true
}

// NewSmall creates a fresh small segment: SmallPageCount pages of
// SmallPageSize bytes each, all initially unassigned.
func NewSmall(start unsafe.Pointer, memid arena.MemID) *Segment {
	return newUniform(KindSmall, start, SmallPageSize, SmallPageCount, memid)
}

// NewMedium creates a fresh medium segment: MediumPageCount pages of
// MediumPageSize bytes each, all initially unassigned.
func NewMedium(start unsafe.Pointer, memid arena.MemID) *Segment {
	return newUniform(KindMedium, start, MediumPageSize, MediumPageCount, memid)
}

func newUniform(kind Kind, start unsafe.Pointer, pageSize int64, pageCount int, memid arena.MemID) *Segment {
	s := &Segment{
		kind:      kind,
		start:     start,
		size:      pageSize * int64(pageCount),
		pageShift: trailingZeroShift(pageSize),
		pages:     make([]Page, pageCount),
		memid:     memid,
	}
	for i := range s.pages {
		area := unsafe.Pointer(uintptr(start) + uintptr(i)*uintptr(pageSize))
		s.pages[i].init(s, i, area, pageSize)
	}
	register(s)
	return s
}

// NewLargeOrHuge creates a segment holding exactly one page that fills
// the entire reservation (spec.md §3.1, "one page fills the segment").
func NewLargeOrHuge(kind Kind, start unsafe.Pointer, size int64, memid arena.MemID) *Segment {
	s := &Segment{
		kind:  kind,
		start: start,
		size:  size,
		pages: make([]Page, 1),
		memid: memid,
	}
	s.pages[0].init(s, 0, start, size)
	register(s)
	return s
}

func trailingZeroShift(n int64) uint {
	var shift uint
	for (int64(1) << shift) < n {
		shift++
	}
	return shift
}

// Kind reports the segment's category.
func (s *Segment) Kind() Kind { return s.kind }

// Start returns the segment's base address.
func (s *Segment) Start() unsafe.Pointer { return s.start }

// Size returns the total bytes this segment's reservation spans.
func (s *Segment) Size() int64 { return s.size }

// MemID returns the arena receipt this segment's memory was allocated
// with, needed to free it back to the arena layer.
func (s *Segment) MemID() arena.MemID { return s.memid }

// Pages returns the segment's page array for iteration by the generic
// routine (collection passes, release-to-arena checks).
func (s *Segment) Pages() []Page { return s.pages }

// PageAt recovers the page owning ptr within this segment: O(1) via the
// uniform page-size shift for small/medium, or the sole page for
// large/huge (spec.md §4.1 "segment → page by offset").
func (s *Segment) PageAt(ptr unsafe.Pointer) *Page {
	if len(s.pages) == 1 {
		return &s.pages[0]
	}
	offset := uintptr(ptr) - uintptr(s.start)
	idx := int(offset >> s.pageShift)
	return &s.pages[idx]
}

// OwnerThreadID returns the id of the thread currently owning this
// segment, or 0 if abandoned.
func (s *Segment) OwnerThreadID() uint64 { return s.ownerThreadID.Load() }

// SetOwner assigns ownership unconditionally, used when a fresh segment
// is created directly by its creating thread.
func (s *Segment) SetOwner(tid uint64) { s.ownerThreadID.Store(tid) }

// Abandon marks the segment ownerless, recording how many pages were
// still in use so an adopting thread knows what it is inheriting
// (spec.md §3.2 "abandoned count").
func (s *Segment) Abandon() {
	s.abandonedPages = s.usedPages
	s.ownerThreadID.Store(0)
}

// Adopt attempts to claim an abandoned segment for tid via CAS, so two
// threads racing to reclaim the same segment can't both succeed
// (spec.md §4.7).
func (s *Segment) Adopt(tid uint64) bool {
	return s.ownerThreadID.CompareAndSwap(0, tid)
}

// AbandonedPages reports the live-page count recorded at Abandon time.
func (s *Segment) AbandonedPages() int32 { return s.abandonedPages }

// IncUsedPages/DecUsedPages/UsedPages track how many of this segment's
// pages currently have used>0, owner-only bookkeeping used to decide
// when a whole segment can be released back to its arena.
func (s *Segment) IncUsedPages()     { s.usedPages++ }
func (s *Segment) DecUsedPages()     { s.usedPages-- }
func (s *Segment) UsedPages() int32  { return s.usedPages }

// Release deregisters the segment from the pointer-recovery index. The
// caller is responsible for freeing the underlying memory back to the
// arena layer via MemID.
func (s *Segment) Release() { unregister(s) }

package segment

import (
	"testing"
	"unsafe"

	"github.com/the-die/mimalloc/internal/arena"
)

// alignedArea carves a SegmentAlign-aligned slice out of a larger
// over-allocation, the same trim-the-slack trick internal/prim uses
// against real mmap results.
func alignedArea(t *testing.T, size int64) unsafe.Pointer {
	t.Helper()
	buf := make([]byte, size+SegmentAlign)
	t.Cleanup(func() { _ = buf })
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + uintptr(SegmentAlign) - 1) &^ uintptr(SegmentAlign-1)
	return unsafe.Pointer(aligned)
}

func TestNewSmallSegmentLayout(t *testing.T) {
	start := alignedArea(t, SegmentAlign)
	seg := NewSmall(start, arena.MemID{})
	defer seg.Release()

	if seg.Kind() != KindSmall {
		t.Fatalf("expected KindSmall")
	}
	if len(seg.Pages()) != SmallPageCount {
		t.Fatalf("expected %d pages, got %d", SmallPageCount, len(seg.Pages()))
	}
	if seg.Size() != SegmentAlign {
		t.Fatalf("expected segment size %d, got %d", SegmentAlign, seg.Size())
	}
}

func TestPageAtRecoversCorrectPageByOffset(t *testing.T) {
	start := alignedArea(t, SegmentAlign)
	seg := NewMedium(start, arena.MemID{})
	defer seg.Release()

	for i := 0; i < MediumPageCount; i++ {
		ptr := unsafe.Pointer(uintptr(start) + uintptr(i)*MediumPageSize)
		got := seg.PageAt(ptr)
		if got != &seg.pages[i] {
			t.Fatalf("PageAt(%d) returned page %d, expected %d", i, got.Index(), i)
		}
	}
}

func TestOfRecoversSegmentFromBlockPointer(t *testing.T) {
	start := alignedArea(t, SegmentAlign)
	seg := NewSmall(start, arena.MemID{})
	defer seg.Release()

	page := &seg.pages[3]
	page.Assign(0, 64)
	ptr, ok := page.AllocFast()
	if !ok {
		t.Fatalf("expected allocation to succeed")
	}

	got, ok := Of(ptr)
	if !ok {
		t.Fatalf("expected Of to recover the segment")
	}
	if got != seg {
		t.Fatalf("Of recovered the wrong segment")
	}
	if recoveredPage := got.PageAt(ptr); recoveredPage != page {
		t.Fatalf("PageAt on the recovered segment returned the wrong page")
	}
}

func TestOfFailsForUnknownPointer(t *testing.T) {
	var x int
	if _, ok := Of(unsafe.Pointer(&x)); ok {
		t.Fatalf("expected Of to fail for a pointer never registered as a segment")
	}
}

func TestAbandonAndAdoptRoundTrip(t *testing.T) {
	start := alignedArea(t, SegmentAlign)
	seg := NewSmall(start, arena.MemID{})
	defer seg.Release()

	seg.SetOwner(42)
	seg.IncUsedPages()
	seg.Abandon()

	if seg.OwnerThreadID() != 0 {
		t.Fatalf("expected owner 0 after Abandon")
	}
	if seg.AbandonedPages() != 1 {
		t.Fatalf("expected abandoned_pages snapshot of 1, got %d", seg.AbandonedPages())
	}

	if !seg.Adopt(7) {
		t.Fatalf("expected Adopt to succeed on an abandoned segment")
	}
	if seg.OwnerThreadID() != 7 {
		t.Fatalf("expected owner 7 after Adopt")
	}
	if seg.Adopt(8) {
		t.Fatalf("expected a second Adopt to fail once already owned")
	}
}

func TestLargeSegmentHasExactlyOnePage(t *testing.T) {
	const size = SegmentAlign * 4
	start := alignedArea(t, size)
	seg := NewLargeOrHuge(KindLarge, start, size, arena.MemID{})
	defer seg.Release()

	if len(seg.Pages()) != 1 {
		t.Fatalf("expected exactly one page, got %d", len(seg.Pages()))
	}
	page := &seg.pages[0]
	page.Assign(0, size)
	if page.Capacity() != 1 {
		t.Fatalf("expected a single-block page, got capacity %d", page.Capacity())
	}
}

package segment

import (
	"testing"
	"unsafe"
)

// testArea allocates a plain Go byte slice to stand in for mmap'd
// memory in tests; the allocator code itself only ever receives real
// OS memory from internal/prim, but the page/segment bookkeeping logic
// doesn't care where the bytes come from.
func testArea(t *testing.T, size int64) unsafe.Pointer {
	t.Helper()
	buf := make([]byte, size)
	t.Cleanup(func() { _ = buf }) // keep buf reachable until the test ends
	return unsafe.Pointer(&buf[0])
}

func newTestPage(t *testing.T, areaSize int64) *Page {
	t.Helper()
	seg := &Segment{kind: KindSmall}
	p := &Page{}
	p.init(seg, 0, testArea(t, areaSize), areaSize)
	return p
}

func TestPageAssignBuildsFullFreeList(t *testing.T) {
	p := newTestPage(t, 4096)
	p.Assign(0, 64)
	if p.Capacity() != 64 {
		t.Fatalf("expected capacity 64, got %d", p.Capacity())
	}
	if !p.checkConservation() {
		t.Fatalf("conservation invariant violated after Assign")
	}
}

func TestAllocFastPopsAndIncrementsUsed(t *testing.T) {
	p := newTestPage(t, 4096)
	p.Assign(0, 64)
	seen := map[uintptr]bool{}
	for i := 0; i < 64; i++ {
		ptr, ok := p.AllocFast()
		if !ok {
			t.Fatalf("alloc %d: expected success", i)
		}
		if seen[uintptr(ptr)] {
			t.Fatalf("alloc %d: duplicate block returned", i)
		}
		seen[uintptr(ptr)] = true
	}
	if p.Used() != 64 {
		t.Fatalf("expected used 64, got %d", p.Used())
	}
	if _, ok := p.AllocFast(); ok {
		t.Fatalf("expected free list exhaustion")
	}
}

func TestFreeLocalDecrementsUsedAndSignalsCollect(t *testing.T) {
	p := newTestPage(t, 4096)
	p.Assign(0, 64)
	ptr, _ := p.AllocFast()
	if !p.FreeLocal(ptr) {
		t.Fatalf("expected collect signal once the only allocated block is freed")
	}

	rest := make([]uintptr, 0, 63)
	for {
		b, ok := p.AllocFast()
		if !ok {
			break
		}
		rest = append(rest, uintptr(b))
	}
	var needsCollect bool
	for _, b := range rest {
		needsCollect = p.FreeLocal(unsafe.Pointer(b))
	}
	if !needsCollect {
		t.Fatalf("expected collect signal once used reaches zero")
	}
	if !p.checkConservation() {
		t.Fatalf("conservation invariant violated before Collect (local_free not yet folded)")
	}
}

func TestFreeThreadSafeThenCollectReconciles(t *testing.T) {
	p := newTestPage(t, 4096)
	p.Assign(0, 64)

	var outstanding []uintptr
	for {
		ptr, ok := p.AllocFast()
		if !ok {
			break
		}
		outstanding = append(outstanding, uintptr(ptr))
	}
	for _, ptr := range outstanding {
		p.FreeThreadSafe(unsafe.Pointer(ptr))
	}
	if !p.NeedsCollect() {
		t.Fatalf("expected NeedsCollect once every block is thread-freed")
	}

	p.Collect()
	if !p.IsEmpty() {
		t.Fatalf("expected used==0 after Collect, got %d", p.Used())
	}
	if !p.checkConservation() {
		t.Fatalf("conservation invariant violated after Collect")
	}
}

func TestCollectFoldsLocalFreeWithoutLosingFastPathBlocks(t *testing.T) {
	p := newTestPage(t, 4096)
	p.Assign(0, 64)

	// Leave some blocks on the fast path untouched, free a few locally.
	var held []uintptr
	for i := 0; i < 10; i++ {
		ptr, _ := p.AllocFast()
		held = append(held, uintptr(ptr))
	}
	p.FreeLocal(unsafe.Pointer(held[0]))
	p.FreeLocal(unsafe.Pointer(held[1]))

	p.Collect()
	if !p.checkConservation() {
		t.Fatalf("conservation invariant violated after Collect")
	}
	// The two locally-freed blocks must be reachable again via AllocFast.
	reclaimed := map[uintptr]bool{}
	for {
		ptr, ok := p.AllocFast()
		if !ok {
			break
		}
		reclaimed[uintptr(ptr)] = true
	}
	if !reclaimed[held[0]] || !reclaimed[held[1]] {
		t.Fatalf("expected locally-freed blocks to be reusable after Collect")
	}
}

func TestReleaseResetsPage(t *testing.T) {
	p := newTestPage(t, 4096)
	p.Assign(0, 64)
	p.AllocFast()
	p.Release()
	if p.Assigned() {
		t.Fatalf("expected page to be unassigned after Release")
	}
	if p.Capacity() != 0 || p.Used() != 0 {
		t.Fatalf("expected zeroed capacity/used after Release")
	}
}

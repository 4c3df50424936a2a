package mimalloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/the-die/mimalloc/internal/arena"
)

// testArenaOptions keeps test arenas small so a single test doesn't
// reserve a full gigabyte from the OS.
func testArenaOptions() arena.Options {
	opts := arena.DefaultOptions()
	opts.ReserveSize = arena.BlockSize * 8
	return opts
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(testArenaOptions())
}

// resetDefaultHeap points the package-level default Engine/Heap at a
// fresh, small-arena Engine for the duration of one test, since the
// package-level convenience functions (Malloc, Free, ...) otherwise
// share one process-wide default sized for real workloads.
func resetDefaultHeap(t *testing.T) {
	t.Helper()
	defaultHeapMu.Lock()
	defer defaultHeapMu.Unlock()
	defaultEngine = NewEngine(testArenaOptions())
	defaultEngineOnce = sync.Once{}
	defaultEngineOnce.Do(func() {}) // mark done: Default() must not overwrite defaultEngine above
	defaultHeapOnce = sync.Once{}
	defaultHeap = nil
}

func TestHeapDestroyAbandonsLiveSegments(t *testing.T) {
	e := newTestEngine(t)
	h := e.NewHeap(0)

	ptr := h.Malloc(64)
	require.NotNil(t, ptr)

	require.NoError(t, h.Destroy())
	require.Greater(t, e.AbandonedCount(), int64(0))
}

func TestHeapBindArenaThenAllocSucceeds(t *testing.T) {
	e := newTestEngine(t)
	h := e.NewHeap(0)
	h.BindArena(0, false)

	ptr := h.Malloc(64)
	require.NotNil(t, ptr)
}

package mimalloc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/the-die/mimalloc/internal/arena"
	"github.com/the-die/mimalloc/internal/heapstate"
	"github.com/the-die/mimalloc/internal/mnuma"
)

// Engine owns the process-wide arena registry every Heap allocates
// from (spec.md §9 "Global mutable state": mi_arenas[], arena_count).
type Engine struct {
	registry *arena.Registry
}

// NewEngine creates an Engine backed by a fresh arena registry.
// Applications that want non-default arena_reserve/purge knobs build
// their own Engine; most just use Default().
func NewEngine(opts arena.Options) *Engine {
	return &Engine{registry: arena.NewRegistry(opts)}
}

var (
	defaultEngineOnce sync.Once
	defaultEngine     *Engine
)

// Default returns the process-wide Engine every package-level
// convenience function (Malloc, Free, ...) allocates through,
// created lazily on first use (spec.md §9, "thread-local default heap
// is initialised on first use").
func Default() *Engine {
	defaultEngineOnce.Do(func() {
		defaultEngine = NewEngineFromOptions(DefaultOptions())
	})
	return defaultEngine
}

var nextHeapID atomic.Uint64

// Heap is a per-thread allocation context (spec.md §3.2 "Heap"),
// mirroring mi_heap_t. Thread-local storage itself is explicitly out of
// scope (spec.md §1 lists it among the external collaborators whose
// contract is only referenced, not implemented): a Heap is an ordinary
// Go value the caller is responsible for confining to one goroutine at
// a time, exactly the discipline the original's "per-thread" heap
// already demanded of its caller, just made explicit instead of
// automatic. The package-level convenience functions below approximate
// a thread-local default heap with one shared, mutex-guarded Heap — see
// DESIGN.md for why that tradeoff is acceptable for a convenience path
// that was never meant to be the fast one.
type Heap struct {
	state *heapstate.Heap
}

// NewHeap creates a heap drawing segments from e, affine to numaNode.
func (e *Engine) NewHeap(numaNode int) *Heap {
	id := nextHeapID.Add(1)
	return &Heap{state: heapstate.New(id, e.registry, numaNode, int64(id))}
}

// BindArena restricts this heap's segment allocations to one arena,
// supplementing §4.5 step 2 per SPEC_FULL.md §4.10's arena_id routing.
func (h *Heap) BindArena(id int32, exclusive bool) {
	h.state.SetArenaAffinity(id, exclusive)
}

// SetDeferredFreeCallback installs the user callback invoked at
// generic-routine step 1 (spec.md §9 "Deferred-free callback").
func (h *Heap) SetDeferredFreeCallback(fn func()) {
	h.state.SetDeferredFreeCallback(fn)
}

// Malloc allocates size bytes from this heap, or nil on failure
// (reported through the installed ErrorCallback rather than returned).
func (h *Heap) Malloc(size int) unsafe.Pointer {
	if size <= 0 {
		size = 1
	}
	ptr, err := h.state.Alloc(int64(size))
	if err != nil {
		reportError(ErrorOutOfMemory, err)
		return nil
	}
	return ptr
}

// Free returns ptr, previously obtained from this Engine (any Heap, not
// necessarily this one — spec.md line 20's cross-thread free contract),
// to the allocator. A nil ptr is a no-op, matching free(NULL).
func (h *Heap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if err := h.state.Free(ptr); err != nil {
		reportError(ErrorInvalidPointer, err)
	}
}

// DelayedFree batches ptr onto this heap's thread-delayed-free list
// instead of freeing it immediately (spec.md §4.4).
func (h *Heap) DelayedFree(ptr unsafe.Pointer) {
	h.state.DelayedFree(ptr)
}

// UsableSize reports the real block capacity backing ptr, which may
// exceed the size originally requested (spec.md's MallocUsableSize
// contract, §6.2).
func (h *Heap) UsableSize(ptr unsafe.Pointer) int64 {
	return usableSize(ptr)
}

// Destroy tears this heap down: drain its delayed-free list and
// abandon-or-release every segment it still owns (spec.md line 158's
// thread-exit contract). Go has no thread-exit hook to call this
// automatically, so callers that create heaps explicitly must call it
// themselves when they are done with a goroutine's allocations.
func (h *Heap) Destroy() error {
	return h.state.Teardown()
}

var (
	defaultHeapOnce sync.Once
	defaultHeapMu   sync.Mutex
	defaultHeap     *Heap
)

func sharedDefaultHeap() *Heap {
	defaultHeapOnce.Do(func() {
		defaultHeap = Default().NewHeap(mnuma.CurrentNode())
	})
	return defaultHeap
}

// Package mimalloc implements a three-level (arena/segment/page) memory
// allocator in the style of mimalloc: arenas are large OS reservations
// carved into fixed-size blocks, segments are block-aligned runs owned
// by one heap at a time, and pages within a segment serve one size
// class each through a three-way sharded free list that lets the
// common allocate/free path run without a single atomic instruction.
//
// Most callers want the package-level convenience functions (Malloc,
// Calloc, Realloc, Free, ...), which allocate through one shared
// default Engine and Heap. Callers that want the real lock-free fast
// path, or per-goroutine isolation, should create their own Engine and
// Heap and confine each Heap to one goroutine at a time — see Heap's
// doc comment for why this package cannot do that confinement for you.
package mimalloc

// Package arena implements the shared arena layer of spec.md §4.5-4.7:
// large OS reservations carved into fixed-size blocks with atomic
// bitmaps, lazy arena creation, delayed decommit ("purge"), and
// abandoned-segment reclamation. It is grounded on the teacher's
// malloc.Arena (bnclabs-gostore/malloc/arena.go) for the carve-into-pools
// shape, generalized from a single-threaded map of size-keyed pools to a
// concurrent, bitmap-tracked block allocator, using the atomic
// claim-across-words primitive of internal/bitset in place of the
// teacher's plain freelist/bitmap (which assumed one owning goroutine).
package arena

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/the-die/mimalloc/internal/bitset"
	"github.com/the-die/mimalloc/internal/mlog"
	"github.com/the-die/mimalloc/internal/prim"
)

// BlockSize is the arena block granularity (`MI_ARENA_BLOCK_SIZE` in the
// original source): arenas are carved into runs of this many bytes, and
// a segment occupies one or more contiguous blocks. Chosen equal to the
// fixed small/medium segment size (spec.md §3.1) so that the common
// case — one small or medium segment — claims exactly one block and
// segment pointer recovery stays a plain address mask; large and huge
// segments simply claim as many contiguous blocks as their size needs.
const BlockSize = 4 * 1024 * 1024

// MaxArenas bounds the registry the way the original implementation caps
// `mi_arenas[]` at 112 slots (arena.c comment, supplemented into
// SPEC_FULL.md §4.10).
const MaxArenas = 112

// MemKind tags where a region's bytes ultimately came from.
type MemKind int

const (
	// MemOS means the allocation bypassed arenas entirely.
	MemOS MemKind = iota
	// MemArena means the allocation was carved from a tracked arena.
	MemArena
	// MemStatic means the allocation lives in statically reserved memory
	// (used for the empty-page sentinel and similarly fixed structures).
	MemStatic
)

// MemID is the tagged allocation receipt threaded through segment
// creation and freeing (spec.md GLOSSARY "memid", §3.4).
type MemID struct {
	Kind                MemKind
	ArenaIdx            int
	BlockAt             int64
	Blocks              int64
	Prim                prim.MemID
	InitiallyCommitted  bool
	WasZero             bool
}

// Arena is one large contiguous OS reservation, partitioned into
// BlockSize-aligned blocks tracked by the five bitmaps of spec.md §3.2.
type Arena struct {
	id         int32
	start      unsafe.Pointer
	blockCount int64
	numaNode   int
	exclusive  bool
	isLarge    bool // pinned: large/huge OS pages, always committed
	memid      prim.MemID

	searchIdx   atomic.Int64
	purgeExpire atomic.Int64 // ms; 0 = no purge scheduled

	inuse     *bitset.Bitset
	dirty     *bitset.Bitset
	committed *bitset.Bitset // nil when isLarge (pinned arenas omit it)
	purge     *bitset.Bitset // nil when isLarge
	abandoned *bitset.Bitset
}

// ID returns the arena's 1-based identifier (0 means "no specific arena").
func (a *Arena) ID() int32 { return a.id }

// NUMANode reports the NUMA node this arena's memory is local to.
func (a *Arena) NUMANode() int { return a.numaNode }

// Exclusive reports whether only allocations naming this arena may use it.
func (a *Arena) Exclusive() bool { return a.exclusive }

// IsLarge reports whether this arena is backed by large/huge OS pages.
func (a *Arena) IsLarge() bool { return a.isLarge }

// BlockCount reports how many BlockSize blocks this arena reserves.
func (a *Arena) BlockCount() int64 { return a.blockCount }

// PointerAt returns the address of block `at` within this arena.
func (a *Arena) PointerAt(at int64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(a.start) + uintptr(at)*uintptr(BlockSize))
}

// Contains reports whether ptr falls within this arena's reservation.
func (a *Arena) Contains(ptr unsafe.Pointer) bool {
	start := uintptr(a.start)
	end := start + uintptr(a.blockCount)*uintptr(BlockSize)
	p := uintptr(ptr)
	return p >= start && p < end
}

// BlockIndexOf recovers the block offset of ptr within this arena. Used
// by the reverse lookup for large/huge segments (§4.3) whose size isn't
// a fixed power of two.
func (a *Arena) BlockIndexOf(ptr unsafe.Pointer) int64 {
	return int64((uintptr(ptr) - uintptr(a.start)) / uintptr(BlockSize))
}

func newArena(start unsafe.Pointer, blocks int64, numaNode int, exclusive, isLarge bool, memid prim.MemID) *Arena {
	a := &Arena{
		start:      start,
		blockCount: blocks,
		numaNode:   numaNode,
		exclusive:  exclusive,
		isLarge:    isLarge,
		memid:      memid,
		inuse:      bitset.New(blocks),
		dirty:      bitset.New(blocks),
		abandoned:  bitset.New(blocks),
	}
	if !isLarge {
		a.committed = bitset.New(blocks)
		a.purge = bitset.New(blocks)
	}
	return a
}

// checkInuseDisjointFromPurge is the §8.1 universal invariant, exposed
// for tests: inuse and purge bit sets never overlap.
func (a *Arena) checkInuseDisjointFromPurge() error {
	if a.purge == nil {
		return nil
	}
	for i := int64(0); i < a.blockCount; i++ {
		if a.inuse.IsSet(i) && a.purge.IsSet(i) {
			return fmt.Errorf("arena %d: block %d set in both inuse and purge", a.id, i)
		}
	}
	return nil
}

func warnf(format string, args ...interface{}) {
	mlog.Get().Warnf(format, args...)
}

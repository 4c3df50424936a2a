package arena

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/the-die/mimalloc/internal/bitset"
	"github.com/the-die/mimalloc/internal/mclock"
	"github.com/the-die/mimalloc/internal/mnuma"
	"github.com/the-die/mimalloc/internal/prim"
)

// Options configures a Registry, mirroring spec.md §6.3's
// `arena_reserve`, `arena_eager_commit` and `allow_large_os_pages`
// knobs plus the two escape hatches that bypass arena tracking
// entirely.
type Options struct {
	Prim                prim.Prim
	ReserveSize         int64 // bytes; 0 = derive from machine memory
	EagerCommit         int   // 0 = on-demand, 1 = always, 2 = on-demand-if-overcommit
	AllowLargeOSPages   bool
	DisallowArenaAlloc  bool
	DisallowOSAlloc     bool
	PurgeDelayMsecs     int64 // <0 never, 0 immediate, >0 delayed
	ArenaPurgeMult      int64
	NUMAAware           bool // false = skip the NUMA-local-preferred pass entirely
	Exclusive           bool // true = every lazily-reserved arena defaults to exclusive
}

// DefaultOptions returns the table 6.3 defaults.
func DefaultOptions() Options {
	return Options{
		Prim:              prim.Default,
		ReserveSize:       1 << 30, // 1 GiB
		EagerCommit:       0,
		AllowLargeOSPages: false,
		PurgeDelayMsecs:   10_000,
		ArenaPurgeMult:    10,
		NUMAAware:         true,
	}
}

// Registry is the process-wide arena table (`mi_arenas[]` /
// `arena_count` of spec.md §9 "Global mutable state"), accessed by all
// threads via atomics.
type Registry struct {
	opts Options

	mu       sync.Mutex // guards append-only growth of arenas
	arenas   atomic.Pointer[[]*Arena]
	created  atomic.Int64 // total arenas ever created, for the reserve-doubling schedule

	nonArenaAbandoned atomic.Int64
	purging           atomic.Bool
}

// NewRegistry creates an empty registry; arenas are created lazily on
// first allocation, per spec.md §3.3.
func NewRegistry(opts Options) *Registry {
	if opts.Prim == nil {
		opts.Prim = prim.Default
	}
	r := &Registry{opts: opts}
	empty := make([]*Arena, 0)
	r.arenas.Store(&empty)
	return r
}

func (r *Registry) snapshot() []*Arena {
	return *r.arenas.Load()
}

// Request describes the constraints of one segment-sized allocation
// request, spec.md §4.5 step 2.
type Request struct {
	Blocks     int64
	NUMANode   int
	ArenaID    int32 // 0 = no preference
	Exclusive  bool  // require ArenaID specifically
	AllowLarge bool
	Commit     bool
}

// Allocate implements spec.md §4.5: try existing arenas NUMA-local
// first, else reserve a new arena and retry once, else fall back
// directly to the OS.
func (r *Registry) Allocate(req Request) (unsafe.Pointer, MemID, error) {
	if !r.opts.DisallowArenaAlloc {
		if ptr, memid, ok := r.tryArenas(req); ok {
			return ptr, memid, nil
		}
		if !r.opts.DisallowOSAlloc {
			if a, err := r.reserveArena(req); err == nil {
				if ptr, memid, ok := r.tryArenaOnce(a, req); ok {
					return ptr, memid, nil
				}
			}
			// Another goroutine may have grown the registry concurrently;
			// give the freshly widened set one more pass before falling
			// back to the OS.
			if ptr, memid, ok := r.tryArenas(req); ok {
				return ptr, memid, nil
			}
		}
	}
	if r.opts.DisallowOSAlloc {
		return nil, MemID{}, fmt.Errorf("arena: no arena available and OS allocation disallowed")
	}
	return r.allocateFromOS(req)
}

func (r *Registry) tryArenas(req Request) (unsafe.Pointer, MemID, bool) {
	arenas := r.snapshot()
	// NUMA-local pass first, then any arena, matching §8.4 scenario 5.
	// With NUMAAware disabled, skip straight to the any-arena pass.
	passes := []bool{true, false}
	if !r.opts.NUMAAware {
		passes = []bool{false}
	}
	for _, preferLocal := range passes {
		for _, a := range arenas {
			if preferLocal && a.numaNode != req.NUMANode {
				continue
			}
			if !req.AllowLarge && a.isLarge {
				continue
			}
			if req.Exclusive && a.id != req.ArenaID {
				continue
			}
			if !req.Exclusive && a.exclusive {
				continue
			}
			if ptr, memid, ok := r.tryArenaOnce(a, req); ok {
				return ptr, memid, true
			}
		}
	}
	return nil, MemID{}, false
}

func (r *Registry) tryArenaOnce(a *Arena, req Request) (unsafe.Pointer, MemID, bool) {
	hint := a.searchIdx.Load() / bitset.FieldBits
	at, ok := a.inuse.TryFindAndClaimAcross(req.Blocks, hint)
	if !ok {
		return nil, MemID{}, false
	}
	a.searchIdx.Store((at + req.Blocks) % a.blockCount)

	if a.purge != nil {
		a.purge.ClearAcross(req.Blocks, at)
	}

	// The arena's anonymous backing reads zero until first written; a
	// clear dirty range means this claim is handing out fresh memory.
	wasZero := a.dirty.IsClearAcross(req.Blocks, at)
	a.dirty.SetAcross(req.Blocks, at)

	initiallyCommitted := a.isLarge
	if a.committed != nil {
		if !a.committed.IsClaimedAcross(req.Blocks, at) {
			ptr := a.PointerAt(at)
			size := uintptr(req.Blocks) * uintptr(BlockSize)
			ok, _ := r.opts.Prim.Commit(ptr, size)
			if ok {
				a.committed.SetAcross(req.Blocks, at)
				initiallyCommitted = true
			} else {
				warnf("arena %d: commit failed for blocks [%d,%d); handing out uncommitted range", a.id, at, at+req.Blocks)
			}
		} else {
			initiallyCommitted = true
		}
	}

	memid := MemID{
		Kind:               MemArena,
		ArenaIdx:           int(a.id) - 1,
		BlockAt:            at,
		Blocks:             req.Blocks,
		Prim:               a.memid,
		InitiallyCommitted: initiallyCommitted,
		WasZero:            wasZero,
	}
	return a.PointerAt(at), memid, true
}

// reserveArena grows the registry with a freshly OS-reserved arena,
// sized per spec.md §3.3 (default 1 GiB, doubling every 8 creations, at
// most 7 times; see nextReserveSize).
func (r *Registry) reserveArena(req Request) (*Arena, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int64(len(r.snapshot())) >= MaxArenas {
		return nil, fmt.Errorf("arena: registry exhausted (%d arenas)", MaxArenas)
	}

	size := r.nextReserveSize()
	if need := req.Blocks * BlockSize; need > size {
		size = need
	}
	align := uintptr(BlockSize)
	commit := r.opts.EagerCommit == 1
	ptr, pmemid, err := r.opts.Prim.AllocAligned(uintptr(size), align, commit, req.AllowLarge && r.opts.AllowLargeOSPages)
	if err != nil {
		return nil, err
	}

	blocks := size / BlockSize
	exclusive := req.Exclusive || r.opts.Exclusive
	a := newArena(ptr, blocks, req.NUMANode, exclusive, pmemid.IsLarge, pmemid)
	r.created.Add(1)

	for {
		old := r.arenas.Load()
		next := make([]*Arena, len(*old)+1)
		copy(next, *old)
		a.id = int32(len(next))
		next[len(next)-1] = a
		if r.arenas.CompareAndSwap(old, &next) {
			break
		}
	}
	return a, nil
}

// nextReserveSize implements the doubling-every-8-creations schedule of
// spec.md §3.3, capped at maxDoublings (128 times the base size), then
// rounded up to a whole number of BlockSize blocks.
func (r *Registry) nextReserveSize() int64 {
	base := r.opts.ReserveSize
	if base <= 0 {
		info := mnuma.QueryProcessInfo()
		if info.TotalMemory > 0 {
			base = int64(info.TotalMemory / 8)
		} else {
			base = 1 << 30
		}
	}
	doublings := r.created.Load() / 8
	const maxDoublings = 7 // 1 GiB -> 128 GiB, well past the 112-arena cap in practice
	if doublings > maxDoublings {
		doublings = maxDoublings
	}
	size := base << uint(doublings)
	if rem := size % BlockSize; rem != 0 {
		size += BlockSize - rem
	}
	return size
}

func (r *Registry) allocateFromOS(req Request) (unsafe.Pointer, MemID, error) {
	size := uintptr(req.Blocks) * uintptr(BlockSize)
	ptr, pmemid, err := r.opts.Prim.AllocAligned(size, uintptr(BlockSize), req.Commit, req.AllowLarge)
	if err != nil {
		return nil, MemID{}, err
	}
	return ptr, MemID{
		Kind:               MemOS,
		Blocks:             req.Blocks,
		Prim:               pmemid,
		InitiallyCommitted: req.Commit || pmemid.IsLarge,
		WasZero:            true,
	}, nil
}

// Free releases a claimed block range back to its arena (MemArena) or
// to the OS directly (MemOS), scheduling delayed decommit per §4.6.
func (r *Registry) Free(ptr unsafe.Pointer, memid MemID, nowMsecs int64) error {
	switch memid.Kind {
	case MemOS:
		return r.opts.Prim.Free(ptr, uintptr(memid.Blocks)*uintptr(BlockSize), memid.Prim)
	case MemArena:
		arenas := r.snapshot()
		if memid.ArenaIdx < 0 || memid.ArenaIdx >= len(arenas) {
			return fmt.Errorf("arena: invalid arena index %d", memid.ArenaIdx)
		}
		a := arenas[memid.ArenaIdx]
		if !a.inuse.IsClaimedAcross(memid.Blocks, memid.BlockAt) {
			return fmt.Errorf("arena: double free of blocks [%d,%d) in arena %d", memid.BlockAt, memid.BlockAt+memid.Blocks, a.id)
		}
		a.inuse.UnclaimAcross(memid.Blocks, memid.BlockAt)
		r.schedulePurge(a, memid.BlockAt, memid.Blocks, nowMsecs)
		return nil
	default:
		return nil
	}
}

// ReserveHugeOSPages implements the supplemented feature of SPEC_FULL.md
// §4.10: eagerly reserve a dedicated, pinned arena of `pages` huge OS
// pages on numaNode, bounded by a wall-clock timeout measured against
// clock (mclock.Default in production, a fake in tests). Returns early
// with an error if the timeout elapses before the reservation completes
// rather than leaving a partial arena half-registered.
func (r *Registry) ReserveHugeOSPages(pages int, numaNode int, timeout time.Duration) error {
	return r.reserveHugeOSPages(pages, numaNode, timeout, mclock.Default)
}

func (r *Registry) reserveHugeOSPages(pages int, numaNode int, timeout time.Duration, clock mclock.Clock) error {
	deadline := clock.NowMsecs() + timeout.Milliseconds()
	size := int64(pages) * hugePageSize
	blocks := size / BlockSize
	if rem := size % BlockSize; rem != 0 {
		blocks++
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if clock.NowMsecs() > deadline {
		return fmt.Errorf("arena: reserve_huge_os_pages timed out before reservation started")
	}
	if int64(len(r.snapshot())) >= MaxArenas {
		return fmt.Errorf("arena: registry exhausted (%d arenas)", MaxArenas)
	}

	reserveSize := blocks * BlockSize
	ptr, pmemid, err := r.opts.Prim.AllocAligned(uintptr(reserveSize), uintptr(BlockSize), true, true)
	if err != nil {
		return fmt.Errorf("arena: reserve_huge_os_pages: %w", err)
	}
	if clock.NowMsecs() > deadline {
		r.opts.Prim.Free(ptr, uintptr(reserveSize), pmemid)
		return fmt.Errorf("arena: reserve_huge_os_pages timed out after reservation")
	}

	a := newArena(ptr, blocks, numaNode, true, pmemid.IsLarge, pmemid)
	r.created.Add(1)
	for {
		old := r.arenas.Load()
		next := make([]*Arena, len(*old)+1)
		copy(next, *old)
		a.id = int32(len(next))
		next[len(next)-1] = a
		if r.arenas.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// hugePageSize matches the common 2 MiB huge page size on Linux/x86-64;
// reserve_huge_os_pages rounds its page count up to whole arena blocks
// regardless, so this is only a sizing hint, not a hard OS contract.
const hugePageSize = 2 * 1024 * 1024

// AbandonedCount implements spec.md §8.1:
// abandoned_count == popcount(⋃ arena.abandoned) + non_arena_abandoned_count.
func (r *Registry) AbandonedCount() int64 {
	total := r.nonArenaAbandoned.Load()
	for _, a := range r.snapshot() {
		total += a.abandoned.PopCount()
	}
	return total
}

// IncNonArenaAbandoned/DecNonArenaAbandoned track OS-direct (non-arena)
// abandoned segments, reclaimed by a CAS on their owner-thread-id alone
// (spec.md §4.7 "Non-arena segments").
func (r *Registry) IncNonArenaAbandoned() { r.nonArenaAbandoned.Add(1) }
func (r *Registry) DecNonArenaAbandoned() { r.nonArenaAbandoned.Add(-1) }

// Arenas returns a snapshot of the current arena list, for diagnostics
// and tests.
func (r *Registry) Arenas() []*Arena {
	return r.snapshot()
}

// CheckInvariants re-validates the §8.1 universal invariants across
// every arena; used by tests.
func (r *Registry) CheckInvariants() error {
	for _, a := range r.snapshot() {
		if err := a.checkInuseDisjointFromPurge(); err != nil {
			return err
		}
	}
	return nil
}

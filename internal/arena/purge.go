package arena

import (
	"github.com/the-die/mimalloc/internal/mclock"
)

// schedulePurge implements spec.md §4.6 steps 1-2: mark the freed run's
// purge bits and (re)compute its expiry, extending an already-scheduled
// expiry by delay/10 rather than resetting it, so a hot free/alloc/free
// cycle on the same range can't starve the purge schedule indefinitely.
func (r *Registry) schedulePurge(a *Arena, at, blocks, nowMsecs int64) {
	if a.purge == nil || r.opts.PurgeDelayMsecs < 0 {
		return // pinned arena, or purging disabled
	}
	a.purge.SetAcross(blocks, at)

	delay := r.opts.PurgeDelayMsecs * r.opts.ArenaPurgeMult
	if delay == 0 {
		r.purgeRange(a, at, blocks)
		return
	}
	for {
		old := a.purgeExpire.Load()
		var next int64
		if old == 0 {
			next = nowMsecs + delay
		} else {
			next = old + delay/10
		}
		if a.purgeExpire.CompareAndSwap(old, next) {
			break
		}
	}
}

// TryPurgeAll implements spec.md §4.6 step 3-4: walk arenas whose purge
// deadline has passed and decommit their purge-marked ranges. Only one
// goroutine purges at a time; a concurrent caller returns immediately
// having rescheduled nothing, consistent with "uncompleted work is
// rescheduled" (the next caller to observe an expired deadline retries).
func (r *Registry) TryPurgeAll(nowMsecs int64) {
	if !r.purging.CompareAndSwap(false, true) {
		return
	}
	defer r.purging.Store(false)

	for _, a := range r.snapshot() {
		if a.purge == nil {
			continue
		}
		expire := a.purgeExpire.Load()
		if expire == 0 || expire > nowMsecs {
			continue
		}
		a.purgeExpire.Store(0)
		r.purgeArena(a)
	}
}

// purgeArena scans an arena's purge bitmap for contiguous runs and
// decommits each one it can claim from `inuse`.
func (r *Registry) purgeArena(a *Arena) {
	fields := a.purge.FieldCount()
	for f := int64(0); f < fields; f++ {
		base := f * 64
		remaining := a.blockCount - base
		if remaining <= 0 {
			break
		}
		width := int64(64)
		if remaining < width {
			width = remaining
		}
		r.purgeFieldRuns(a, base, width)
	}
}

func (r *Registry) purgeFieldRuns(a *Arena, base, width int64) {
	run := int64(0)
	for i := int64(0); i < width; i++ {
		pos := base + i
		if a.purge.IsSet(pos) {
			run++
			continue
		}
		if run > 0 {
			r.purgeRange(a, pos-run, run)
		}
		run = 0
	}
	if run > 0 {
		r.purgeRange(a, base+width-run, run)
	}
}

// purgeRange attempts to decommit [at, at+n) after re-claiming it in
// inuse, so a concurrent allocator racing to reuse the same range always
// wins and the purge is simply abandoned for that sub-range.
func (r *Registry) purgeRange(a *Arena, at, n int64) {
	if !a.inuse.ClaimAcross(n, at) {
		return // currently allocated again; leave its purge bit alone
	}
	ptr := a.PointerAt(at)
	size := uintptr(n) * uintptr(BlockSize)
	if needsRecommit := r.opts.Prim.Purge(ptr, size); needsRecommit {
		if a.committed != nil {
			a.committed.ClearAcross(n, at)
		}
	}
	a.purge.ClearAcross(n, at)
	a.inuse.UnclaimAcross(n, at)
}

// NowMsecs is a small convenience so callers outside this package don't
// need to import internal/mclock directly just to drive TryPurgeAll.
func NowMsecs() int64 { return mclock.Default.NowMsecs() }

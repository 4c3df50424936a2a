package mimalloc

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/the-die/mimalloc/internal/arena"
)

// Stats is a point-in-time snapshot of one Engine's allocator-wide
// counters (spec.md §8.1's testable universal invariants, made visible
// for diagnostics rather than just asserted in tests).
type Stats struct {
	ArenaCount      int
	AbandonedCount  int64
	ReservedBytes   int64
	NonArenaPending int64
}

// Snapshot collects e's current Stats.
func (e *Engine) Snapshot() Stats {
	arenas := e.registry.Arenas()
	var reserved int64
	for _, a := range arenas {
		reserved += a.BlockCount() * arena.BlockSize
	}
	return Stats{
		ArenaCount:     len(arenas),
		AbandonedCount: e.registry.AbandonedCount(),
		ReservedBytes:  reserved,
	}
}

// String renders s with human-readable byte sizes (go-humanize), in the
// same spirit as the teacher's own diagnostic formatting.
func (s Stats) String() string {
	return fmt.Sprintf(
		"arenas=%d abandoned=%d reserved=%s",
		s.ArenaCount, s.AbandonedCount, humanize.Bytes(uint64(s.ReservedBytes)),
	)
}

// Purge decommits every arena range past its purge deadline right now,
// instead of waiting for the delayed schedule (spec.md §4.6 step 4,
// exposed for diagnostics/operator-triggered purges via cmd/mistat).
func (e *Engine) Purge(nowMsecs int64) {
	e.registry.TryPurgeAll(nowMsecs)
}

// AbandonedCount is a convenience passthrough of spec.md §8.1's
// abandoned_count invariant.
func (e *Engine) AbandonedCount() int64 {
	return e.registry.AbandonedCount()
}

// CheckInvariants re-validates every arena's §8.1 universal invariants,
// for tests and operator diagnostics alike.
func (e *Engine) CheckInvariants() error {
	return e.registry.CheckInvariants()
}

package arena

import "math/rand"

// MarkAbandoned flags the block `segStartBit` in arena `arenaIdx` as the
// start of an abandoned segment (spec.md §4.7), for reclamation by any
// other thread's generic routine.
func (r *Registry) MarkAbandoned(arenaIdx int, segStartBit int64) {
	arenas := r.snapshot()
	if arenaIdx < 0 || arenaIdx >= len(arenas) {
		return
	}
	arenas[arenaIdx].abandoned.SetAcross(1, segStartBit)
}

// ScanAbandoned implements spec.md §4.7: starting from a random arena
// index, scan the abandoned bitmaps field by field and atomically claim
// the first set bit found, returning the arena index and block offset
// of the segment to adopt. The random starting point only guarantees
// progress in expectation (spec.md §9 Open Questions), not worst-case
// latency.
func (r *Registry) ScanAbandoned(rng *rand.Rand) (arenaIdx int, at int64, ok bool) {
	arenas := r.snapshot()
	if len(arenas) == 0 {
		return 0, 0, false
	}
	start := rng.Intn(len(arenas))
	for i := 0; i < len(arenas); i++ {
		idx := (start + i) % len(arenas)
		a := arenas[idx]
		if pos, found := a.abandoned.ClaimFirstSet(); found {
			return idx, pos, true
		}
	}
	return 0, 0, false
}
